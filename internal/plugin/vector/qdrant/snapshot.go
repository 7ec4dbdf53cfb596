package qdrant

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/registry/snapshot"
	registryvector "github.com/chirino/memory-fabric/internal/registry/vector"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	pb "github.com/qdrant/go-client/qdrant"
)

// pointLine is one exported point in the JSONL dump.
type pointLine struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Vector     []float32 `json:"vector"`
	AgentID    string    `json:"agentId"`
	MemoryType string    `json:"memoryType"`
	CreatedAt  string    `json:"createdAt"`
}

const scrollBatch = 256

// Snapshot scrolls every collection and dumps points as JSON lines. Qdrant's
// native snapshot API needs filesystem access on the server side; a scroll
// export keeps backups portable across deployments.
func (s *Store) Snapshot(ctx context.Context, dir string, compress bool) (*snapshot.Info, error) {
	name := "vector.jsonl"
	if compress {
		name += ".gz"
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("qdrant snapshot: create %s: %w", path, err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(f)
		w = gz
	}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	names, err := s.listCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("qdrant snapshot: list collections: %w", err)
	}
	for _, collection := range names {
		if err := s.dumpCollection(ctx, collection, enc); err != nil {
			return nil, err
		}
	}

	if err := bw.Flush(); err != nil {
		return nil, err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return nil, err
		}
	}
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &snapshot.Info{Path: name, SizeBytes: st.Size(), Compressed: compress}, nil
}

func (s *Store) dumpCollection(ctx context.Context, collection string, enc *json.Encoder) error {
	var offset *pb.PointId
	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: collection,
			Limit:          newUint32(scrollBatch),
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
		if err != nil {
			return fmt.Errorf("qdrant snapshot: scroll %s: %w", collection, err)
		}
		for _, pt := range resp.GetResult() {
			line := pointLine{
				Collection: collection,
				ID:         pt.GetId().GetUuid(),
				Vector:     pt.GetVectors().GetVector().GetData(),
			}
			payload := pt.GetPayload()
			if v, ok := payload["agent_id"]; ok {
				line.AgentID = v.GetStringValue()
			}
			if v, ok := payload["memory_type"]; ok {
				line.MemoryType = v.GetStringValue()
			}
			if v, ok := payload["created_at"]; ok {
				line.CreatedAt = v.GetStringValue()
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return nil
		}
	}
}

// Restore re-upserts every dumped point, recreating collections as needed.
// Existing points with the same ids are overwritten; points written after the
// backup are not removed (primary-authoritative model, the structured store
// drives reconciliation).
func (s *Store) Restore(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("qdrant restore: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("qdrant restore: gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	batch := map[string][]registryvector.UpsertRequest{}
	flush := func(collection string) error {
		reqs := batch[collection]
		if len(reqs) == 0 {
			return nil
		}
		if err := s.Upsert(ctx, collection, reqs); err != nil {
			return fmt.Errorf("qdrant restore: upsert %s: %w", collection, err)
		}
		batch[collection] = batch[collection][:0]
		return nil
	}
	for sc.Scan() {
		var line pointLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return fmt.Errorf("qdrant restore: parse line: %w", err)
		}
		id, err := uuid.Parse(line.ID)
		if err != nil {
			return fmt.Errorf("qdrant restore: point id %q: %w", line.ID, err)
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, line.CreatedAt)
		batch[line.Collection] = append(batch[line.Collection], registryvector.UpsertRequest{
			ID:         id,
			Embedding:  line.Vector,
			AgentID:    line.AgentID,
			MemoryType: model.MemoryType(line.MemoryType),
			CreatedAt:  createdAt,
		})
		if len(batch[line.Collection]) >= scrollBatch {
			if err := flush(line.Collection); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	for collection := range batch {
		if err := flush(collection); err != nil {
			return err
		}
	}
	return nil
}

func newUint32(v uint32) *uint32 {
	return &v
}
