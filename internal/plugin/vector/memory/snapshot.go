package memory

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
)

type pointLine struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Vector     []float32 `json:"vector"`
	AgentID    string    `json:"agentId"`
	MemoryType string    `json:"memoryType"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Snapshot dumps every collection as JSON lines.
func (s *Store) Snapshot(ctx context.Context, dir string, compress bool) (*snapshot.Info, error) {
	name := "vector.jsonl"
	if compress {
		name += ".gz"
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("memory vector snapshot: %w", err)
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

	s.mu.RLock()
	for collection, coll := range s.collections {
		for id, pt := range coll {
			line := pointLine{
				Collection: collection,
				ID:         id.String(),
				Vector:     pt.req.Embedding,
				AgentID:    pt.req.AgentID,
				MemoryType: string(pt.req.MemoryType),
				CreatedAt:  pt.req.CreatedAt,
			}
			if err := enc.Encode(line); err != nil {
				s.mu.RUnlock()
				return nil, err
			}
		}
	}
	s.mu.RUnlock()

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

// Restore replaces all collections with the dump's contents.
func (s *Store) Restore(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("memory vector restore: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("memory vector restore: gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	restored := map[string]map[uuid.UUID]point{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var line pointLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return fmt.Errorf("memory vector restore: parse line: %w", err)
		}
		id, err := uuid.Parse(line.ID)
		if err != nil {
			return fmt.Errorf("memory vector restore: point id %q: %w", line.ID, err)
		}
		coll, ok := restored[line.Collection]
		if !ok {
			coll = map[uuid.UUID]point{}
			restored[line.Collection] = coll
		}
		coll[id] = point{req: registryvector.UpsertRequest{
			ID:         id,
			Embedding:  line.Vector,
			AgentID:    line.AgentID,
			MemoryType: model.MemoryType(line.MemoryType),
			CreatedAt:  line.CreatedAt,
		}}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.collections = restored
	s.mu.Unlock()
	return nil
}
