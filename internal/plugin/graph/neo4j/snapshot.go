package neo4j

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
	registrygraph "github.com/chirino/memory-fabric/internal/registry/graph"
	"github.com/chirino/memory-fabric/internal/registry/snapshot"
	"github.com/klauspost/compress/gzip"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type graphLine struct {
	Kind     string                  `json:"kind"` // "entity" or "relation"
	Entity   *registrygraph.Entity   `json:"entity,omitempty"`
	Relation *registrygraph.Relation `json:"relation,omitempty"`
}

// Snapshot exports every Entity node and RELATED_TO edge as JSON lines.
func (s *Store) Snapshot(ctx context.Context, dir string, compress bool) (*snapshot.Info, error) {
	name := "graph.jsonl"
	if compress {
		name += ".gz"
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("neo4j snapshot: create %s: %w", path, err)
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

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err = session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (n:Entity)
			RETURN n.name, n.category, n.agentId, n.lastSeen`, nil)
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			e := entityFromValues(res.Record().Values)
			if err := enc.Encode(graphLine{Kind: "entity", Entity: &e}); err != nil {
				return nil, err
			}
		}
		if err := res.Err(); err != nil {
			return nil, err
		}

		res, err = tx.Run(ctx, `
			MATCH (a:Entity)-[r:RELATED_TO]->(b:Entity)
			RETURN a.name, b.name, r.agentId, r.memoryType, r.confidence, r.createdAt`, nil)
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			values := res.Record().Values
			rel := registrygraph.Relation{}
			rel.From, _ = values[0].(string)
			rel.To, _ = values[1].(string)
			rel.AgentID, _ = values[2].(string)
			if mt, ok := values[3].(string); ok {
				rel.MemoryType = model.MemoryType(mt)
			}
			rel.Confidence, _ = values[4].(float64)
			if ts, ok := values[5].(string); ok {
				rel.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
			}
			if err := enc.Encode(graphLine{Kind: "relation", Relation: &rel}); err != nil {
				return nil, err
			}
		}
		return nil, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j snapshot: export: %w", err)
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

// Restore merges every dumped entity and relation back. Entities are merged
// before relations so edge MERGEs never create bare nodes with missing fields.
func (s *Store) Restore(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("neo4j restore: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("neo4j restore: gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var relations []registrygraph.Relation
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var line graphLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return fmt.Errorf("neo4j restore: parse line: %w", err)
		}
		switch line.Kind {
		case "entity":
			if line.Entity == nil {
				return fmt.Errorf("neo4j restore: entity line without entity")
			}
			if err := s.MergeEntity(ctx, *line.Entity); err != nil {
				return fmt.Errorf("neo4j restore: merge entity %s: %w", line.Entity.Name, err)
			}
		case "relation":
			if line.Relation == nil {
				return fmt.Errorf("neo4j restore: relation line without relation")
			}
			relations = append(relations, *line.Relation)
		default:
			return fmt.Errorf("neo4j restore: unknown line kind %q", line.Kind)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	for _, rel := range relations {
		if err := s.MergeRelation(ctx, rel); err != nil {
			return fmt.Errorf("neo4j restore: merge relation %s->%s: %w", rel.From, rel.To, err)
		}
	}
	return nil
}
