package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	registrygraph "github.com/chirino/memory-fabric/internal/registry/graph"
	"github.com/chirino/memory-fabric/internal/registry/snapshot"
	"github.com/klauspost/compress/gzip"
)

type graphLine struct {
	Kind     string                  `json:"kind"`
	Entity   *registrygraph.Entity   `json:"entity,omitempty"`
	Relation *registrygraph.Relation `json:"relation,omitempty"`
}

// Snapshot dumps entities then relations as JSON lines.
func (s *Store) Snapshot(ctx context.Context, dir string, compress bool) (*snapshot.Info, error) {
	name := "graph.jsonl"
	if compress {
		name += ".gz"
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("memory graph snapshot: %w", err)
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
	names := make([]string, 0, len(s.entities))
	for n := range s.entities {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		e := s.entities[n]
		if err := enc.Encode(graphLine{Kind: "entity", Entity: &e}); err != nil {
			s.mu.RUnlock()
			return nil, err
		}
	}
	s.mu.RUnlock()

	for _, r := range s.Relations() {
		rel := r
		if err := enc.Encode(graphLine{Kind: "relation", Relation: &rel}); err != nil {
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

// Restore replaces the graph with the dump's contents.
func (s *Store) Restore(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("memory graph restore: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("memory graph restore: gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	entities := map[string]registrygraph.Entity{}
	relations := map[relationKey]registrygraph.Relation{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var line graphLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return fmt.Errorf("memory graph restore: parse line: %w", err)
		}
		switch line.Kind {
		case "entity":
			if line.Entity != nil {
				entities[line.Entity.Name] = *line.Entity
			}
		case "relation":
			if line.Relation != nil {
				relations[relationKey{from: line.Relation.From, to: line.Relation.To}] = *line.Relation
			}
		default:
			return fmt.Errorf("memory graph restore: unknown line kind %q", line.Kind)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.entities = entities
	s.relations = relations
	s.mu.Unlock()
	return nil
}
