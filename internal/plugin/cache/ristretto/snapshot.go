package ristretto

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

	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/registry/snapshot"
	"github.com/klauspost/compress/gzip"
)

type cacheLine struct {
	Key    string              `json:"key"`
	Record *model.MemoryRecord `json:"record"`
}

// Snapshot dumps the resident records as JSON lines. Remaining TTLs are not
// recoverable from ristretto, so restored entries get the default lifetime.
func (c *Cache) Snapshot(ctx context.Context, dir string, compress bool) (*snapshot.Info, error) {
	name := "cache.jsonl"
	if compress {
		name += ".gz"
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("ristretto cache snapshot: %w", err)
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

	live := c.live()
	keys := make([]string, 0, len(live))
	for k := range live {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := enc.Encode(cacheLine{Key: k, Record: live[k]}); err != nil {
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

// Restore re-inserts dumped records with the default TTL.
func (c *Cache) Restore(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ristretto cache restore: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("ristretto cache restore: gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var line cacheLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return fmt.Errorf("ristretto cache restore: parse line: %w", err)
		}
		if line.Record == nil {
			continue
		}
		if err := c.Set(ctx, line.Record, 0); err != nil {
			return err
		}
	}
	return sc.Err()
}
