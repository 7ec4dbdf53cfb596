package redis

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

	"github.com/chirino/memory-fabric/internal/registry/snapshot"
	"github.com/klauspost/compress/gzip"
	goredis "github.com/redis/go-redis/v9"
)

type cacheLine struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	// TTLMillis is the remaining lifetime at dump time, 0 when no expiry was set.
	TTLMillis int64 `json:"ttlMillis"`
}

// Snapshot scans all memory record keys and dumps them as JSON lines.
func (c *recordCache) Snapshot(ctx context.Context, dir string, compress bool) (*snapshot.Info, error) {
	name := "cache.jsonl"
	if compress {
		name += ".gz"
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("redis cache snapshot: %w", err)
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

	iter := c.client.Scan(ctx, 0, "memory:*", 256).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := c.client.Get(ctx, key).Bytes()
		if err == goredis.Nil {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("redis cache snapshot: get %s: %w", key, err)
		}
		ttl, err := c.client.PTTL(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("redis cache snapshot: pttl %s: %w", key, err)
		}
		line := cacheLine{Key: key, Value: data}
		if ttl > 0 {
			line.TTLMillis = ttl.Milliseconds()
		}
		if err := enc.Encode(line); err != nil {
			return nil, err
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
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

// Restore re-inserts dumped keys. Entries whose TTL had already elapsed at
// dump time were never written, so every line carries a usable lifetime.
func (c *recordCache) Restore(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("redis cache restore: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("redis cache restore: gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var line cacheLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return fmt.Errorf("redis cache restore: parse line: %w", err)
		}
		ttl := c.ttl
		if line.TTLMillis > 0 {
			ttl = time.Duration(line.TTLMillis) * time.Millisecond
		}
		if err := c.client.Set(ctx, line.Key, []byte(line.Value), ttl).Err(); err != nil {
			return fmt.Errorf("redis cache restore: set %s: %w", line.Key, err)
		}
	}
	return sc.Err()
}
