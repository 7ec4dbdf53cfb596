package sqlstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/registry/snapshot"
	"github.com/klauspost/compress/gzip"
)

// dumpLine is one row of the JSONL export, tagged with its source table.
type dumpLine struct {
	Table string          `json:"table"`
	Row   json.RawMessage `json:"row"`
}

const (
	tableMemories = "memories"
	tableUndo     = "undo_entries"

	dumpBatch = 500
)

// Snapshot exports the memories and undo_entries tables as JSON lines.
func (s *Store) Snapshot(ctx context.Context, dir string, compress bool) (*snapshot.Info, error) {
	name := "structured.jsonl"
	if compress {
		name += ".gz"
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore snapshot: create %s: %w", path, err)
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

	if err := dumpTable(ctx, s, tableMemories, enc); err != nil {
		return nil, err
	}
	if err := dumpTable(ctx, s, tableUndo, enc); err != nil {
		return nil, err
	}

	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("sqlstore snapshot: flush: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return nil, fmt.Errorf("sqlstore snapshot: close gzip: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sqlstore snapshot: sync: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &snapshot.Info{Path: name, SizeBytes: st.Size(), Compressed: compress}, nil
}

func dumpTable(ctx context.Context, s *Store, table string, enc *json.Encoder) error {
	offset := 0
	for {
		var batch []json.RawMessage
		switch table {
		case tableMemories:
			var recs []model.MemoryRecord
			if err := s.db.WithContext(ctx).Order("id").Limit(dumpBatch).Offset(offset).Find(&recs).Error; err != nil {
				return fmt.Errorf("sqlstore snapshot: dump %s: %w", table, err)
			}
			for _, r := range recs {
				data, err := json.Marshal(r)
				if err != nil {
					return err
				}
				batch = append(batch, data)
			}
		case tableUndo:
			var entries []model.UndoEntry
			if err := s.db.WithContext(ctx).Order("undo_id").Limit(dumpBatch).Offset(offset).Find(&entries).Error; err != nil {
				return fmt.Errorf("sqlstore snapshot: dump %s: %w", table, err)
			}
			for _, e := range entries {
				data, err := json.Marshal(e)
				if err != nil {
					return err
				}
				batch = append(batch, data)
			}
		}
		for _, row := range batch {
			if err := enc.Encode(dumpLine{Table: table, Row: row}); err != nil {
				return fmt.Errorf("sqlstore snapshot: encode: %w", err)
			}
		}
		if len(batch) < dumpBatch {
			return nil
		}
		offset += dumpBatch
	}
}

// Restore truncates both tables and re-inserts every row from the dump.
func (s *Store) Restore(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("sqlstore restore: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("sqlstore restore: gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&model.MemoryRecord{}).Error; err != nil {
		return fmt.Errorf("sqlstore restore: clear memories: %w", err)
	}
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&model.UndoEntry{}).Error; err != nil {
		return fmt.Errorf("sqlstore restore: clear undo entries: %w", err)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var line dumpLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return fmt.Errorf("sqlstore restore: parse line: %w", err)
		}
		switch line.Table {
		case tableMemories:
			var rec model.MemoryRecord
			if err := json.Unmarshal(line.Row, &rec); err != nil {
				return fmt.Errorf("sqlstore restore: parse memory row: %w", err)
			}
			rec.SummarizedFlag = rec.Summarized()
			if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
				return fmt.Errorf("sqlstore restore: insert memory %s: %w", rec.ID, err)
			}
		case tableUndo:
			var entry model.UndoEntry
			if err := json.Unmarshal(line.Row, &entry); err != nil {
				return fmt.Errorf("sqlstore restore: parse undo row: %w", err)
			}
			if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
				return fmt.Errorf("sqlstore restore: insert undo entry %s: %w", entry.UndoID, err)
			}
		default:
			return fmt.Errorf("sqlstore restore: unknown table %q", line.Table)
		}
	}
	return sc.Err()
}
