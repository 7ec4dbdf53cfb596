package snapshot

import "context"

// Info describes one store snapshot written into a backup directory.
type Info struct {
	// Path is relative to the backup directory root.
	Path       string `json:"path"`
	SizeBytes  int64  `json:"sizeBytes"`
	Compressed bool   `json:"compressed"`
}

// Snapshotter is implemented by every backend that participates in
// backup/verify/restore. Snapshot writes a self-contained dump under dir and
// Restore replaces the store's contents from a previously written dump.
// Implementations own their dump format; the orchestrator only tracks files.
type Snapshotter interface {
	// Snapshot writes the store's contents under dir and returns what was written.
	Snapshot(ctx context.Context, dir string, compress bool) (*Info, error)
	// Restore replaces the store contents from the snapshot file at path.
	Restore(ctx context.Context, path string) error
	// Ping checks connectivity. Used by post-restore validation.
	Ping(ctx context.Context) error
	// Count returns the number of records/points/nodes/keys held.
	Count(ctx context.Context) (int64, error)
}
