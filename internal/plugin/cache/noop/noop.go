package noop

import (
	"context"
	"time"

	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/registry/cache"
	"github.com/chirino/memory-fabric/internal/registry/snapshot"
	"github.com/google/uuid"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.RecordCache, error) {
			return &noopRecordCache{}, nil
		},
	})
}

type noopRecordCache struct{}

func (n *noopRecordCache) Available() bool { return false }
func (n *noopRecordCache) Name() string    { return "none" }
func (n *noopRecordCache) Get(_ context.Context, _ string, _ uuid.UUID) (*model.MemoryRecord, error) {
	return nil, nil
}
func (n *noopRecordCache) Set(_ context.Context, _ *model.MemoryRecord, _ time.Duration) error {
	return nil
}
func (n *noopRecordCache) Remove(_ context.Context, _ string, _ uuid.UUID) error { return nil }

func (n *noopRecordCache) Snapshot(_ context.Context, _ string, _ bool) (*snapshot.Info, error) {
	return nil, nil
}
func (n *noopRecordCache) Restore(_ context.Context, _ string) error { return nil }
func (n *noopRecordCache) Ping(_ context.Context) error              { return nil }
func (n *noopRecordCache) Count(_ context.Context) (int64, error)    { return 0, nil }

var _ cache.RecordCache = (*noopRecordCache)(nil)
