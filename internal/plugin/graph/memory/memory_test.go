package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	registrygraph "github.com/chirino/memory-fabric/internal/registry/graph"
	"github.com/stretchr/testify/require"
)

func TestMergeEntityIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	e := registrygraph.Entity{Name: "postgres", Category: "infrastructure", AgentID: "coder", LastSeen: time.Now()}
	require.NoError(t, s.MergeEntity(ctx, e))
	e.LastSeen = e.LastSeen.Add(time.Hour)
	require.NoError(t, s.MergeEntity(ctx, e))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := s.EntitiesForAgent(ctx, "coder")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, e.LastSeen, got[0].LastSeen)
}

func TestMergeRelationCreatesMissingEndpoints(t *testing.T) {
	ctx := context.Background()
	s := New()

	r := registrygraph.Relation{
		From:       "service-a",
		To:         "service-b",
		AgentID:    "coder",
		MemoryType: "semantic",
		Confidence: 0.9,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, s.MergeRelation(ctx, r))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Len(t, s.Relations(), 1)
}

func TestEntitiesForAgentFilters(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.MergeEntity(ctx, registrygraph.Entity{Name: "a", AgentID: "coder"}))
	require.NoError(t, s.MergeEntity(ctx, registrygraph.Entity{Name: "b", AgentID: "writer"}))
	require.NoError(t, s.MergeEntity(ctx, registrygraph.Entity{Name: "c", AgentID: "coder"}))

	got, err := s.EntitiesForAgent(ctx, "coder")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].Name)
	require.Equal(t, "c", got[1].Name)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	seen := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.MergeEntity(ctx, registrygraph.Entity{Name: "redis", Category: "infrastructure", AgentID: "coder", LastSeen: seen}))
	require.NoError(t, s.MergeRelation(ctx, registrygraph.Relation{
		From: "redis", To: "cache-layer", AgentID: "coder", MemoryType: "factual", Confidence: 0.8, CreatedAt: seen,
	}))

	dir := t.TempDir()
	info, err := s.Snapshot(ctx, dir, true)
	require.NoError(t, err)
	require.True(t, info.Compressed)
	require.Greater(t, info.SizeBytes, int64(0))

	restored := New()
	require.NoError(t, restored.Restore(ctx, filepath.Join(dir, info.Path)))

	n, err := restored.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	rels := restored.Relations()
	require.Len(t, rels, 1)
	require.Equal(t, "redis", rels[0].From)
	require.Equal(t, "cache-layer", rels[0].To)
	require.InDelta(t, 0.8, rels[0].Confidence, 0.0001)
}

func TestRestoreReplacesExistingGraph(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.MergeEntity(ctx, registrygraph.Entity{Name: "old", AgentID: "coder"}))

	dir := t.TempDir()
	empty := New()
	info, err := empty.Snapshot(ctx, dir, false)
	require.NoError(t, err)

	require.NoError(t, s.Restore(ctx, filepath.Join(dir, info.Path)))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}
