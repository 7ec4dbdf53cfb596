package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/plugin/cache/ristretto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSearchMemory_KeywordOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.writer.AddMemory(ctx, AddRequest{
		AgentID: "coder", Content: "deployment checklist for staging", MemoryType: model.MemoryTypeProcedural,
	})
	require.NoError(t, err)
	_, err = f.writer.AddMemory(ctx, AddRequest{
		AgentID: "coder", Content: "unrelated note", MemoryType: model.MemoryTypeFactual,
	})
	require.NoError(t, err)

	results, err := f.writer.SearchMemory(ctx, SearchRequest{AgentID: "coder", Query: "deployment"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "keyword", results[0].Source)
	require.Equal(t, 1.0, results[0].Similarity)
}

func TestSearchMemory_MergesVectorAndKeywordFirstOccurrenceWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Matched by both the vector index and the keyword query.
	both, err := f.writer.AddMemory(ctx, AddRequest{
		AgentID:    "coder",
		Content:    "shared term alpha",
		MemoryType: model.MemoryTypeFactual,
		Embedding:  embedding(1),
	})
	require.NoError(t, err)

	// Matched only by keyword.
	_, err = f.writer.AddMemory(ctx, AddRequest{
		AgentID: "coder", Content: "alpha appears here too", MemoryType: model.MemoryTypeFactual,
	})
	require.NoError(t, err)

	results, err := f.writer.SearchMemory(ctx, SearchRequest{
		AgentID:             "coder",
		Query:               "alpha",
		Embedding:           embedding(1),
		SimilarityThreshold: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	var vectorHit *SearchResult
	for i := range results {
		if results[i].Record.ID == both.MemoryID {
			vectorHit = &results[i]
		}
	}
	require.NotNil(t, vectorHit)
	require.Equal(t, "vector", vectorHit.Source)
	require.InDelta(t, 1.0, vectorHit.Similarity, 0.0001)
}

func TestSearchMemory_SortsBySimilarityThenRecency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Two keyword hits share similarity 1.0, so recency breaks the tie.
	older := &model.MemoryRecord{
		ID: uuid.New(), Content: "beta older", AgentID: "coder", Category: "coder",
		MemoryType: model.MemoryTypeFactual, CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	newer := &model.MemoryRecord{
		ID: uuid.New(), Content: "beta newer", AgentID: "coder", Category: "coder",
		MemoryType: model.MemoryTypeFactual, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateRecord(context.Background(), older))
	require.NoError(t, f.store.CreateRecord(context.Background(), newer))

	results, err := f.writer.SearchMemory(ctx, SearchRequest{AgentID: "coder", Query: "beta"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, newer.ID, results[0].Record.ID)
	require.Equal(t, older.ID, results[1].Record.ID)
}

func TestSearchMemory_AppliesThresholdAndLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.writer.AddMemory(ctx, AddRequest{
		AgentID: "coder", Content: "close match", MemoryType: model.MemoryTypeFactual,
		Embedding: []float32{1, 0, 0, 0},
	})
	require.NoError(t, err)
	_, err = f.writer.AddMemory(ctx, AddRequest{
		AgentID: "coder", Content: "orthogonal", MemoryType: model.MemoryTypeFactual,
		Embedding: []float32{0, 1, 0, 0},
	})
	require.NoError(t, err)

	results, err := f.writer.SearchMemory(ctx, SearchRequest{
		AgentID:             "coder",
		Embedding:           []float32{1, 0, 0, 0},
		SimilarityThreshold: 0.9,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "close match", results[0].Record.Content)

	results, err = f.writer.SearchMemory(ctx, SearchRequest{
		AgentID:             "coder",
		Embedding:           []float32{1, 0, 0, 0},
		SimilarityThreshold: 0.1,
		Limit:               1,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearchMemory_EmptyQuerySkipsKeywordLeg(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.writer.AddMemory(ctx, AddRequest{
		AgentID: "coder", Content: "vector indexed", MemoryType: model.MemoryTypeFactual,
		Embedding: embedding(1),
	})
	require.NoError(t, err)
	_, err = f.writer.AddMemory(ctx, AddRequest{
		AgentID: "coder", Content: "keyword only record", MemoryType: model.MemoryTypeFactual,
	})
	require.NoError(t, err)

	// No query text and no embedding matches nothing.
	results, err := f.writer.SearchMemory(ctx, SearchRequest{AgentID: "coder"})
	require.NoError(t, err)
	require.Empty(t, results)

	// Embedding-only search returns vector hits, never the keyword leg.
	results, err = f.writer.SearchMemory(ctx, SearchRequest{
		AgentID:             "coder",
		Embedding:           embedding(1),
		SimilarityThreshold: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "vector", results[0].Source)
	require.Equal(t, "vector indexed", results[0].Record.Content)
}

func TestSearchMemory_ScopesByCategory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.writer.AddMemory(ctx, AddRequest{
		AgentID: "coder", Content: "coder note", MemoryType: model.MemoryTypeFactual,
		Embedding: embedding(1),
	})
	require.NoError(t, err)
	_, err = f.writer.AddMemory(ctx, AddRequest{
		AgentID: "writer", Content: "writer note", MemoryType: model.MemoryTypeFactual,
		Embedding: embedding(1),
	})
	require.NoError(t, err)

	// Without scoping the search fans out to both categories' collections.
	results, err := f.writer.SearchMemory(ctx, SearchRequest{
		Embedding:           embedding(1),
		SimilarityThreshold: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	results, err = f.writer.SearchMemory(ctx, SearchRequest{
		Category:            "coder",
		Embedding:           embedding(1),
		SimilarityThreshold: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "coder", results[0].Record.Category)

	// An agent's search with a foreign category yields nothing.
	results, err = f.writer.SearchMemory(ctx, SearchRequest{
		AgentID:             "coder",
		Category:            "writing",
		Embedding:           embedding(1),
		SimilarityThreshold: 0.5,
	})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchMemory_UnknownAgentFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.writer.SearchMemory(context.Background(), SearchRequest{AgentID: "ghost", Query: "x"})
	require.Error(t, err)
}

func TestGetMemory_PrimesCacheOnMiss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c, err := ristretto.New(time.Minute)
	require.NoError(t, err)
	f.writer.cache = c

	added, err := f.writer.AddMemory(ctx, AddRequest{
		AgentID: "coder", Content: "cache me", MemoryType: model.MemoryTypeFactual,
	})
	require.NoError(t, err)

	// AddMemory already replicated into the cache.
	cached, err := c.Get(ctx, "coder", added.MemoryID)
	require.NoError(t, err)
	require.NotNil(t, cached)

	require.NoError(t, c.Remove(ctx, "coder", added.MemoryID))
	rec, err := f.writer.GetMemory(ctx, "coder", added.MemoryID)
	require.NoError(t, err)
	require.Equal(t, "cache me", rec.Content)

	cached, err = c.Get(ctx, "coder", added.MemoryID)
	require.NoError(t, err)
	require.NotNil(t, cached)
}

func TestGetMemory_FallsBackToPrimaryWithoutCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	added, err := f.writer.AddMemory(ctx, AddRequest{
		AgentID: "coder", Content: "read me", MemoryType: model.MemoryTypeFactual,
	})
	require.NoError(t, err)

	rec, err := f.writer.GetMemory(ctx, "coder", added.MemoryID)
	require.NoError(t, err)
	require.Equal(t, "read me", rec.Content)

	_, err = f.writer.GetMemory(ctx, "writer", added.MemoryID)
	require.Error(t, err)
}
