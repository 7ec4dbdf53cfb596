package fanout

import (
	"context"
	"sort"
	"time"

	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/registry/store"
	"github.com/chirino/memory-fabric/internal/registry/vector"
	"github.com/google/uuid"
)

// SearchRequest is a federated query across the vector index and the
// structured store.
type SearchRequest struct {
	AgentID    string
	Query      string
	Embedding  []float32
	MemoryType *model.MemoryType
	Category   string
	Limit      int
	// SimilarityThreshold overrides the configured default when > 0.
	SimilarityThreshold float64
}

// SearchResult is one merged hit. Similarity is real cosine similarity for
// vector hits and 1.0 for structured-store keyword matches.
type SearchResult struct {
	Record     *model.MemoryRecord `json:"record"`
	Similarity float64             `json:"similarity"`
	Source     string              `json:"source"` // "vector" or "keyword"
}

// SearchMemory queries the vector collections when an embedding is supplied
// and the keyword query when there is query text, merging by id with first
// occurrence winning. Per-collection failures are logged and skipped.
func (w *Writer) SearchMemory(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if req.AgentID != "" {
		if _, err := w.registry.Resolve(req.AgentID); err != nil {
			return nil, err
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = w.cfg.SearchLimit
	}
	threshold := req.SimilarityThreshold
	if threshold <= 0 {
		threshold = w.cfg.SimilarityThreshold
	}

	merged := map[uuid.UUID]SearchResult{}
	var order []uuid.UUID

	if len(req.Embedding) > 0 && w.vector != nil && w.vector.IsEnabled() {
		for _, collection := range w.searchCollections(req) {
			hits, err := w.vector.Search(ctx, vector.SearchQuery{
				Collection:     collection,
				Embedding:      req.Embedding,
				AgentID:        req.AgentID,
				Limit:          limit,
				ScoreThreshold: float32(threshold),
			})
			if err != nil {
				w.logger.Warn("vector search failed", "collection", collection, "error", err)
				continue
			}
			for _, hit := range hits {
				if _, seen := merged[hit.ID]; seen {
					continue
				}
				rec, err := w.store.GetRecord(ctx, hit.ID)
				if err != nil {
					// The point outlived its record; the primary store is
					// authoritative, so drop the hit.
					w.logger.Warn("vector hit without record", "memoryId", hit.ID, "error", err)
					continue
				}
				if req.MemoryType != nil && rec.MemoryType != *req.MemoryType {
					continue
				}
				if req.Category != "" && rec.Category != req.Category {
					continue
				}
				merged[hit.ID] = SearchResult{Record: rec, Similarity: hit.Score, Source: "vector"}
				order = append(order, hit.ID)
			}
		}
	}

	if req.Query != "" {
		keywordHits, err := w.store.SearchKeyword(ctx, store.KeywordQuery{
			AgentID:    req.AgentID,
			Query:      req.Query,
			MemoryType: req.MemoryType,
			Category:   req.Category,
			Limit:      limit,
		})
		if err != nil {
			return nil, err
		}
		for i := range keywordHits {
			rec := keywordHits[i]
			if _, seen := merged[rec.ID]; seen {
				continue
			}
			merged[rec.ID] = SearchResult{Record: &rec, Similarity: 1.0, Source: "keyword"}
			order = append(order, rec.ID)
		}
	}

	results := make([]SearchResult, 0, len(order))
	for _, id := range order {
		results = append(results, merged[id])
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Record.CreatedAt.After(results[j].Record.CreatedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// searchCollections resolves which vector collections a search touches: the
// agent's own when an agent is given, the category's collections when a
// category is given, every known collection otherwise.
func (w *Writer) searchCollections(req SearchRequest) []string {
	if req.AgentID != "" {
		entry, err := w.registry.Resolve(req.AgentID)
		if err == nil {
			return []string{entry.CollectionName()}
		}
	}
	if req.Category != "" {
		return w.registry.CollectionsForCategory(req.Category)
	}
	return w.registry.Collections()
}

// AgentMemoryStats summarizes one agent's footprint across the stores.
type AgentMemoryStats struct {
	AgentID        string                     `json:"agentId"`
	RecordCount    int64                      `json:"recordCount"`
	CountByType    map[model.MemoryType]int64 `json:"countByType"`
	VectorCount    int64                      `json:"vectorCount"`
	CacheAvailable bool                       `json:"cacheAvailable"`
	CollectedAt    time.Time                  `json:"collectedAt"`
}

// GetAgentMemoryStats reports record counts from the structured store, the
// size of the agent's vector collection and cache reachability.
func (w *Writer) GetAgentMemoryStats(ctx context.Context, agentID string) (*AgentMemoryStats, error) {
	entry, err := w.registry.Resolve(agentID)
	if err != nil {
		return nil, err
	}
	stats := &AgentMemoryStats{AgentID: agentID, CollectedAt: time.Now().UTC()}

	stats.RecordCount, err = w.store.CountByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	stats.CountByType, err = w.store.CountByType(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if w.vector != nil && w.vector.IsEnabled() {
		n, err := w.vector.CountCollection(ctx, entry.CollectionName())
		if err != nil {
			w.logger.Warn("vector collection count", "collection", entry.CollectionName(), "error", err)
		} else {
			stats.VectorCount = n
		}
	}
	if w.cache != nil && w.cache.Available() {
		stats.CacheAvailable = w.cache.Ping(ctx) == nil
	}
	return stats, nil
}
