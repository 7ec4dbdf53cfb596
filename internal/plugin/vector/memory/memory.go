// Package memory implements the vector store in process. It backs tests and
// single-binary deployments where running Qdrant is not worth the trouble.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	registryvector "github.com/chirino/memory-fabric/internal/registry/vector"
	"github.com/google/uuid"
)

func init() {
	registryvector.Register(registryvector.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registryvector.VectorStore, error) {
			return New(0), nil
		},
	})
}

type point struct {
	req registryvector.UpsertRequest
}

// Store is an in-process cosine-similarity vector store with per-collection maps.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[uuid.UUID]point
	dimension   int
}

// New creates a Store. A dimension of 0 disables dimension validation.
func New(dimension int) *Store {
	return &Store{
		collections: map[string]map[uuid.UUID]point{},
		dimension:   dimension,
	}
}

func (s *Store) IsEnabled() bool { return true }
func (s *Store) Name() string    { return "memory" }

func (s *Store) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = map[uuid.UUID]point{}
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, reqs []registryvector.UpsertRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collection]
	if !ok {
		coll = map[uuid.UUID]point{}
		s.collections[collection] = coll
	}
	for _, r := range reqs {
		if s.dimension > 0 && len(r.Embedding) != s.dimension {
			return fmt.Errorf("memory vector: dimension mismatch: got %d want %d", len(r.Embedding), s.dimension)
		}
		r.Embedding = append([]float32(nil), r.Embedding...)
		coll[r.ID] = point{req: r}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, q registryvector.SearchQuery) ([]registryvector.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[q.Collection]
	if !ok {
		return nil, nil
	}
	hits := make([]registryvector.SearchHit, 0, len(coll))
	for id, pt := range coll {
		if q.AgentID != "" && pt.req.AgentID != q.AgentID {
			continue
		}
		score := cosine(q.Embedding, pt.req.Embedding)
		if q.ScoreThreshold > 0 && score < float64(q.ScoreThreshold) {
			continue
		}
		hits = append(hits, registryvector.SearchHit{
			ID:         id,
			Score:      score,
			AgentID:    pt.req.AgentID,
			MemoryType: pt.req.MemoryType,
			CreatedAt:  pt.req.CreatedAt,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (s *Store) Delete(ctx context.Context, collection string, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collection]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(coll, id)
	}
	return nil
}

func (s *Store) CountCollection(ctx context.Context, collection string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.collections[collection])), nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, coll := range s.collections {
		n += int64(len(coll))
	}
	return n, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ registryvector.VectorStore = (*Store)(nil)
