// Package memory implements the graph store in process with the same
// MERGE-on-name semantics as the Neo4j backend.
package memory

import (
	"context"
	"sort"
	"sync"

	registrygraph "github.com/chirino/memory-fabric/internal/registry/graph"
)

func init() {
	registrygraph.Register(registrygraph.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrygraph.GraphStore, error) {
			return New(), nil
		},
	})
}

type relationKey struct {
	from, to string
}

// Store is an in-process entity/relation graph.
type Store struct {
	mu        sync.RWMutex
	entities  map[string]registrygraph.Entity
	relations map[relationKey]registrygraph.Relation
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		entities:  map[string]registrygraph.Entity{},
		relations: map[relationKey]registrygraph.Relation{},
	}
}

func (s *Store) IsEnabled() bool { return true }
func (s *Store) Name() string    { return "memory" }

func (s *Store) MergeEntity(ctx context.Context, e registrygraph.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.Name] = e
	return nil
}

func (s *Store) MergeRelation(ctx context.Context, r registrygraph.Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// MERGE creates endpoint entities when missing, same as the Cypher version.
	if _, ok := s.entities[r.From]; !ok {
		s.entities[r.From] = registrygraph.Entity{Name: r.From, AgentID: r.AgentID, LastSeen: r.CreatedAt}
	}
	if _, ok := s.entities[r.To]; !ok {
		s.entities[r.To] = registrygraph.Entity{Name: r.To, AgentID: r.AgentID, LastSeen: r.CreatedAt}
	}
	s.relations[relationKey{from: r.From, to: r.To}] = r
	return nil
}

func (s *Store) EntitiesForAgent(ctx context.Context, agentID string) ([]registrygraph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []registrygraph.Entity
	for _, e := range s.entities {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Relations returns all edges, sorted. Used by snapshots and tests.
func (s *Store) Relations() []registrygraph.Relation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]registrygraph.Relation, 0, len(s.relations))
	for _, r := range s.relations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entities)), nil
}

var _ registrygraph.GraphStore = (*Store)(nil)
