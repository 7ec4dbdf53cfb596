// Package neo4j implements the graph store on a Neo4j (or compatible Bolt)
// endpoint using MERGE upserts, so repeated writes of the same entity or
// relation are idempotent.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/memory-fabric/internal/config"
	registrygraph "github.com/chirino/memory-fabric/internal/registry/graph"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func init() {
	registrygraph.Register(registrygraph.Plugin{
		Name:   "neo4j",
		Loader: load,
	})
}

func load(ctx context.Context) (registrygraph.GraphStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.Neo4jURI == "" {
		return nil, fmt.Errorf("neo4j: MEMORY_FABRIC_NEO4J_URI is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUsername, cfg.Neo4jPassword, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j: connect: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}
	return &Store{driver: driver}, nil
}

// Store implements GraphStore against Neo4j.
type Store struct {
	driver neo4j.DriverWithContext
}

func (s *Store) IsEnabled() bool { return true }
func (s *Store) Name() string    { return "neo4j" }

func (s *Store) write(ctx context.Context, cypher string, params map[string]any) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return nil, res.Err()
	})
	return err
}

func (s *Store) MergeEntity(ctx context.Context, e registrygraph.Entity) error {
	return s.write(ctx, `
		MERGE (n:Entity {name: $name})
		SET n.category = $category, n.agentId = $agentId, n.lastSeen = $lastSeen`,
		map[string]any{
			"name":     e.Name,
			"category": e.Category,
			"agentId":  e.AgentID,
			"lastSeen": e.LastSeen.UTC().Format(time.RFC3339Nano),
		})
}

func (s *Store) MergeRelation(ctx context.Context, r registrygraph.Relation) error {
	return s.write(ctx, `
		MERGE (a:Entity {name: $from})
		MERGE (b:Entity {name: $to})
		MERGE (a)-[rel:RELATED_TO]->(b)
		SET rel.agentId = $agentId, rel.memoryType = $memoryType,
		    rel.confidence = $confidence, rel.createdAt = $createdAt`,
		map[string]any{
			"from":       r.From,
			"to":         r.To,
			"agentId":    r.AgentID,
			"memoryType": string(r.MemoryType),
			"confidence": r.Confidence,
			"createdAt":  r.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
}

func (s *Store) EntitiesForAgent(ctx context.Context, agentID string) ([]registrygraph.Entity, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (n:Entity {agentId: $agentId})
			RETURN n.name, n.category, n.agentId, n.lastSeen`,
			map[string]any{"agentId": agentID})
		if err != nil {
			return nil, err
		}
		var entities []registrygraph.Entity
		for res.Next(ctx) {
			rec := res.Record()
			entities = append(entities, entityFromValues(rec.Values))
		}
		return entities, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]registrygraph.Entity), nil
}

func entityFromValues(values []any) registrygraph.Entity {
	e := registrygraph.Entity{}
	if len(values) > 0 {
		e.Name, _ = values[0].(string)
	}
	if len(values) > 1 {
		e.Category, _ = values[1].(string)
	}
	if len(values) > 2 {
		e.AgentID, _ = values[2].(string)
	}
	if len(values) > 3 {
		if s, ok := values[3].(string); ok {
			e.LastSeen, _ = time.Parse(time.RFC3339Nano, s)
		}
	}
	return e
}

func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, "MATCH (n:Entity) RETURN count(n)", nil)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := rec.Values[0].(int64)
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

var _ registrygraph.GraphStore = (*Store)(nil)
