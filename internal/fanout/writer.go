// Package fanout replicates memory writes across the structured, vector,
// graph and cache backends. The structured store is the commit point; the
// other three hold derived copies that may lag.
package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-fabric/internal/agent"
	"github.com/chirino/memory-fabric/internal/config"
	"github.com/chirino/memory-fabric/internal/metrics"
	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/registry/cache"
	"github.com/chirino/memory-fabric/internal/registry/graph"
	"github.com/chirino/memory-fabric/internal/registry/store"
	"github.com/chirino/memory-fabric/internal/registry/vector"
	"github.com/chirino/memory-fabric/internal/undo"
	"github.com/google/uuid"
)

// SecondaryStatus reports how one derived-store write went.
type SecondaryStatus string

const (
	SecondaryOK      SecondaryStatus = "ok"
	SecondaryFailed  SecondaryStatus = "failed"
	SecondarySkipped SecondaryStatus = "skipped"
	// SecondaryPending is reported in async mode, where the write outcome is
	// not awaited.
	SecondaryPending SecondaryStatus = "pending"
)

// SecondaryResult is the per-store outcome of a fan-out write.
type SecondaryResult struct {
	Status SecondaryStatus `json:"status"`
	Error  string          `json:"error,omitempty"`
}

// WriteResult reports one fan-out write. The primary commit succeeded if the
// call returned no error; Secondary carries the derived-store statuses.
type WriteResult struct {
	MemoryID  uuid.UUID                  `json:"memoryId"`
	UndoID    *uuid.UUID                 `json:"undoId,omitempty"`
	Secondary map[string]SecondaryResult `json:"secondary"`
}

// AddRequest holds the caller-supplied fields of a new memory.
type AddRequest struct {
	AgentID    string
	Content    string
	MemoryType model.MemoryType
	Metadata   map[string]interface{}
	Embedding  []float32
	Tags       []string
	ExpiresAt  *time.Time
	Importance float64
	Confidence float64
}

// UpdateRequest holds the mutable fields of an existing memory. Nil fields
// are left unchanged.
type UpdateRequest struct {
	AgentID    string
	MemoryID   uuid.UUID
	Content    *string
	Metadata   map[string]interface{}
	Embedding  []float32
	Tags       []string
	ExpiresAt  *time.Time
	Importance *float64
	Confidence *float64
}

// Writer fans out writes, primary first.
type Writer struct {
	registry *agent.Registry
	store    store.RecordStore
	vector   vector.VectorStore
	graph    graph.GraphStore
	cache    cache.RecordCache
	ledger   *undo.Ledger
	cfg      *config.Config
	logger   *log.Logger
}

// New wires the Writer. Call ledger.SetApplier(writer) afterwards so undo can
// reach back into the stores.
func New(registry *agent.Registry, s store.RecordStore, v vector.VectorStore, g graph.GraphStore, c cache.RecordCache, ledger *undo.Ledger, cfg *config.Config, logger *log.Logger) *Writer {
	metrics.Init()
	return &Writer{
		registry: registry,
		store:    s,
		vector:   v,
		graph:    g,
		cache:    c,
		ledger:   ledger,
		cfg:      cfg,
		logger:   logger.With("component", "fanout"),
	}
}

// AddMemory validates the request, commits to the structured store, records
// the undo entry and replicates to the secondary stores. Secondary failures
// never roll back the commit.
func (w *Writer) AddMemory(ctx context.Context, req AddRequest) (*WriteResult, error) {
	started := time.Now()
	entry, err := w.registry.Validate(req.AgentID, req.MemoryType)
	if err != nil {
		return nil, err
	}
	rec := &model.MemoryRecord{
		ID:         uuid.New(),
		Content:    req.Content,
		AgentID:    req.AgentID,
		Category:   entry.Category,
		MemoryType: req.MemoryType,
		Embedding:  req.Embedding,
		Tags:       dedupeTags(req.Tags),
		Metadata:   req.Metadata,
		Importance: defaultScore(req.Importance),
		Confidence: defaultScore(req.Confidence),
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  req.ExpiresAt,
	}
	if err := w.store.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}

	result := &WriteResult{MemoryID: rec.ID, Secondary: map[string]SecondaryResult{}}
	if w.ledger != nil {
		newState, serr := model.RecordToState(rec)
		if serr == nil {
			var ue *model.UndoEntry
			ue, serr = w.ledger.CreateEntry(ctx, undo.CreateParams{
				OperationType: model.OperationAdd,
				AgentID:       rec.AgentID,
				NewState:      newState,
				MemoryID:      &rec.ID,
			})
			if serr == nil {
				result.UndoID = &ue.UndoID
			}
		}
		if serr != nil {
			w.logger.Error("record undo entry", "operation", "add", "memoryId", rec.ID, "error", serr)
		}
	}

	w.replicate(ctx, "add", rec, entry, result)
	metrics.WriteLatency.WithLabelValues("add").Observe(time.Since(started).Seconds())
	return result, nil
}

// UpdateMemory captures pre-state into the undo ledger, commits the change to
// the structured store and re-replicates.
func (w *Writer) UpdateMemory(ctx context.Context, req UpdateRequest) (*WriteResult, error) {
	started := time.Now()
	entry, err := w.registry.Resolve(req.AgentID)
	if err != nil {
		return nil, err
	}
	existing, err := w.store.GetRecord(ctx, req.MemoryID)
	if err != nil {
		return nil, err
	}
	if existing.AgentID != req.AgentID {
		return nil, &store.NotFoundError{Resource: "memory", ID: req.MemoryID.String()}
	}

	originalState, err := model.RecordToState(existing)
	if err != nil {
		return nil, fmt.Errorf("capture pre-state: %w", err)
	}

	updated := *existing
	if req.Content != nil {
		updated.Content = *req.Content
	}
	if req.Metadata != nil {
		updated.Metadata = req.Metadata
	}
	if req.Embedding != nil {
		updated.Embedding = req.Embedding
	}
	if req.Tags != nil {
		updated.Tags = dedupeTags(req.Tags)
	}
	if req.ExpiresAt != nil {
		updated.ExpiresAt = req.ExpiresAt
	}
	if req.Importance != nil {
		updated.Importance = *req.Importance
	}
	if req.Confidence != nil {
		updated.Confidence = *req.Confidence
	}

	result := &WriteResult{MemoryID: updated.ID, Secondary: map[string]SecondaryResult{}}
	if w.ledger != nil {
		newState, serr := model.RecordToState(&updated)
		if serr == nil {
			var ue *model.UndoEntry
			ue, serr = w.ledger.CreateEntry(ctx, undo.CreateParams{
				OperationType: model.OperationUpdate,
				AgentID:       req.AgentID,
				OriginalState: originalState,
				NewState:      newState,
				MemoryID:      &updated.ID,
			})
			if serr == nil {
				result.UndoID = &ue.UndoID
			}
		}
		if serr != nil {
			w.logger.Error("record undo entry", "operation", "update", "memoryId", updated.ID, "error", serr)
		}
	}

	if err := w.store.UpdateRecord(ctx, &updated); err != nil {
		return nil, err
	}
	w.replicate(ctx, "update", &updated, entry, result)
	metrics.WriteLatency.WithLabelValues("update").Observe(time.Since(started).Seconds())
	return result, nil
}

// DeleteMemory captures the full record into the undo ledger, deletes the
// structured-store row and evicts the derived copies.
func (w *Writer) DeleteMemory(ctx context.Context, agentID string, memoryID uuid.UUID) (*WriteResult, error) {
	started := time.Now()
	entry, err := w.registry.Resolve(agentID)
	if err != nil {
		return nil, err
	}
	existing, err := w.store.GetRecord(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if existing.AgentID != agentID {
		return nil, &store.NotFoundError{Resource: "memory", ID: memoryID.String()}
	}

	originalState, err := model.RecordToState(existing)
	if err != nil {
		return nil, fmt.Errorf("capture pre-state: %w", err)
	}

	result := &WriteResult{MemoryID: memoryID, Secondary: map[string]SecondaryResult{}}
	if w.ledger != nil {
		ue, serr := w.ledger.CreateEntry(ctx, undo.CreateParams{
			OperationType: model.OperationDelete,
			AgentID:       agentID,
			OriginalState: originalState,
			MemoryID:      &memoryID,
		})
		if serr != nil {
			w.logger.Error("record undo entry", "operation", "delete", "memoryId", memoryID, "error", serr)
		} else {
			result.UndoID = &ue.UndoID
		}
	}

	if err := w.store.DeleteRecord(ctx, memoryID); err != nil {
		return nil, err
	}
	w.evict(ctx, "delete", existing, entry, result)
	metrics.WriteLatency.WithLabelValues("delete").Observe(time.Since(started).Seconds())
	return result, nil
}

// GetMemory reads cache-first and falls back to the structured store,
// re-priming the cache on a miss.
func (w *Writer) GetMemory(ctx context.Context, agentID string, memoryID uuid.UUID) (*model.MemoryRecord, error) {
	if _, err := w.registry.Resolve(agentID); err != nil {
		return nil, err
	}
	if w.cache != nil && w.cache.Available() {
		rec, err := w.cache.Get(ctx, agentID, memoryID)
		if err != nil {
			w.logger.Warn("cache read", "memoryId", memoryID, "error", err)
		} else if rec != nil {
			metrics.CacheHitsTotal.Inc()
			return rec, nil
		}
		metrics.CacheMissesTotal.Inc()
	}
	rec, err := w.store.GetRecord(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if rec.AgentID != agentID {
		return nil, &store.NotFoundError{Resource: "memory", ID: memoryID.String()}
	}
	if w.cache != nil && w.cache.Available() {
		if err := w.cache.Set(ctx, rec, w.cfg.CacheTTL); err != nil {
			w.logger.Warn("cache prime", "memoryId", memoryID, "error", err)
		}
	}
	return rec, nil
}

type secondaryOp struct {
	store string
	run   func(ctx context.Context) error
}

// replicate pushes the committed record into the secondary stores. In async
// mode the statuses are reported as pending and the writes complete in the
// background.
func (w *Writer) replicate(ctx context.Context, operation string, rec *model.MemoryRecord, entry *agent.Entry, result *WriteResult) {
	ops := w.replicationOps(rec, entry, result)
	w.runSecondary(ctx, operation, ops, result)
}

func (w *Writer) replicationOps(rec *model.MemoryRecord, entry *agent.Entry, result *WriteResult) []secondaryOp {
	var ops []secondaryOp

	if w.vector != nil && w.vector.IsEnabled() {
		if len(rec.Embedding) > 0 {
			collection := entry.CollectionName()
			point := vector.UpsertRequest{
				ID:         rec.ID,
				Embedding:  rec.Embedding,
				AgentID:    rec.AgentID,
				MemoryType: rec.MemoryType,
				CreatedAt:  rec.CreatedAt,
			}
			ops = append(ops, secondaryOp{store: "vector", run: func(ctx context.Context) error {
				return w.vector.Upsert(ctx, collection, []vector.UpsertRequest{point})
			}})
		} else {
			result.Secondary["vector"] = SecondaryResult{Status: SecondarySkipped}
		}
	}

	if w.cache != nil && w.cache.Available() {
		cached := *rec
		ops = append(ops, secondaryOp{store: "cache", run: func(ctx context.Context) error {
			return w.cache.Set(ctx, &cached, w.cfg.CacheTTL)
		}})
	}

	if w.graph != nil && w.graph.IsEnabled() {
		if graphEligible(rec) {
			entities, relations := graphElements(rec, entry)
			ops = append(ops, secondaryOp{store: "graph", run: func(ctx context.Context) error {
				for _, e := range entities {
					if err := w.graph.MergeEntity(ctx, e); err != nil {
						return err
					}
				}
				for _, r := range relations {
					if err := w.graph.MergeRelation(ctx, r); err != nil {
						return err
					}
				}
				return nil
			}})
		} else {
			result.Secondary["graph"] = SecondaryResult{Status: SecondarySkipped}
		}
	}
	return ops
}

// evict removes the derived copies after a primary delete.
func (w *Writer) evict(ctx context.Context, operation string, rec *model.MemoryRecord, entry *agent.Entry, result *WriteResult) {
	var ops []secondaryOp
	if w.vector != nil && w.vector.IsEnabled() && len(rec.Embedding) > 0 {
		collection := entry.CollectionName()
		id := rec.ID
		ops = append(ops, secondaryOp{store: "vector", run: func(ctx context.Context) error {
			return w.vector.Delete(ctx, collection, []uuid.UUID{id})
		}})
	}
	if w.cache != nil && w.cache.Available() {
		agentID, id := rec.AgentID, rec.ID
		ops = append(ops, secondaryOp{store: "cache", run: func(ctx context.Context) error {
			return w.cache.Remove(ctx, agentID, id)
		}})
	}
	// Graph entities may be shared across records, so deletes leave them alone.
	w.runSecondary(ctx, operation, ops, result)
}

func (w *Writer) runSecondary(ctx context.Context, operation string, ops []secondaryOp, result *WriteResult) {
	if len(ops) == 0 {
		return
	}
	if w.cfg.FanoutAsync {
		for _, op := range ops {
			result.Secondary[op.store] = SecondaryResult{Status: SecondaryPending}
			go func(op secondaryOp) {
				bg, cancel := context.WithTimeout(context.Background(), w.cfg.FanoutTimeout)
				defer cancel()
				if err := op.run(bg); err != nil {
					metrics.SecondaryWriteFailures.WithLabelValues(op.store, operation).Inc()
					w.logger.Warn("secondary write failed", "store", op.store, "operation", operation, "error", err)
				}
			}(op)
		}
		return
	}

	fanCtx, cancel := context.WithTimeout(ctx, w.cfg.FanoutTimeout)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, op := range ops {
		wg.Add(1)
		go func(op secondaryOp) {
			defer wg.Done()
			err := op.run(fanCtx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.SecondaryWriteFailures.WithLabelValues(op.store, operation).Inc()
				w.logger.Warn("secondary write failed", "store", op.store, "operation", operation, "error", err)
				result.Secondary[op.store] = SecondaryResult{Status: SecondaryFailed, Error: err.Error()}
				return
			}
			result.Secondary[op.store] = SecondaryResult{Status: SecondaryOK}
		}(op)
	}
	wg.Wait()
}

func graphEligible(rec *model.MemoryRecord) bool {
	return (rec.MemoryType == model.MemoryTypeSemantic || rec.MemoryType == model.MemoryTypeFactual) && len(rec.Tags) > 0
}

// graphElements derives graph nodes and edges from the record's tags: each
// tag becomes an entity, and the first tag is related to every other.
func graphElements(rec *model.MemoryRecord, entry *agent.Entry) ([]graph.Entity, []graph.Relation) {
	entities := make([]graph.Entity, 0, len(rec.Tags))
	for _, tag := range rec.Tags {
		entities = append(entities, graph.Entity{
			Name:     tag,
			Category: entry.Category,
			AgentID:  rec.AgentID,
			LastSeen: rec.CreatedAt,
		})
	}
	var relations []graph.Relation
	for _, tag := range rec.Tags[1:] {
		relations = append(relations, graph.Relation{
			From:       rec.Tags[0],
			To:         tag,
			AgentID:    rec.AgentID,
			MemoryType: rec.MemoryType,
			Confidence: rec.Confidence,
			CreatedAt:  rec.CreatedAt,
		})
	}
	return entities, relations
}

func dedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func defaultScore(v float64) float64 {
	if v == 0 {
		return 1.0
	}
	return v
}
