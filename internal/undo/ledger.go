// Package undo keeps a reversible ledger of mutating operations. Entries are
// held in an in-memory ring buffer for fast lookup and persisted through the
// structured store so they survive restarts.
package undo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-fabric/internal/metrics"
	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/registry/store"
	"github.com/google/uuid"
)

var (
	ErrUndoNotFound       = errors.New("undo entry not found")
	ErrUndoAlreadyApplied = errors.New("undo entry already applied")
	ErrUndoExpired        = errors.New("undo entry expired")
)

// Applier performs the store mutations an inverse operation needs. The
// fan-out writer implements it; the indirection exists because the writer
// also depends on the ledger to record its own operations.
type Applier interface {
	// InsertRecord re-creates a record with its original ID and content.
	InsertRecord(ctx context.Context, rec *model.MemoryRecord) error
	// RestoreRecord overwrites a live record with previously captured state.
	RestoreRecord(ctx context.Context, rec *model.MemoryRecord) error
	// RemoveRecord deletes a record from all stores.
	RemoveRecord(ctx context.Context, agentID string, id uuid.UUID) error
}

// CreateParams describe one ledger entry.
type CreateParams struct {
	OperationType model.OperationType
	AgentID       string
	OriginalState map[string]interface{}
	NewState      map[string]interface{}
	MemoryID      *uuid.UUID
	ChainID       *uuid.UUID
	Metadata      map[string]interface{}
}

// Result reports the outcome of one Undo application.
type Result struct {
	UndoID        uuid.UUID           `json:"undoId"`
	OperationType model.OperationType `json:"operationType"`
	Status        model.UndoStatus    `json:"status"`
	RestoredCount int                 `json:"restoredCount"`
	Error         string              `json:"error,omitempty"`
}

// Ledger records mutating operations and applies their inverses.
type Ledger struct {
	store     store.RecordStore
	retention time.Duration
	logger    *log.Logger

	mu       sync.Mutex
	applier  Applier
	ring     []*model.UndoEntry // oldest first, capped at ringSize
	ringSz   int
	redo     []uuid.UUID // completed undos, recorded only, capped at redoSize
	redoSz   int
	inflight map[uuid.UUID]bool // undos currently applying their inverse
}

// New creates a Ledger. SetApplier must be called before Undo is used.
func New(s store.RecordStore, retention time.Duration, ringSize, redoSize int, logger *log.Logger) *Ledger {
	metrics.Init()
	if ringSize <= 0 {
		ringSize = 1000
	}
	if redoSize <= 0 {
		redoSize = 100
	}
	return &Ledger{
		store:     s,
		retention: retention,
		logger:    logger.With("component", "undo"),
		ringSz:    ringSize,
		redoSz:    redoSize,
		inflight:  map[uuid.UUID]bool{},
	}
}

// SetApplier wires the inverse-operation executor. Called once at startup
// after the writer is constructed.
func (l *Ledger) SetApplier(a Applier) {
	l.mu.Lock()
	l.applier = a
	l.mu.Unlock()
}

// CreateEntry persists a new pending entry and admits it to the ring buffer.
func (l *Ledger) CreateEntry(ctx context.Context, p CreateParams) (*model.UndoEntry, error) {
	now := time.Now().UTC()
	entry := &model.UndoEntry{
		UndoID:         uuid.New(),
		OperationType:  p.OperationType,
		AgentID:        p.AgentID,
		Timestamp:      now,
		OriginalState:  p.OriginalState,
		NewState:       p.NewState,
		MemoryID:       p.MemoryID,
		ChainID:        p.ChainID,
		Metadata:       p.Metadata,
		Status:         model.UndoStatusPending,
		ExpirationDate: now.Add(l.retention),
	}
	if err := l.store.SaveUndoEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("save undo entry: %w", err)
	}
	l.mu.Lock()
	l.ring = append(l.ring, entry)
	if len(l.ring) > l.ringSz {
		l.ring = l.ring[len(l.ring)-l.ringSz:]
	}
	l.mu.Unlock()
	return entry, nil
}

// lookup checks the ring buffer first, then the durable store.
func (l *Ledger) lookup(ctx context.Context, undoID uuid.UUID) (*model.UndoEntry, error) {
	l.mu.Lock()
	for i := len(l.ring) - 1; i >= 0; i-- {
		if l.ring[i].UndoID == undoID {
			entry := l.ring[i]
			l.mu.Unlock()
			return entry, nil
		}
	}
	l.mu.Unlock()

	entry, err := l.store.GetUndoEntry(ctx, undoID)
	if err != nil {
		var nf *store.NotFoundError
		if errors.As(err, &nf) {
			return nil, ErrUndoNotFound
		}
		return nil, err
	}
	return entry, nil
}

// Undo applies the inverse of the recorded operation. Lookup failures return
// one of the sentinel errors; an inverse that fails mid-flight returns a
// failed Result together with the cause.
func (l *Ledger) Undo(ctx context.Context, undoID uuid.UUID, agentID, reason string) (*Result, error) {
	entry, err := l.lookup(ctx, undoID)
	if err != nil {
		return nil, err
	}
	if entry.AgentID != agentID {
		return nil, ErrUndoNotFound
	}

	// Entries in the ring buffer are shared, so the status check, the claim
	// and the terminal transition all happen under the ledger lock. A second
	// Undo for the same id loses the claim and reports already-applied.
	l.mu.Lock()
	applier := l.applier
	switch entry.Status {
	case model.UndoStatusCompleted:
		l.mu.Unlock()
		return nil, ErrUndoAlreadyApplied
	case model.UndoStatusExpired:
		l.mu.Unlock()
		return nil, ErrUndoExpired
	}
	if time.Now().After(entry.ExpirationDate) {
		entry.Status = model.UndoStatusExpired
		l.mu.Unlock()
		if uerr := l.store.UpdateUndoEntry(ctx, entry); uerr != nil {
			l.logger.Error("mark undo entry expired", "undoId", entry.UndoID, "error", uerr)
		}
		return nil, ErrUndoExpired
	}
	if l.inflight[entry.UndoID] {
		l.mu.Unlock()
		return nil, ErrUndoAlreadyApplied
	}
	if applier == nil {
		l.mu.Unlock()
		return nil, errors.New("undo: no applier wired")
	}
	l.inflight[entry.UndoID] = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.inflight, entry.UndoID)
		l.mu.Unlock()
	}()

	restored, invErr := l.applyInverse(ctx, applier, entry)
	result := &Result{
		UndoID:        entry.UndoID,
		OperationType: entry.OperationType,
		RestoredCount: restored,
	}
	l.mu.Lock()
	if invErr != nil {
		entry.Status = model.UndoStatusFailed
		entry.Error = invErr.Error()
		result.Status = model.UndoStatusFailed
		result.Error = invErr.Error()
	} else {
		entry.Status = model.UndoStatusCompleted
		entry.Error = ""
		result.Status = model.UndoStatusCompleted
	}
	l.mu.Unlock()
	if uerr := l.store.UpdateUndoEntry(ctx, entry); uerr != nil {
		l.logger.Error("persist undo status", "undoId", entry.UndoID, "error", uerr)
	}
	metrics.UndoOperationsTotal.WithLabelValues(string(entry.OperationType), string(result.Status)).Inc()
	if invErr != nil {
		l.logger.Warn("undo failed", "undoId", entry.UndoID, "operation", entry.OperationType, "reason", reason, "error", invErr)
		return result, invErr
	}

	l.mu.Lock()
	l.redo = append(l.redo, entry.UndoID)
	if len(l.redo) > l.redoSz {
		l.redo = l.redo[len(l.redo)-l.redoSz:]
	}
	l.mu.Unlock()
	l.logger.Info("undo applied", "undoId", entry.UndoID, "operation", entry.OperationType, "agentId", agentID, "reason", reason)
	return result, nil
}

func (l *Ledger) applyInverse(ctx context.Context, applier Applier, entry *model.UndoEntry) (int, error) {
	switch entry.OperationType {
	case model.OperationAdd:
		if entry.MemoryID == nil {
			return 0, errors.New("add entry has no memory id")
		}
		if err := applier.RemoveRecord(ctx, entry.AgentID, *entry.MemoryID); err != nil {
			return 0, err
		}
		return 1, nil

	case model.OperationUpdate, model.OperationSummarize:
		rec, err := model.RecordFromState(entry.OriginalState)
		if err != nil {
			return 0, err
		}
		if err := applier.RestoreRecord(ctx, rec); err != nil {
			return 0, err
		}
		return 1, nil

	case model.OperationDelete:
		rec, err := model.RecordFromState(entry.OriginalState)
		if err != nil {
			return 0, err
		}
		if err := applier.InsertRecord(ctx, rec); err != nil {
			return 0, err
		}
		return 1, nil

	case model.OperationDeduplicate:
		states, err := mergedRecordStates(entry.OriginalState)
		if err != nil {
			return 0, err
		}
		restored := 0
		for _, state := range states {
			rec, err := model.RecordFromState(state)
			if err != nil {
				return restored, err
			}
			if err := applier.InsertRecord(ctx, rec); err != nil {
				return restored, fmt.Errorf("re-insert %s: %w", rec.ID, err)
			}
			restored++
		}
		return restored, nil

	default:
		return 0, fmt.Errorf("operation %q cannot be reversed", entry.OperationType)
	}
}

// MergedRecordsKey is the OriginalState key holding the full pre-merge
// records of a deduplicate entry.
const MergedRecordsKey = "mergedRecords"

func mergedRecordStates(original map[string]interface{}) ([]map[string]interface{}, error) {
	raw, ok := original[MergedRecordsKey]
	if !ok {
		return nil, errors.New("deduplicate entry has no mergedRecords")
	}
	items, ok := raw.([]interface{})
	if !ok {
		// Entries created in-process hold the typed slice until they round-trip
		// through JSON.
		if typed, ok := raw.([]map[string]interface{}); ok {
			return typed, nil
		}
		return nil, fmt.Errorf("mergedRecords has unexpected type %T", raw)
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		state, ok := it.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("mergedRecords element has unexpected type %T", it)
		}
		out = append(out, state)
	}
	return out, nil
}

// UndoChain applies Undo to every entry sharing chainID, newest first. One
// failing entry does not stop the rest; the per-entry results say what
// happened.
func (l *Ledger) UndoChain(ctx context.Context, chainID uuid.UUID, agentID, reason string) ([]Result, error) {
	entries, err := l.store.ListUndoChain(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("list undo chain: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrUndoNotFound
	}
	results := make([]Result, 0, len(entries))
	for _, entry := range entries {
		res, err := l.Undo(ctx, entry.UndoID, agentID, reason)
		if res != nil {
			results = append(results, *res)
			continue
		}
		results = append(results, Result{
			UndoID:        entry.UndoID,
			OperationType: entry.OperationType,
			Status:        statusForSentinel(err),
			Error:         err.Error(),
		})
	}
	return results, nil
}

func statusForSentinel(err error) model.UndoStatus {
	switch {
	case errors.Is(err, ErrUndoExpired):
		return model.UndoStatusExpired
	default:
		return model.UndoStatusFailed
	}
}

// GC drops entries past their expiration date from the store and prunes the
// ring buffer. Returns the number of durable entries removed.
func (l *Ledger) GC(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	n, err := l.store.DeleteExpiredUndoEntries(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired undo entries: %w", err)
	}
	l.mu.Lock()
	kept := l.ring[:0]
	for _, e := range l.ring {
		if e.ExpirationDate.After(now) {
			kept = append(kept, e)
		}
	}
	l.ring = kept
	l.mu.Unlock()
	if n > 0 {
		l.logger.Info("undo ledger gc", "removed", n)
	}
	return n, nil
}
