package fanout

import (
	"context"

	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/undo"
	"github.com/google/uuid"
)

var _ undo.Applier = (*Writer)(nil)

// The Writer doubles as the undo ledger's inverse-operation executor. These
// low-level entry points bypass registry validation and undo recording; they
// exist for the ledger and the maintenance engine, which manage their own
// bookkeeping.

// InsertRecord re-creates a record with its original ID and replicates it.
func (w *Writer) InsertRecord(ctx context.Context, rec *model.MemoryRecord) error {
	entry, err := w.registry.Resolve(rec.AgentID)
	if err != nil {
		return err
	}
	if err := w.store.CreateRecord(ctx, rec); err != nil {
		return err
	}
	result := &WriteResult{MemoryID: rec.ID, Secondary: map[string]SecondaryResult{}}
	w.replicate(ctx, "insert", rec, entry, result)
	return nil
}

// RestoreRecord overwrites a live record with previously captured state and
// refreshes the derived copies.
func (w *Writer) RestoreRecord(ctx context.Context, rec *model.MemoryRecord) error {
	entry, err := w.registry.Resolve(rec.AgentID)
	if err != nil {
		return err
	}
	if err := w.store.UpdateRecord(ctx, rec); err != nil {
		return err
	}
	result := &WriteResult{MemoryID: rec.ID, Secondary: map[string]SecondaryResult{}}
	w.replicate(ctx, "restore", rec, entry, result)
	return nil
}

// RemoveRecord deletes a record from all stores.
func (w *Writer) RemoveRecord(ctx context.Context, agentID string, id uuid.UUID) error {
	entry, err := w.registry.Resolve(agentID)
	if err != nil {
		return err
	}
	existing, err := w.store.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if err := w.store.DeleteRecord(ctx, id); err != nil {
		return err
	}
	result := &WriteResult{MemoryID: id, Secondary: map[string]SecondaryResult{}}
	w.evict(ctx, "remove", existing, entry, result)
	return nil
}
