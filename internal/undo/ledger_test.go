package undo

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/plugin/store/sqlstore"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeApplier records inverse calls against an in-memory record set.
type fakeApplier struct {
	records map[uuid.UUID]*model.MemoryRecord
	fail    error
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{records: map[uuid.UUID]*model.MemoryRecord{}}
}

func (f *fakeApplier) InsertRecord(ctx context.Context, rec *model.MemoryRecord) error {
	if f.fail != nil {
		return f.fail
	}
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeApplier) RestoreRecord(ctx context.Context, rec *model.MemoryRecord) error {
	if f.fail != nil {
		return f.fail
	}
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeApplier) RemoveRecord(ctx context.Context, agentID string, id uuid.UUID) error {
	if f.fail != nil {
		return f.fail
	}
	delete(f.records, id)
	return nil
}

func newTestLedger(t *testing.T, retention time.Duration) (*Ledger, *fakeApplier) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "undo.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.MemoryRecord{}, &model.UndoEntry{}))
	l := New(sqlstore.NewWithDB(db), retention, 10, 5, log.New(io.Discard))
	applier := newFakeApplier()
	l.SetApplier(applier)
	return l, applier
}

func record(agentID, content string) *model.MemoryRecord {
	return &model.MemoryRecord{
		ID:         uuid.New(),
		Content:    content,
		AgentID:    agentID,
		Category:   "coder",
		MemoryType: model.MemoryTypeFactual,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestUndoAdd_RemovesRecord(t *testing.T) {
	ctx := context.Background()
	l, applier := newTestLedger(t, time.Hour)

	rec := record("coder", "added fact")
	applier.records[rec.ID] = rec
	newState, err := model.RecordToState(rec)
	require.NoError(t, err)

	entry, err := l.CreateEntry(ctx, CreateParams{
		OperationType: model.OperationAdd,
		AgentID:       "coder",
		NewState:      newState,
		MemoryID:      &rec.ID,
	})
	require.NoError(t, err)
	require.Equal(t, model.UndoStatusPending, entry.Status)

	res, err := l.Undo(ctx, entry.UndoID, "coder", "test")
	require.NoError(t, err)
	require.Equal(t, model.UndoStatusCompleted, res.Status)
	require.Equal(t, 1, res.RestoredCount)
	require.NotContains(t, applier.records, rec.ID)
}

func TestUndoDelete_ReinsertsOriginal(t *testing.T) {
	ctx := context.Background()
	l, applier := newTestLedger(t, time.Hour)

	rec := record("coder", "deleted fact")
	original, err := model.RecordToState(rec)
	require.NoError(t, err)

	entry, err := l.CreateEntry(ctx, CreateParams{
		OperationType: model.OperationDelete,
		AgentID:       "coder",
		OriginalState: original,
		MemoryID:      &rec.ID,
	})
	require.NoError(t, err)

	res, err := l.Undo(ctx, entry.UndoID, "coder", "test")
	require.NoError(t, err)
	require.Equal(t, model.UndoStatusCompleted, res.Status)

	restored, ok := applier.records[rec.ID]
	require.True(t, ok)
	require.Equal(t, rec.Content, restored.Content)
}

func TestUndoSummarize_RestoresOriginalContent(t *testing.T) {
	ctx := context.Background()
	l, applier := newTestLedger(t, time.Hour)

	rec := record("coder", "the full original content, never discarded")
	original, err := model.RecordToState(rec)
	require.NoError(t, err)

	summarized := *rec
	summarized.Content = "the full original"
	summarized.Metadata = map[string]interface{}{model.MetadataSummarized: true}
	applier.records[rec.ID] = &summarized

	entry, err := l.CreateEntry(ctx, CreateParams{
		OperationType: model.OperationSummarize,
		AgentID:       "coder",
		OriginalState: original,
		MemoryID:      &rec.ID,
	})
	require.NoError(t, err)

	_, err = l.Undo(ctx, entry.UndoID, "coder", "test")
	require.NoError(t, err)
	require.Equal(t, rec.Content, applier.records[rec.ID].Content)
	require.NotContains(t, applier.records[rec.ID].Metadata, model.MetadataSummarized)
}

func TestUndoSentinels(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, time.Hour)

	_, err := l.Undo(ctx, uuid.New(), "coder", "test")
	require.ErrorIs(t, err, ErrUndoNotFound)

	rec := record("coder", "x")
	state, err := model.RecordToState(rec)
	require.NoError(t, err)
	entry, err := l.CreateEntry(ctx, CreateParams{
		OperationType: model.OperationAdd,
		AgentID:       "coder",
		NewState:      state,
		MemoryID:      &rec.ID,
	})
	require.NoError(t, err)

	// Wrong agent looks like a missing entry.
	_, err = l.Undo(ctx, entry.UndoID, "writer", "test")
	require.ErrorIs(t, err, ErrUndoNotFound)

	_, err = l.Undo(ctx, entry.UndoID, "coder", "test")
	require.NoError(t, err)
	_, err = l.Undo(ctx, entry.UndoID, "coder", "test")
	require.ErrorIs(t, err, ErrUndoAlreadyApplied)
}

// gateApplier blocks RemoveRecord until released so a second Undo can arrive
// while the first is still applying its inverse.
type gateApplier struct {
	*fakeApplier
	entered chan struct{}
	release chan struct{}
	removes atomic.Int32
}

func (g *gateApplier) RemoveRecord(ctx context.Context, agentID string, id uuid.UUID) error {
	if g.removes.Add(1) == 1 {
		close(g.entered)
	}
	<-g.release
	return g.fakeApplier.RemoveRecord(ctx, agentID, id)
}

func TestUndoConcurrent_AppliesInverseOnce(t *testing.T) {
	ctx := context.Background()
	l, inner := newTestLedger(t, time.Hour)
	applier := &gateApplier{
		fakeApplier: inner,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	l.SetApplier(applier)

	rec := record("coder", "added fact")
	inner.records[rec.ID] = rec
	entry, err := l.CreateEntry(ctx, CreateParams{
		OperationType: model.OperationAdd,
		AgentID:       "coder",
		MemoryID:      &rec.ID,
	})
	require.NoError(t, err)

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := l.Undo(ctx, entry.UndoID, "coder", "test")
		done <- outcome{res, err}
	}()

	// The first undo holds the claim inside the applier; the second must
	// lose without touching the stores.
	<-applier.entered
	_, err = l.Undo(ctx, entry.UndoID, "coder", "test")
	require.ErrorIs(t, err, ErrUndoAlreadyApplied)

	close(applier.release)
	first := <-done
	require.NoError(t, first.err)
	require.Equal(t, model.UndoStatusCompleted, first.res.Status)
	require.EqualValues(t, 1, applier.removes.Load())
	require.NotContains(t, inner.records, rec.ID)
}

func TestUndoExpired_NoMutation(t *testing.T) {
	ctx := context.Background()
	l, applier := newTestLedger(t, -time.Minute)

	rec := record("coder", "x")
	applier.records[rec.ID] = rec
	entry, err := l.CreateEntry(ctx, CreateParams{
		OperationType: model.OperationAdd,
		AgentID:       "coder",
		MemoryID:      &rec.ID,
	})
	require.NoError(t, err)

	_, err = l.Undo(ctx, entry.UndoID, "coder", "test")
	require.ErrorIs(t, err, ErrUndoExpired)
	require.Contains(t, applier.records, rec.ID)
}

func TestUndoFailure_MarksEntryFailed(t *testing.T) {
	ctx := context.Background()
	l, applier := newTestLedger(t, time.Hour)
	applier.fail = errors.New("store down")

	rec := record("coder", "x")
	entry, err := l.CreateEntry(ctx, CreateParams{
		OperationType: model.OperationAdd,
		AgentID:       "coder",
		MemoryID:      &rec.ID,
	})
	require.NoError(t, err)

	res, err := l.Undo(ctx, entry.UndoID, "coder", "test")
	require.Error(t, err)
	require.Equal(t, model.UndoStatusFailed, res.Status)
	require.Contains(t, res.Error, "store down")
}

func TestUndoChain_RestoresDeduplicatedGroupNewestFirst(t *testing.T) {
	ctx := context.Background()
	l, applier := newTestLedger(t, time.Hour)

	chainID := uuid.New()
	a := record("coder", "duplicate content")
	b := record("coder", "duplicate content")
	stateA, err := model.RecordToState(a)
	require.NoError(t, err)
	stateB, err := model.RecordToState(b)
	require.NoError(t, err)

	_, err = l.CreateEntry(ctx, CreateParams{
		OperationType: model.OperationDeduplicate,
		AgentID:       "coder",
		OriginalState: map[string]interface{}{MergedRecordsKey: []map[string]interface{}{stateA, stateB}},
		ChainID:       &chainID,
	})
	require.NoError(t, err)

	results, err := l.UndoChain(ctx, chainID, "coder", "test")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, model.UndoStatusCompleted, results[0].Status)
	require.Equal(t, 2, results[0].RestoredCount)
	require.Contains(t, applier.records, a.ID)
	require.Contains(t, applier.records, b.ID)
}

func TestUndoChain_PartialFailureContinues(t *testing.T) {
	ctx := context.Background()
	l, applier := newTestLedger(t, time.Hour)

	chainID := uuid.New()
	good := record("coder", "good")
	goodState, err := model.RecordToState(good)
	require.NoError(t, err)

	_, err = l.CreateEntry(ctx, CreateParams{
		OperationType: model.OperationDeduplicate,
		AgentID:       "coder",
		OriginalState: map[string]interface{}{}, // missing mergedRecords, will fail
		ChainID:       &chainID,
	})
	require.NoError(t, err)
	_, err = l.CreateEntry(ctx, CreateParams{
		OperationType: model.OperationDelete,
		AgentID:       "coder",
		OriginalState: goodState,
		ChainID:       &chainID,
	})
	require.NoError(t, err)

	results, err := l.UndoChain(ctx, chainID, "coder", "test")
	require.NoError(t, err)
	require.Len(t, results, 2)

	var completed, failed int
	for _, r := range results {
		switch r.Status {
		case model.UndoStatusCompleted:
			completed++
		case model.UndoStatusFailed:
			failed++
		}
	}
	require.Equal(t, 1, completed)
	require.Equal(t, 1, failed)
	require.Contains(t, applier.records, good.ID)
}

func TestGC_RemovesExpiredEntries(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, -time.Minute)

	rec := record("coder", "x")
	_, err := l.CreateEntry(ctx, CreateParams{
		OperationType: model.OperationAdd,
		AgentID:       "coder",
		MemoryID:      &rec.ID,
	})
	require.NoError(t, err)

	n, err := l.GC(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = l.Undo(ctx, rec.ID, "coder", "test")
	require.ErrorIs(t, err, ErrUndoNotFound)
}
