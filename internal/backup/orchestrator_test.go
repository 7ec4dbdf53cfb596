package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-fabric/internal/config"
	"github.com/chirino/memory-fabric/internal/model"
	graphmem "github.com/chirino/memory-fabric/internal/plugin/graph/memory"
	"github.com/chirino/memory-fabric/internal/plugin/store/sqlstore"
	vectormem "github.com/chirino/memory-fabric/internal/plugin/vector/memory"
	registrygraph "github.com/chirino/memory-fabric/internal/registry/graph"
	"github.com/chirino/memory-fabric/internal/registry/snapshot"
	registryvector "github.com/chirino/memory-fabric/internal/registry/vector"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	orch   *Orchestrator
	store  *sqlstore.Store
	vector *vectormem.Store
	graph  *graphmem.Store
	cfg    *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "backup.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.MemoryRecord{}, &model.UndoEntry{}))
	s := sqlstore.NewWithDB(db)

	cfg := config.DefaultConfig()
	cfg.BackupDir = t.TempDir()
	cfg.BackupStoreTimeout = 30 * time.Second

	v := vectormem.New(4)
	g := graphmem.New()
	orch := New(s, v, g, nil, nil, &cfg, log.New(io.Discard))
	return &fixture{orch: orch, store: s, vector: v, graph: g, cfg: &cfg}
}

func (f *fixture) seed(t *testing.T) *model.MemoryRecord {
	t.Helper()
	ctx := context.Background()
	rec := &model.MemoryRecord{
		ID:         uuid.New(),
		Content:    "backup me",
		AgentID:    "coder",
		Category:   "coder",
		MemoryType: model.MemoryTypeFactual,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, f.store.CreateRecord(ctx, rec))
	require.NoError(t, f.vector.Upsert(ctx, "coder_memory", []registryvector.UpsertRequest{{
		ID: rec.ID, Embedding: []float32{1, 0, 0, 0}, AgentID: "coder",
		MemoryType: rec.MemoryType, CreatedAt: rec.CreatedAt,
	}}))
	require.NoError(t, f.graph.MergeEntity(ctx, registrygraph.Entity{
		Name: "backup-topic", AgentID: "coder", LastSeen: rec.CreatedAt,
	}))
	return rec
}

func TestCreateBackup_AllStoresCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	m, err := f.orch.CreateBackup(ctx, Request{Type: model.BackupManual, Compress: true})
	require.NoError(t, err)
	require.Equal(t, model.BackupStatusCompleted, m.Status)
	require.NotEmpty(t, m.Checksum)
	require.Greater(t, m.TotalSizeBytes, int64(0))

	require.Equal(t, model.StoreBackupCompleted, m.PerStoreResult["structured"].Status)
	require.Equal(t, model.StoreBackupCompleted, m.PerStoreResult["vector"].Status)
	require.Equal(t, model.StoreBackupCompleted, m.PerStoreResult["graph"].Status)
	require.Equal(t, model.StoreBackupSkipped, m.PerStoreResult["cache"].Status)

	loaded, err := f.orch.LoadManifest(m.BackupID)
	require.NoError(t, err)
	require.Equal(t, m.Checksum, loaded.Checksum)
}

func TestCreateBackup_SubsetOfStores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	m, err := f.orch.CreateBackup(ctx, Request{Stores: []string{"structured"}, Compress: false})
	require.NoError(t, err)
	require.Equal(t, model.BackupStatusCompleted, m.Status)
	require.Len(t, m.PerStoreResult, 1)
}

func TestVerifyBackup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	m, err := f.orch.CreateBackup(ctx, Request{Compress: true})
	require.NoError(t, err)

	res, err := f.orch.VerifyBackup(ctx, m.BackupID)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.True(t, res.ChecksumOK)

	// Corrupt one snapshot file; verify must fail with a checksum mismatch.
	path := filepath.Join(f.cfg.BackupDir, m.BackupID, filepath.FromSlash(m.PerStoreResult["graph"].Path))
	require.NoError(t, os.WriteFile(path, []byte("corrupted"), 0o644))

	res, err = f.orch.VerifyBackup(ctx, m.BackupID)
	var mismatch *ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.False(t, res.OK)
}

func TestVerifyBackup_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.VerifyBackup(context.Background(), "nope")
	require.ErrorIs(t, err, ErrBackupNotFound)
}

func TestRestoreFromBackup_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.seed(t)

	m, err := f.orch.CreateBackup(ctx, Request{Compress: true})
	require.NoError(t, err)

	// Lose everything after the backup.
	require.NoError(t, f.store.DeleteRecord(ctx, rec.ID))
	require.NoError(t, f.vector.Delete(ctx, "coder_memory", []uuid.UUID{rec.ID}))

	res, err := f.orch.RestoreFromBackup(ctx, RestoreRequest{BackupID: m.BackupID, Validate: true, Reason: "test"})
	require.NoError(t, err)
	require.Equal(t, model.RestoreStatusCompleted, res.Record.Status)
	require.Equal(t, []string{"structured", "vector", "graph"}, res.RestoredStores)

	got, err := f.store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, "backup me", got.Content)

	n, err := f.vector.CountCollection(ctx, "coder_memory")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	record, err := f.orch.LoadRestoreRecord(res.Record.RestoreID)
	require.NoError(t, err)
	require.Equal(t, model.RestoreStatusCompleted, record.Status)
}

func TestRestoreFromBackup_PreRestoreSafetyBackup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)
	f.cfg.BackupPreRestore = true

	m, err := f.orch.CreateBackup(ctx, Request{Compress: false})
	require.NoError(t, err)

	res, err := f.orch.RestoreFromBackup(ctx, RestoreRequest{BackupID: m.BackupID, Validate: true})
	require.NoError(t, err)
	require.NotEmpty(t, res.SafetyBackupID)

	_, err = f.orch.LoadManifest(res.SafetyBackupID)
	require.NoError(t, err)
}

func TestRestoreFromBackup_RejectsCorruptBackup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	m, err := f.orch.CreateBackup(ctx, Request{Compress: false})
	require.NoError(t, err)

	path := filepath.Join(f.cfg.BackupDir, m.BackupID, filepath.FromSlash(m.PerStoreResult["structured"].Path))
	require.NoError(t, os.WriteFile(path, []byte("junk"), 0o644))

	_, err = f.orch.RestoreFromBackup(ctx, RestoreRequest{BackupID: m.BackupID})
	require.Error(t, err)
}

// flakySnapshotter wraps a real store and fails the configured operations.
type flakySnapshotter struct {
	snapshot.Snapshotter
	snapshotErr error
	restoreErr  error
	pingErr     error
}

func (f *flakySnapshotter) Snapshot(ctx context.Context, dir string, compress bool) (*snapshot.Info, error) {
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return f.Snapshotter.Snapshot(ctx, dir, compress)
}

func (f *flakySnapshotter) Restore(ctx context.Context, path string) error {
	if f.restoreErr != nil {
		return f.restoreErr
	}
	return f.Snapshotter.Restore(ctx, path)
}

func (f *flakySnapshotter) Ping(ctx context.Context) error {
	if f.pingErr != nil {
		return f.pingErr
	}
	return f.Snapshotter.Ping(ctx)
}

func TestVerifyBackup_PartialBackupFailsVerification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	flaky := &flakySnapshotter{Snapshotter: f.graph, snapshotErr: errors.New("graph store down")}
	orch := New(f.store, f.vector, flaky, nil, nil, f.cfg, log.New(io.Discard))

	m, err := orch.CreateBackup(ctx, Request{Compress: true})
	require.NoError(t, err)
	require.Equal(t, model.BackupStatusPartial, m.Status)

	// The written files are intact, but the failed store must fail the set.
	res, err := orch.VerifyBackup(ctx, m.BackupID)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.True(t, res.ChecksumOK)
	require.False(t, res.Stores["graph"].OK)
	require.Contains(t, res.Stores["graph"].Error, "graph store down")
	require.True(t, res.Stores["structured"].OK)
	require.True(t, res.Stores["vector"].OK)
	require.True(t, res.Stores["cache"].OK)
}

func TestRestoreFromBackup_ValidationFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	flaky := &flakySnapshotter{Snapshotter: f.graph, pingErr: errors.New("graph unreachable")}
	orch := New(f.store, f.vector, flaky, nil, nil, f.cfg, log.New(io.Discard))

	m, err := orch.CreateBackup(ctx, Request{Compress: false})
	require.NoError(t, err)
	require.Equal(t, model.BackupStatusCompleted, m.Status)

	res, err := orch.RestoreFromBackup(ctx, RestoreRequest{BackupID: m.BackupID, Validate: true})
	require.ErrorIs(t, err, ErrRestoreValidationFailed)
	require.Equal(t, model.RestoreStatusValidationFailed, res.Record.Status)

	persisted, err := orch.LoadRestoreRecord(res.Record.RestoreID)
	require.NoError(t, err)
	require.Equal(t, model.RestoreStatusRolledBack, persisted.Status)
	require.NotNil(t, persisted.FinishedAt)

	// Skipping validation leaves the unreachable store out of the check.
	res, err = orch.RestoreFromBackup(ctx, RestoreRequest{BackupID: m.BackupID})
	require.NoError(t, err)
	require.Equal(t, model.RestoreStatusCompleted, res.Record.Status)
}

func TestRestoreFromBackup_ReplayFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	flaky := &flakySnapshotter{Snapshotter: f.graph, restoreErr: errors.New("disk full")}
	orch := New(f.store, f.vector, flaky, nil, nil, f.cfg, log.New(io.Discard))

	m, err := orch.CreateBackup(ctx, Request{Compress: false})
	require.NoError(t, err)

	res, err := orch.RestoreFromBackup(ctx, RestoreRequest{BackupID: m.BackupID, Validate: true})
	require.Error(t, err)
	require.Equal(t, model.RestoreStatusFailed, res.Record.Status)
	require.Contains(t, res.Record.Error, "disk full")

	persisted, err := orch.LoadRestoreRecord(res.Record.RestoreID)
	require.NoError(t, err)
	require.Equal(t, model.RestoreStatusRolledBack, persisted.Status)
}

func TestListBackups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	_, err := f.orch.CreateBackup(ctx, Request{Compress: false})
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = f.orch.CreateBackup(ctx, Request{Compress: false})
	require.NoError(t, err)

	backups, err := f.orch.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	require.True(t, !backups[0].CreatedAt.Before(backups[1].CreatedAt))
}
