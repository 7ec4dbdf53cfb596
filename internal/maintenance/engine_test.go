package maintenance

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-fabric/internal/agent"
	"github.com/chirino/memory-fabric/internal/config"
	"github.com/chirino/memory-fabric/internal/fanout"
	"github.com/chirino/memory-fabric/internal/model"
	graphmem "github.com/chirino/memory-fabric/internal/plugin/graph/memory"
	"github.com/chirino/memory-fabric/internal/plugin/store/sqlstore"
	vectormem "github.com/chirino/memory-fabric/internal/plugin/vector/memory"
	"github.com/chirino/memory-fabric/internal/undo"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	engine *Engine
	store  *sqlstore.Store
	ledger *undo.Ledger
	cfg    *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "maint.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.MemoryRecord{}, &model.UndoEntry{}))
	s := sqlstore.NewWithDB(db)

	reg, err := agent.New([]agent.Entry{
		{AgentID: "coder", Category: "coder"},
		{AgentID: "writer", Category: "writing"},
	})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.EmbeddingDimension = 4
	cfg.DedupPrefixLength = 20

	logger := log.New(io.Discard)
	ledger := undo.New(s, 24*time.Hour, 100, 10, logger)
	writer := fanout.New(reg, s, vectormem.New(4), graphmem.New(), nil, ledger, &cfg, logger)
	ledger.SetApplier(writer)

	engine, err := New(reg, s, writer, ledger, &cfg, logger)
	require.NoError(t, err)
	return &fixture{engine: engine, store: s, ledger: ledger, cfg: &cfg}
}

func seed(t *testing.T, f *fixture, content string, createdAt time.Time) *model.MemoryRecord {
	t.Helper()
	return seedAs(t, f, "coder", "coder", content, createdAt)
}

func seedAs(t *testing.T, f *fixture, agentID, category, content string, createdAt time.Time) *model.MemoryRecord {
	t.Helper()
	rec := &model.MemoryRecord{
		ID:         uuid.New(),
		Content:    content,
		AgentID:    agentID,
		Category:   category,
		MemoryType: model.MemoryTypeFactual,
		CreatedAt:  createdAt,
	}
	require.NoError(t, f.store.CreateRecord(context.Background(), rec))
	return rec
}

func TestRunDeduplication_DryRunPlanAndApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	older := seed(t, f, "identical content for the dedup test", time.Now().UTC().Add(-time.Hour))
	newer := seed(t, f, "identical content for the dedup test", time.Now().UTC())
	seed(t, f, "a different memory entirely", time.Now().UTC())

	plan, result, err := f.engine.RunDeduplication(ctx, true)
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, 1, plan.GroupCount)
	require.Equal(t, 1, plan.TotalDuplicates)
	require.Greater(t, plan.EstimatedTokenSavings, 0)
	require.Equal(t, newer.ID, plan.Groups[0].Keeper)

	// Dry run must not mutate.
	n, err := f.store.CountByAgent(ctx, "coder")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	approved, err := f.engine.ApproveDeduplication(ctx, plan.PlanID)
	require.NoError(t, err)
	require.Equal(t, 1, approved.MergedCount)
	require.Empty(t, approved.Errors)

	n, err = f.store.CountByAgent(ctx, "coder")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	_, err = f.store.GetRecord(ctx, newer.ID)
	require.NoError(t, err)

	// Undoing the chain restores the deleted duplicate byte-identically.
	results, err := f.ledger.UndoChain(ctx, approved.ChainIDs["coder"], "coder", "test")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, model.UndoStatusCompleted, results[0].Status)

	restored, err := f.store.GetRecord(ctx, older.ID)
	require.NoError(t, err)
	require.Equal(t, older.Content, restored.Content)

	n, err = f.store.CountByAgent(ctx, "coder")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestApproveDeduplication_UnknownOrExpiredPlan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.ApproveDeduplication(ctx, uuid.New())
	require.ErrorIs(t, err, ErrDeduplicationNotApproved)

	f.cfg.DedupPlanTTL = -time.Minute
	seed(t, f, "same content twice", time.Now().UTC().Add(-time.Minute))
	seed(t, f, "same content twice", time.Now().UTC())
	plan, _, err := f.engine.RunDeduplication(ctx, true)
	require.NoError(t, err)

	_, err = f.engine.ApproveDeduplication(ctx, plan.PlanID)
	require.ErrorIs(t, err, ErrDeduplicationNotApproved)

	// A plan can be approved at most once.
	f.cfg.DedupPlanTTL = time.Hour
	plan, _, err = f.engine.RunDeduplication(ctx, true)
	require.NoError(t, err)
	_, err = f.engine.ApproveDeduplication(ctx, plan.PlanID)
	require.NoError(t, err)
	_, err = f.engine.ApproveDeduplication(ctx, plan.PlanID)
	require.ErrorIs(t, err, ErrDeduplicationNotApproved)
}

func TestRunDeduplication_ImmediateExecution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	seed(t, f, "run it now duplicate", time.Now().UTC().Add(-time.Minute))
	seed(t, f, "run it now duplicate", time.Now().UTC())

	_, result, err := f.engine.RunDeduplication(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, 1, result.MergedCount)

	n, err := f.store.CountByAgent(ctx, "coder")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestRunDeduplication_ChainPerAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	coderOld := seedAs(t, f, "coder", "coder", "shared coder note", time.Now().UTC().Add(-time.Hour))
	seedAs(t, f, "coder", "coder", "shared coder note", time.Now().UTC())
	writerOld := seedAs(t, f, "writer", "writing", "shared writer note", time.Now().UTC().Add(-time.Hour))
	seedAs(t, f, "writer", "writing", "shared writer note", time.Now().UTC())

	_, result, err := f.engine.RunDeduplication(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 2, result.MergedCount)
	require.Len(t, result.ChainIDs, 2)
	require.NotEqual(t, result.ChainIDs["coder"], result.ChainIDs["writer"])

	// Each agent can undo its own merges through its own chain.
	results, err := f.ledger.UndoChain(ctx, result.ChainIDs["coder"], "coder", "test")
	require.NoError(t, err)
	require.Len(t, results, 1)
	_, err = f.store.GetRecord(ctx, coderOld.ID)
	require.NoError(t, err)

	results, err = f.ledger.UndoChain(ctx, result.ChainIDs["writer"], "writer", "test")
	require.NoError(t, err)
	require.Len(t, results, 1)
	_, err = f.store.GetRecord(ctx, writerOld.ID)
	require.NoError(t, err)
}

func TestSummarizeOldMemories(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.cfg.SummarizeTargetLength = 40

	longContent := strings.Repeat("This sentence pads the content. ", 10)
	old := seed(t, f, longContent, time.Now().UTC().AddDate(0, 0, -60))
	seed(t, f, "too recent to touch "+longContent, time.Now().UTC())
	seed(t, f, "short and old", time.Now().UTC().AddDate(0, 0, -60))

	dry, err := f.engine.SummarizeOldMemories(ctx, 30, 100, true)
	require.NoError(t, err)
	require.True(t, dry.DryRun)
	require.Equal(t, 1, dry.CandidateCount)
	require.Equal(t, 0, dry.SummarizedCount)
	require.Less(t, dry.Candidates[0].CompressionRatio, 1.0)

	unchanged, err := f.store.GetRecord(ctx, old.ID)
	require.NoError(t, err)
	require.Equal(t, longContent, unchanged.Content)

	result, err := f.engine.SummarizeOldMemories(ctx, 30, 100, false)
	require.NoError(t, err)
	require.Equal(t, 1, result.SummarizedCount)
	require.Greater(t, result.BytesSaved, 0)

	summarized, err := f.store.GetRecord(ctx, old.ID)
	require.NoError(t, err)
	require.Less(t, len(summarized.Content), len(longContent))
	require.True(t, summarized.Summarized())
	require.EqualValues(t, len(longContent), summarized.Metadata[model.MetadataOriginalLength])

	// Already-summarized records are not picked up again.
	again, err := f.engine.SummarizeOldMemories(ctx, 30, 10, true)
	require.NoError(t, err)
	require.Equal(t, 0, again.CandidateCount)
}

func TestSummarize_UndoRestoresExactContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.cfg.SummarizeTargetLength = 40

	longContent := strings.Repeat("Original text that must survive. ", 8)
	rec := seed(t, f, longContent, time.Now().UTC().AddDate(0, 0, -60))

	result, err := f.engine.SummarizeOldMemories(ctx, 30, 100, false)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	require.NotNil(t, result.Candidates[0].UndoID)

	summarized, err := f.store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, summarized.Summarized())

	res, err := f.ledger.Undo(ctx, *result.Candidates[0].UndoID, "coder", "test")
	require.NoError(t, err)
	require.Equal(t, model.UndoStatusCompleted, res.Status)

	restored, err := f.store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, longContent, restored.Content)
	require.False(t, restored.Summarized())
	require.False(t, restored.SummarizedFlag)
}

func TestExpireMemories(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	past := time.Now().UTC().Add(-time.Hour)
	expired := seed(t, f, "expired record", time.Now().UTC().Add(-2*time.Hour))
	expired.ExpiresAt = &past
	require.NoError(t, f.store.UpdateRecord(ctx, expired))

	seed(t, f, "keeps living", time.Now().UTC())

	result, err := f.engine.ExpireMemories(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.ExpiredCount)
	require.Empty(t, result.Errors)

	n, err := f.store.CountByAgent(ctx, "coder")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestMaintenanceSingleFlight(t *testing.T) {
	f := newFixture(t)

	f.engine.dedupMu.Lock()
	_, _, err := f.engine.RunDeduplication(context.Background(), true)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	f.engine.dedupMu.Unlock()

	f.engine.expireMu.Lock()
	_, err = f.engine.ExpireMemories(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)
	f.engine.expireMu.Unlock()
}
