// Package sqlstore implements the structured store on GORM. It registers two
// plugins: "postgres" (production) and "sqlite" (embedded mode and tests).
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-fabric/internal/config"
	"github.com/chirino/memory-fabric/internal/model"
	registrymigrate "github.com/chirino/memory-fabric/internal/registry/migrate"
	registrystore "github.com/chirino/memory-fabric/internal/registry/store"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.RecordStore, error) {
			cfg := config.FromContext(ctx)
			return open(postgres.Open(cfg.DBURL), cfg)
		},
	})
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.RecordStore, error) {
			cfg := config.FromContext(ctx)
			return open(sqlite.Open(cfg.DBURL), cfg)
		},
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &schemaMigrator{}})
}

func open(dialector gorm.Dialector, cfg *config.Config) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	return &Store{db: db}, nil
}

type schemaMigrator struct{}

func (m *schemaMigrator) Name() string { return "sqlstore-schema" }
func (m *schemaMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	var dialector gorm.Dialector
	switch cfg.DBKind {
	case "postgres":
		dialector = postgres.Open(cfg.DBURL)
	case "sqlite":
		dialector = sqlite.Open(cfg.DBURL)
	default:
		return nil // another store kind owns its own migrator
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := db.WithContext(ctx).AutoMigrate(&model.MemoryRecord{}, &model.UndoEntry{}); err != nil {
		return fmt.Errorf("migration: auto-migrate: %w", err)
	}
	log.Info("Structured store schema migration complete")
	return nil
}

// Store implements RecordStore using GORM.
type Store struct {
	db *gorm.DB
}

// NewWithDB wraps an already-open GORM handle. Used by tests and embedded callers.
func NewWithDB(db *gorm.DB) *Store { return &Store{db: db} }

const uniqueViolation = "23505"

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func (s *Store) CreateRecord(ctx context.Context, rec *model.MemoryRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.SummarizedFlag = rec.Summarized()
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicateKey(err) {
			return &registrystore.PrimaryStoreError{Op: "create", Err: fmt.Errorf("duplicate id %s", rec.ID)}
		}
		return &registrystore.PrimaryStoreError{Op: "create", Err: err}
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id uuid.UUID) (*model.MemoryRecord, error) {
	var rec model.MemoryRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: id.String()}
	}
	if err != nil {
		return nil, &registrystore.PrimaryStoreError{Op: "get", Err: err}
	}
	return &rec, nil
}

func (s *Store) UpdateRecord(ctx context.Context, rec *model.MemoryRecord) error {
	rec.SummarizedFlag = rec.Summarized()
	res := s.db.WithContext(ctx).Model(&model.MemoryRecord{}).Where("id = ?", rec.ID).
		Select("content", "tags", "metadata", "importance", "confidence", "expires_at", "summarized", "embedding").
		Updates(rec)
	if res.Error != nil {
		return &registrystore.PrimaryStoreError{Op: "update", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "memory", ID: rec.ID.String()}
	}
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.MemoryRecord{})
	if res.Error != nil {
		return &registrystore.PrimaryStoreError{Op: "delete", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "memory", ID: id.String()}
	}
	return nil
}

func (s *Store) SearchKeyword(ctx context.Context, q registrystore.KeywordQuery) ([]model.MemoryRecord, error) {
	tx := s.db.WithContext(ctx).Model(&model.MemoryRecord{})
	if q.AgentID != "" {
		tx = tx.Where("agent_id = ?", q.AgentID)
	}
	if q.Category != "" {
		tx = tx.Where("category = ?", q.Category)
	}
	if q.MemoryType != nil {
		tx = tx.Where("memory_type = ?", *q.MemoryType)
	}
	if q.Query != "" {
		pattern := "%" + q.Query + "%"
		tx = tx.Where("content LIKE ? OR tags LIKE ?", pattern, pattern)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	var out []model.MemoryRecord
	if err := tx.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, &registrystore.PrimaryStoreError{Op: "search", Err: err}
	}
	return out, nil
}

func (s *Store) ListByAgent(ctx context.Context, agentID string, limit int) ([]model.MemoryRecord, error) {
	tx := s.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var out []model.MemoryRecord
	if err := tx.Find(&out).Error; err != nil {
		return nil, &registrystore.PrimaryStoreError{Op: "list", Err: err}
	}
	return out, nil
}

func (s *Store) FindExpired(ctx context.Context, now time.Time, limit int) ([]model.MemoryRecord, error) {
	var out []model.MemoryRecord
	err := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Order("expires_at ASC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, &registrystore.PrimaryStoreError{Op: "find expired", Err: err}
	}
	return out, nil
}

func (s *Store) FindSummarizable(ctx context.Context, cutoff time.Time, minLength int, limit int) ([]model.MemoryRecord, error) {
	var out []model.MemoryRecord
	err := s.db.WithContext(ctx).
		Where("created_at < ? AND summarized = ? AND LENGTH(content) >= ?", cutoff, false, minLength).
		Order("created_at ASC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, &registrystore.PrimaryStoreError{Op: "find summarizable", Err: err}
	}
	return out, nil
}

func (s *Store) CountByAgent(ctx context.Context, agentID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.MemoryRecord{}).Where("agent_id = ?", agentID).Count(&n).Error
	if err != nil {
		return 0, &registrystore.PrimaryStoreError{Op: "count", Err: err}
	}
	return n, nil
}

func (s *Store) CountByType(ctx context.Context, agentID string) (map[model.MemoryType]int64, error) {
	type row struct {
		MemoryType model.MemoryType
		N          int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&model.MemoryRecord{}).
		Select("memory_type, COUNT(*) AS n").
		Where("agent_id = ?", agentID).
		Group("memory_type").Scan(&rows).Error
	if err != nil {
		return nil, &registrystore.PrimaryStoreError{Op: "count by type", Err: err}
	}
	out := make(map[model.MemoryType]int64, len(rows))
	for _, r := range rows {
		out[r.MemoryType] = r.N
	}
	return out, nil
}

// --- Undo ledger persistence ---

func (s *Store) SaveUndoEntry(ctx context.Context, entry *model.UndoEntry) error {
	if entry.UndoID == uuid.Nil {
		entry.UndoID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return &registrystore.PrimaryStoreError{Op: "save undo entry", Err: err}
	}
	return nil
}

func (s *Store) UpdateUndoEntry(ctx context.Context, entry *model.UndoEntry) error {
	res := s.db.WithContext(ctx).Model(&model.UndoEntry{}).Where("undo_id = ?", entry.UndoID).
		Select("status", "error").Updates(entry)
	if res.Error != nil {
		return &registrystore.PrimaryStoreError{Op: "update undo entry", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "undo entry", ID: entry.UndoID.String()}
	}
	return nil
}

func (s *Store) GetUndoEntry(ctx context.Context, undoID uuid.UUID) (*model.UndoEntry, error) {
	var entry model.UndoEntry
	err := s.db.WithContext(ctx).Where("undo_id = ?", undoID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "undo entry", ID: undoID.String()}
	}
	if err != nil {
		return nil, &registrystore.PrimaryStoreError{Op: "get undo entry", Err: err}
	}
	return &entry, nil
}

func (s *Store) ListUndoChain(ctx context.Context, chainID uuid.UUID) ([]model.UndoEntry, error) {
	var out []model.UndoEntry
	err := s.db.WithContext(ctx).Where("chain_id = ?", chainID).Order("timestamp DESC").Find(&out).Error
	if err != nil {
		return nil, &registrystore.PrimaryStoreError{Op: "list undo chain", Err: err}
	}
	return out, nil
}

func (s *Store) DeleteExpiredUndoEntries(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expiration_date < ?", now).Delete(&model.UndoEntry{})
	if res.Error != nil {
		return 0, &registrystore.PrimaryStoreError{Op: "delete expired undo entries", Err: res.Error}
	}
	return res.RowsAffected, nil
}

// --- Snapshotter ---

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.MemoryRecord{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

var _ registrystore.RecordStore = (*Store)(nil)
