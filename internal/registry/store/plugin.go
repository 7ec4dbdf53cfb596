package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/registry/snapshot"
	"github.com/google/uuid"
)

// KeywordQuery holds the parameters for a structured-store keyword search.
type KeywordQuery struct {
	AgentID    string
	Query      string
	MemoryType *model.MemoryType
	Category   string
	Limit      int
}

// RecordStore is the authoritative structured store. A write here is the
// commit point for the whole fan-out; every other store holds derived copies.
type RecordStore interface {
	snapshot.Snapshotter

	CreateRecord(ctx context.Context, rec *model.MemoryRecord) error
	GetRecord(ctx context.Context, id uuid.UUID) (*model.MemoryRecord, error)
	UpdateRecord(ctx context.Context, rec *model.MemoryRecord) error
	DeleteRecord(ctx context.Context, id uuid.UUID) error

	// SearchKeyword runs a keyword/substring query against content and tags.
	SearchKeyword(ctx context.Context, q KeywordQuery) ([]model.MemoryRecord, error)
	ListByAgent(ctx context.Context, agentID string, limit int) ([]model.MemoryRecord, error)

	// FindExpired returns records with expires_at before now, oldest first.
	FindExpired(ctx context.Context, now time.Time, limit int) ([]model.MemoryRecord, error)
	// FindSummarizable returns unsummarized records created before cutoff with
	// content at least minLength bytes.
	FindSummarizable(ctx context.Context, cutoff time.Time, minLength int, limit int) ([]model.MemoryRecord, error)

	CountByAgent(ctx context.Context, agentID string) (int64, error)
	CountByType(ctx context.Context, agentID string) (map[model.MemoryType]int64, error)

	// Undo ledger durable persistence.
	SaveUndoEntry(ctx context.Context, entry *model.UndoEntry) error
	UpdateUndoEntry(ctx context.Context, entry *model.UndoEntry) error
	GetUndoEntry(ctx context.Context, undoID uuid.UUID) (*model.UndoEntry, error)
	ListUndoChain(ctx context.Context, chainID uuid.UUID) ([]model.UndoEntry, error)
	DeleteExpiredUndoEntries(ctx context.Context, now time.Time) (int64, error)
}

// Loader creates a RecordStore from config carried in ctx.
type Loader func(ctx context.Context) (RecordStore, error)

// Plugin represents a structured-store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
