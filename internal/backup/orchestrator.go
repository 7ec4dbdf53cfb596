// Package backup snapshots the four stores into timestamped directories,
// verifies them against a manifest checksum and restores from them. It
// operates on raw store snapshots, bypassing the fan-out writer.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-fabric/internal/config"
	"github.com/chirino/memory-fabric/internal/metrics"
	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/registry/snapshot"
	"github.com/chirino/memory-fabric/internal/undo"
	"github.com/google/uuid"
)

// ErrBackupNotFound is returned when no manifest exists for a backup id.
var ErrBackupNotFound = errors.New("backup not found")

// storeNames is the canonical snapshot order. Restore replays it as written,
// structured store first, so the source of truth is back before the derived
// stores.
var storeNames = []string{"structured", "vector", "graph", "cache"}

// Request describes one backup.
type Request struct {
	Type        model.BackupType
	Stores      []string // empty means all wired stores
	Compress    bool
	Description string
}

// Orchestrator drives backup, verify and restore across the wired stores.
type Orchestrator struct {
	stores map[string]snapshot.Snapshotter
	cfg    *config.Config
	ledger *undo.Ledger
	s3     *S3Uploader
	logger *log.Logger

	backupMu  sync.Mutex
	restoreMu sync.Mutex
}

// New wires the Orchestrator. Nil snapshotters are allowed and reported as
// skipped. The ledger and uploader are optional.
func New(structured, vector, graph, cache snapshot.Snapshotter, ledger *undo.Ledger, cfg *config.Config, logger *log.Logger) *Orchestrator {
	metrics.Init()
	stores := map[string]snapshot.Snapshotter{}
	for name, s := range map[string]snapshot.Snapshotter{
		"structured": structured, "vector": vector, "graph": graph, "cache": cache,
	} {
		if s != nil {
			stores[name] = s
		}
	}
	return &Orchestrator{
		stores: stores,
		cfg:    cfg,
		ledger: ledger,
		logger: logger.With("component", "backup"),
	}
}

// SetUploader enables post-backup S3 upload.
func (o *Orchestrator) SetUploader(u *S3Uploader) { o.s3 = u }

// CreateBackup snapshots each requested store into its own subdirectory,
// aggregates a checksum over the tree and persists the manifest. Per-store
// failures are recorded, not raised; the manifest status says how it went.
func (o *Orchestrator) CreateBackup(ctx context.Context, req Request) (*model.BackupManifest, error) {
	if !o.backupMu.TryLock() {
		return nil, errors.New("backup already running")
	}
	defer o.backupMu.Unlock()

	started := time.Now()
	if req.Type == "" {
		req.Type = model.BackupManual
	}
	backupID := fmt.Sprintf("%s-%s-%s",
		started.UTC().Format("20060102-150405"), req.Type, uuid.NewString()[:8])
	dir := filepath.Join(o.cfg.BackupDir, backupID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	requested := req.Stores
	if len(requested) == 0 {
		requested = storeNames
	}

	manifest := &model.BackupManifest{
		BackupID:       backupID,
		Type:           req.Type,
		CreatedAt:      started.UTC(),
		Description:    req.Description,
		PerStoreResult: map[string]model.StoreBackupResult{},
	}

	var completed, failed int
	for _, name := range requested {
		s, ok := o.stores[name]
		if !ok {
			manifest.PerStoreResult[name] = model.StoreBackupResult{Status: model.StoreBackupSkipped}
			continue
		}
		result := o.snapshotStore(ctx, name, s, dir, req.Compress)
		manifest.PerStoreResult[name] = result
		switch result.Status {
		case model.StoreBackupCompleted:
			completed++
			manifest.TotalSizeBytes += result.SizeBytes
		case model.StoreBackupFailed:
			failed++
		}
	}

	switch {
	case failed == 0:
		manifest.Status = model.BackupStatusCompleted
	case completed > 0:
		manifest.Status = model.BackupStatusPartial
	default:
		manifest.Status = model.BackupStatusFailed
	}

	checksum, err := checksumTree(dir)
	if err != nil {
		return nil, fmt.Errorf("checksum backup tree: %w", err)
	}
	manifest.Checksum = checksum

	if err := writeManifest(dir, manifest); err != nil {
		return nil, err
	}

	metrics.BackupDuration.WithLabelValues(string(req.Type)).Observe(time.Since(started).Seconds())
	metrics.BackupSizeBytes.WithLabelValues(string(req.Type)).Set(float64(manifest.TotalSizeBytes))
	o.logger.Info("backup done",
		"backupId", backupID, "status", manifest.Status,
		"sizeBytes", manifest.TotalSizeBytes, "took", time.Since(started))

	if o.s3 != nil && manifest.Status != model.BackupStatusFailed {
		if err := o.s3.UploadDir(ctx, dir, backupID); err != nil {
			o.logger.Error("s3 upload failed", "backupId", backupID, "error", err)
		}
	}
	return manifest, nil
}

// snapshotStore runs one store's snapshot under its own timeout. A panic or
// error is contained to that store's result.
func (o *Orchestrator) snapshotStore(ctx context.Context, name string, s snapshot.Snapshotter, dir string, compress bool) model.StoreBackupResult {
	subdir := filepath.Join(dir, name)
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		return model.StoreBackupResult{Status: model.StoreBackupFailed, Error: err.Error()}
	}
	storeCtx, cancel := context.WithTimeout(ctx, o.cfg.BackupStoreTimeout)
	defer cancel()

	info, err := s.Snapshot(storeCtx, subdir, compress)
	if err != nil {
		o.logger.Error("store snapshot failed", "store", name, "error", err)
		return model.StoreBackupResult{Status: model.StoreBackupFailed, Error: err.Error()}
	}
	if info == nil {
		// The store had nothing to dump (e.g. the noop cache).
		return model.StoreBackupResult{Status: model.StoreBackupSkipped}
	}
	return model.StoreBackupResult{
		Path:       filepath.ToSlash(filepath.Join(name, info.Path)),
		SizeBytes:  info.SizeBytes,
		Compressed: info.Compressed,
		Status:     model.StoreBackupCompleted,
	}
}

func writeManifest(dir string, m *model.BackupManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// LoadManifest reads the manifest of backupID from the backup directory.
func (o *Orchestrator) LoadManifest(backupID string) (*model.BackupManifest, error) {
	if strings.ContainsAny(backupID, `/\`) {
		return nil, ErrBackupNotFound
	}
	data, err := os.ReadFile(filepath.Join(o.cfg.BackupDir, backupID, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBackupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m model.BackupManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// ListBackups returns the manifests under the backup directory, newest first.
func (o *Orchestrator) ListBackups() ([]model.BackupManifest, error) {
	entries, err := os.ReadDir(o.cfg.BackupDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	var out []model.BackupManifest
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if !e.IsDir() {
			continue
		}
		m, err := o.LoadManifest(e.Name())
		if err != nil {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}
