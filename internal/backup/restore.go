package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/registry/snapshot"
	"github.com/chirino/memory-fabric/internal/undo"
	"github.com/google/uuid"
)

// ErrRestoreValidationFailed is returned when the stores came back up after a
// restore but failed the ping/count validation.
var ErrRestoreValidationFailed = errors.New("restore validation failed")

// restoresDir collects restore attempt records under the backup directory.
const restoresDir = "restores"

// RestoreRequest selects what to restore.
type RestoreRequest struct {
	BackupID string
	Stores   []string // empty means every store the manifest completed
	// Validate runs a post-restore ping and count check on each restored store.
	Validate bool
	Reason   string
}

// RestoreResult reports one restore attempt.
type RestoreResult struct {
	Record         model.RestoreRecord `json:"record"`
	RestoredStores []string            `json:"restoredStores"`
	// SafetyBackupID is set when a pre-restore backup was taken.
	SafetyBackupID string `json:"safetyBackupId,omitempty"`
}

// RestoreFromBackup verifies the backup, optionally takes a pre-restore
// safety backup, then replays each store's snapshot in canonical order with
// the structured store first. When req.Validate is set it checks each
// restored store with a ping and count. A restore that fails after replay
// began ends rolled_back; rollback is status-only, store contents are not
// automatically reverted. Re-run with the safety backup to recover data.
func (o *Orchestrator) RestoreFromBackup(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	if !o.restoreMu.TryLock() {
		return nil, errors.New("restore already running")
	}
	defer o.restoreMu.Unlock()

	manifest, err := o.LoadManifest(req.BackupID)
	if err != nil {
		return nil, err
	}
	if _, err := o.VerifyBackup(ctx, req.BackupID); err != nil {
		return nil, fmt.Errorf("pre-restore verify: %w", err)
	}

	record := model.RestoreRecord{
		RestoreID: uuid.NewString(),
		BackupID:  req.BackupID,
		Status:    model.RestoreStatusPending,
		StartedAt: time.Now().UTC(),
	}
	result := &RestoreResult{}

	targets := req.Stores
	if len(targets) == 0 {
		for _, name := range storeNames {
			if r, ok := manifest.PerStoreResult[name]; ok && r.Status == model.StoreBackupCompleted {
				targets = append(targets, name)
			}
		}
	}
	record.Stores = targets
	o.saveRestoreRecord(&record)

	if o.cfg.BackupPreRestore {
		safety, err := o.createSafetyBackup(ctx, targets)
		if err != nil {
			record.Status = model.RestoreStatusFailed
			record.Error = fmt.Sprintf("pre-restore safety backup: %v", err)
			o.finishRestore(&record)
			result.Record = record
			return result, fmt.Errorf("pre-restore safety backup: %w", err)
		}
		result.SafetyBackupID = safety
	}

	record.Status = model.RestoreStatusRestoring
	o.saveRestoreRecord(&record)
	dir := filepath.Join(o.cfg.BackupDir, req.BackupID)

	for _, name := range orderTargets(targets) {
		stored, ok := manifest.PerStoreResult[name]
		if !ok || stored.Status != model.StoreBackupCompleted {
			record.Status = model.RestoreStatusFailed
			record.Error = fmt.Sprintf("backup has no completed snapshot for store %q", name)
			result.Record = record
			o.rollback(&record, result.SafetyBackupID)
			return result, errors.New(record.Error)
		}
		s, ok := o.stores[name]
		if !ok {
			record.Status = model.RestoreStatusFailed
			record.Error = fmt.Sprintf("store %q is not wired", name)
			result.Record = record
			o.rollback(&record, result.SafetyBackupID)
			return result, errors.New(record.Error)
		}
		if err := o.restoreStore(ctx, name, s, filepath.Join(dir, filepath.FromSlash(stored.Path))); err != nil {
			record.Status = model.RestoreStatusFailed
			record.Error = err.Error()
			result.Record = record
			o.rollback(&record, result.SafetyBackupID)
			return result, err
		}
		result.RestoredStores = append(result.RestoredStores, name)
	}

	if req.Validate {
		if err := o.validate(ctx, result.RestoredStores); err != nil {
			record.Status = model.RestoreStatusValidationFailed
			record.Error = err.Error()
			result.Record = record
			o.rollback(&record, result.SafetyBackupID)
			return result, fmt.Errorf("%w: %v", ErrRestoreValidationFailed, err)
		}
	}

	record.Status = model.RestoreStatusCompleted
	o.finishRestore(&record)
	result.Record = record
	o.recordRestoreInLedger(ctx, &record, req.Reason)
	o.logger.Info("restore done",
		"restoreId", record.RestoreID, "backupId", req.BackupID, "stores", result.RestoredStores)
	return result, nil
}

// rollback marks a restore attempt that already began replaying snapshots as
// rolled back and persists the record. The caller keeps the failed or
// validation-failed copy it returns; the durable record ends rolled_back.
func (o *Orchestrator) rollback(record *model.RestoreRecord, safetyBackupID string) {
	o.logger.Warn("restore rolled back",
		"restoreId", record.RestoreID, "backupId", record.BackupID,
		"error", record.Error, "safetyBackupId", safetyBackupID)
	record.Status = model.RestoreStatusRolledBack
	o.finishRestore(record)
}

func orderTargets(targets []string) []string {
	ordered := make([]string, 0, len(targets))
	want := map[string]bool{}
	for _, t := range targets {
		want[t] = true
	}
	for _, name := range storeNames {
		if want[name] {
			ordered = append(ordered, name)
			delete(want, name)
		}
	}
	for t := range want {
		ordered = append(ordered, t)
	}
	return ordered
}

func (o *Orchestrator) restoreStore(ctx context.Context, name string, s snapshot.Snapshotter, path string) error {
	storeCtx, cancel := context.WithTimeout(ctx, o.cfg.BackupStoreTimeout)
	defer cancel()
	if err := s.Restore(storeCtx, path); err != nil {
		return fmt.Errorf("restore %s: %w", name, err)
	}
	return nil
}

// validate pings each restored store and checks it answers Count. Counts are
// not cross-checked against the manifest because stores may legitimately
// resume writes during validation.
func (o *Orchestrator) validate(ctx context.Context, restored []string) error {
	for _, name := range restored {
		s := o.stores[name]
		if err := s.Ping(ctx); err != nil {
			return fmt.Errorf("store %s unreachable: %w", name, err)
		}
		if _, err := s.Count(ctx); err != nil {
			return fmt.Errorf("store %s count: %w", name, err)
		}
	}
	return nil
}

func (o *Orchestrator) createSafetyBackup(ctx context.Context, stores []string) (string, error) {
	// Backups and restores use separate locks, so this does not deadlock.
	m, err := o.CreateBackup(ctx, Request{
		Type:        model.BackupManual,
		Stores:      stores,
		Compress:    o.cfg.BackupCompress,
		Description: "pre-restore safety backup",
	})
	if err != nil {
		return "", err
	}
	if m.Status == model.BackupStatusFailed {
		return "", errors.New("safety backup failed for every store")
	}
	return m.BackupID, nil
}

func (o *Orchestrator) finishRestore(record *model.RestoreRecord) {
	now := time.Now().UTC()
	record.FinishedAt = &now
	o.saveRestoreRecord(record)
}

// saveRestoreRecord persists the attempt as a JSON file next to the backups,
// not in the database being restored.
func (o *Orchestrator) saveRestoreRecord(record *model.RestoreRecord) {
	dir := filepath.Join(o.cfg.BackupDir, restoresDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		o.logger.Error("create restores dir", "error", err)
		return
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		o.logger.Error("encode restore record", "restoreId", record.RestoreID, "error", err)
		return
	}
	path := filepath.Join(dir, record.RestoreID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		o.logger.Error("write restore record", "restoreId", record.RestoreID, "error", err)
	}
}

// recordRestoreInLedger leaves a bookkeeping entry. Restores are not
// reversible through the ledger; the entry exists for the audit trail.
func (o *Orchestrator) recordRestoreInLedger(ctx context.Context, record *model.RestoreRecord, reason string) {
	if o.ledger == nil {
		return
	}
	_, err := o.ledger.CreateEntry(ctx, undo.CreateParams{
		OperationType: model.OperationRestore,
		AgentID:       "system",
		Metadata: map[string]interface{}{
			"restoreId": record.RestoreID,
			"backupId":  record.BackupID,
			"stores":    record.Stores,
			"reason":    reason,
		},
	})
	if err != nil {
		o.logger.Error("record restore in ledger", "restoreId", record.RestoreID, "error", err)
	}
}

// LoadRestoreRecord reads one restore attempt record.
func (o *Orchestrator) LoadRestoreRecord(restoreID string) (*model.RestoreRecord, error) {
	data, err := os.ReadFile(filepath.Join(o.cfg.BackupDir, restoresDir, restoreID+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("restore record %s not found", restoreID)
	}
	if err != nil {
		return nil, err
	}
	var record model.RestoreRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse restore record: %w", err)
	}
	return &record, nil
}
