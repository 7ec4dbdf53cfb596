package model

import "time"

// BackupType classifies how a backup was triggered.
type BackupType string

const (
	BackupManual  BackupType = "manual"
	BackupDaily   BackupType = "daily"
	BackupWeekly  BackupType = "weekly"
	BackupMonthly BackupType = "monthly"
)

// BackupStatus is the aggregate outcome of a backup.
type BackupStatus string

const (
	BackupStatusCompleted BackupStatus = "completed"
	BackupStatusPartial   BackupStatus = "partial"
	BackupStatusFailed    BackupStatus = "failed"
)

// StoreBackupStatus is the per-store outcome within a backup.
type StoreBackupStatus string

const (
	StoreBackupCompleted StoreBackupStatus = "completed"
	StoreBackupFailed    StoreBackupStatus = "failed"
	StoreBackupSkipped   StoreBackupStatus = "skipped"
)

// StoreBackupResult records one store's snapshot outcome inside a manifest.
type StoreBackupResult struct {
	Path       string            `json:"path,omitempty"`
	SizeBytes  int64             `json:"sizeBytes"`
	Compressed bool              `json:"compressed"`
	Status     StoreBackupStatus `json:"status"`
	Error      string            `json:"error,omitempty"`
}

// BackupManifest describes one backup attempt. Created once, read-only thereafter;
// it is the only artifact verify and restore consume.
type BackupManifest struct {
	BackupID       string                       `json:"backupId"`
	Type           BackupType                   `json:"type"`
	CreatedAt      time.Time                    `json:"createdAt"`
	Description    string                       `json:"description,omitempty"`
	PerStoreResult map[string]StoreBackupResult `json:"perStoreResult"`
	TotalSizeBytes int64                        `json:"totalSizeBytes"`
	// Checksum is a SHA-256 over the backup directory tree (manifest file excluded).
	Checksum string       `json:"checksum"`
	Status   BackupStatus `json:"status"`
}

// RestoreStatus is the state machine of one restore attempt:
// pending → restoring → {completed | validation_failed | failed} → rolled_back.
type RestoreStatus string

const (
	RestoreStatusPending          RestoreStatus = "pending"
	RestoreStatusRestoring        RestoreStatus = "restoring"
	RestoreStatusCompleted        RestoreStatus = "completed"
	RestoreStatusValidationFailed RestoreStatus = "validation_failed"
	RestoreStatusFailed           RestoreStatus = "failed"
	RestoreStatusRolledBack       RestoreStatus = "rolled_back"
)

// RestoreRecord tracks one restore attempt against a BackupManifest.
type RestoreRecord struct {
	RestoreID  string        `json:"restoreId"`
	BackupID   string        `json:"backupId"`
	Stores     []string      `json:"stores"`
	Status     RestoreStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
}
