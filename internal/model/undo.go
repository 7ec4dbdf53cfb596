package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OperationType identifies the mutating operation an UndoEntry reverses.
type OperationType string

const (
	OperationAdd         OperationType = "add"
	OperationUpdate      OperationType = "update"
	OperationDelete      OperationType = "delete"
	OperationSummarize   OperationType = "summarize"
	OperationDeduplicate OperationType = "deduplicate"
	OperationSharingSet  OperationType = "sharingSet"
	OperationRestore     OperationType = "restore"
)

// UndoStatus is the lifecycle state of an UndoEntry.
type UndoStatus string

const (
	UndoStatusPending   UndoStatus = "pending"
	UndoStatusCompleted UndoStatus = "completed"
	UndoStatusFailed    UndoStatus = "failed"
	UndoStatusExpired   UndoStatus = "expired"
)

// UndoEntry captures the pre- and post-state of one mutating operation so it
// can be reversed. Once status is completed the entry is immutable.
type UndoEntry struct {
	UndoID         uuid.UUID              `json:"undoId" gorm:"primaryKey;type:uuid;column:undo_id"`
	OperationType  OperationType          `json:"operationType" gorm:"not null;column:operation_type"`
	AgentID        string                 `json:"agentId" gorm:"not null;index;column:agent_id"`
	Timestamp      time.Time              `json:"timestamp" gorm:"not null"`
	OriginalState  map[string]interface{} `json:"originalState" gorm:"serializer:json;column:original_state"`
	NewState       map[string]interface{} `json:"newState" gorm:"serializer:json;column:new_state"`
	MemoryID       *uuid.UUID             `json:"memoryId,omitempty" gorm:"column:memory_id"`
	ChainID        *uuid.UUID             `json:"chainId,omitempty" gorm:"index;column:chain_id"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" gorm:"serializer:json"`
	Status         UndoStatus             `json:"status" gorm:"not null;index"`
	ExpirationDate time.Time              `json:"expirationDate" gorm:"not null;column:expiration_date"`
	Error          string                 `json:"error,omitempty"`
}

// TableName implements gorm.Tabler.
func (UndoEntry) TableName() string { return "undo_entries" }

// RecordToState converts a record to the opaque state map stored in an UndoEntry.
func RecordToState(rec *MemoryRecord) (map[string]interface{}, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record state: %w", err)
	}
	state := map[string]interface{}{}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode record state: %w", err)
	}
	return state, nil
}

// RecordFromState reverses RecordToState, yielding a record byte-identical in
// content to the one originally captured.
func RecordFromState(state map[string]interface{}) (*MemoryRecord, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	var rec MemoryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode state into record: %w", err)
	}
	return &rec, nil
}
