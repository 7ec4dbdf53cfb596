package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/memory-fabric/internal/metrics"
	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/undo"
)

const expireBatch = 500

// ExpireResult reports one expiration sweep.
type ExpireResult struct {
	ExpiredCount int      `json:"expiredCount"`
	Errors       []string `json:"errors,omitempty"`
}

// ExpireMemories deletes records past their expiresAt, batch by batch,
// recording an undo entry for each deletion. Cache-layer TTL expiry happens
// natively in that store and is not orchestrated here.
func (e *Engine) ExpireMemories(ctx context.Context) (result *ExpireResult, err error) {
	if !e.expireMu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer e.expireMu.Unlock()
	defer func() { e.recordRun("expire", err) }()

	result = &ExpireResult{}
	for {
		now := time.Now().UTC()
		records, ferr := e.store.FindExpired(ctx, now, expireBatch)
		if ferr != nil {
			return nil, fmt.Errorf("find expired records: %w", ferr)
		}
		if len(records) == 0 {
			break
		}
		progressed := false
		for i := range records {
			rec := records[i]
			if eerr := e.expireRecord(ctx, &rec); eerr != nil {
				e.logger.Error("expire record failed", "memoryId", rec.ID, "error", eerr)
				result.Errors = append(result.Errors, fmt.Sprintf("expire %s: %v", rec.ID, eerr))
				continue
			}
			progressed = true
			result.ExpiredCount++
			metrics.MaintenanceRecordsTotal.WithLabelValues("expire").Inc()
		}
		// Every record in the batch failed; bail out rather than spin on the
		// same rows.
		if !progressed {
			break
		}
		if len(records) < expireBatch {
			break
		}
	}
	if result.ExpiredCount > 0 {
		e.logger.Info("expiration sweep done", "expired", result.ExpiredCount, "errors", len(result.Errors))
	}
	return result, nil
}

func (e *Engine) expireRecord(ctx context.Context, rec *model.MemoryRecord) error {
	originalState, err := model.RecordToState(rec)
	if err != nil {
		return fmt.Errorf("capture pre-state: %w", err)
	}
	memoryID := rec.ID
	if _, err := e.ledger.CreateEntry(ctx, undo.CreateParams{
		OperationType: model.OperationDelete,
		AgentID:       rec.AgentID,
		OriginalState: originalState,
		MemoryID:      &memoryID,
		Metadata:      map[string]interface{}{"reason": "expired"},
	}); err != nil {
		return fmt.Errorf("record undo entry: %w", err)
	}
	return e.applier.RemoveRecord(ctx, rec.AgentID, memoryID)
}
