package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/memory-fabric/internal/metrics"
	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/undo"
	"github.com/google/uuid"
)

const summarizeBatch = 500

// SummarizeCandidate is one record the summarization pass would touch. When
// the pass actually ran, UndoID points at the entry that reverses it.
type SummarizeCandidate struct {
	MemoryID         string     `json:"memoryId"`
	AgentID          string     `json:"agentId"`
	OriginalLength   int        `json:"originalLength"`
	SummaryLength    int        `json:"summaryLength"`
	CompressionRatio float64    `json:"compressionRatio"`
	UndoID           *uuid.UUID `json:"undoId,omitempty"`
}

// SummarizeResult reports one summarization pass.
type SummarizeResult struct {
	DryRun          bool                 `json:"dryRun"`
	CandidateCount  int                  `json:"candidateCount"`
	SummarizedCount int                  `json:"summarizedCount"`
	BytesSaved      int                  `json:"bytesSaved"`
	Candidates      []SummarizeCandidate `json:"candidates,omitempty"`
	Errors          []string             `json:"errors,omitempty"`
}

// SummarizeOldMemories compresses records older than ageDays with content of
// at least minLength bytes that have not already been summarized. The
// original content is captured in the paired undo entry before the record is
// touched. With dryRun set it only reports the would-be compression ratios.
func (e *Engine) SummarizeOldMemories(ctx context.Context, ageDays, minLength int, dryRun bool) (result *SummarizeResult, err error) {
	if !e.summarizeMu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer e.summarizeMu.Unlock()
	defer func() { e.recordRun("summarize", err) }()

	if ageDays <= 0 {
		ageDays = e.cfg.SummarizeAgeDays
	}
	if minLength <= 0 {
		minLength = e.cfg.SummarizeMinLength
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -ageDays)

	records, err := e.store.FindSummarizable(ctx, cutoff, minLength, summarizeBatch)
	if err != nil {
		return nil, fmt.Errorf("find summarizable records: %w", err)
	}

	result = &SummarizeResult{DryRun: dryRun}
	for i := range records {
		rec := records[i]
		summary, serr := e.summarizer.Summarize(ctx, rec.Content, e.cfg.SummarizeTargetLength)
		if serr != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("summarize %s: %v", rec.ID, serr))
			continue
		}
		if len(summary) >= len(rec.Content) {
			continue
		}
		result.CandidateCount++
		candidate := SummarizeCandidate{
			MemoryID:         rec.ID.String(),
			AgentID:          rec.AgentID,
			OriginalLength:   len(rec.Content),
			SummaryLength:    len(summary),
			CompressionRatio: float64(len(summary)) / float64(len(rec.Content)),
		}
		if dryRun {
			result.Candidates = append(result.Candidates, candidate)
			continue
		}
		undoID, serr := e.summarizeRecord(ctx, &rec, summary)
		if serr != nil {
			e.logger.Error("summarize record failed", "memoryId", rec.ID, "error", serr)
			result.Errors = append(result.Errors, fmt.Sprintf("summarize %s: %v", rec.ID, serr))
			result.Candidates = append(result.Candidates, candidate)
			continue
		}
		candidate.UndoID = undoID
		result.Candidates = append(result.Candidates, candidate)
		result.SummarizedCount++
		result.BytesSaved += len(rec.Content) - len(summary)
		metrics.MaintenanceRecordsTotal.WithLabelValues("summarize").Inc()
	}
	if !dryRun {
		e.logger.Info("summarization pass done",
			"candidates", result.CandidateCount, "summarized", result.SummarizedCount, "bytesSaved", result.BytesSaved)
	}
	return result, nil
}

func (e *Engine) summarizeRecord(ctx context.Context, rec *model.MemoryRecord, summary string) (*uuid.UUID, error) {
	originalState, err := model.RecordToState(rec)
	if err != nil {
		return nil, fmt.Errorf("capture pre-state: %w", err)
	}

	updated := *rec
	updated.Content = summary
	updated.Metadata = cloneMetadata(rec.Metadata)
	updated.Metadata[model.MetadataSummarized] = true
	updated.Metadata[model.MetadataOriginalLength] = len(rec.Content)

	newState, err := model.RecordToState(&updated)
	if err != nil {
		return nil, fmt.Errorf("capture post-state: %w", err)
	}
	memoryID := rec.ID
	entry, err := e.ledger.CreateEntry(ctx, undo.CreateParams{
		OperationType: model.OperationSummarize,
		AgentID:       rec.AgentID,
		OriginalState: originalState,
		NewState:      newState,
		MemoryID:      &memoryID,
	})
	if err != nil {
		return nil, fmt.Errorf("record undo entry: %w", err)
	}
	if err := e.applier.RestoreRecord(ctx, &updated); err != nil {
		return nil, err
	}
	return &entry.UndoID, nil
}

func cloneMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
