package maintenance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chirino/memory-fabric/internal/metrics"
	"github.com/chirino/memory-fabric/internal/model"
	"github.com/chirino/memory-fabric/internal/undo"
	"github.com/google/uuid"
)

// DedupGroup is one set of records sharing a fingerprint. Keeper is the
// newest member; the rest are deleted on approval.
type DedupGroup struct {
	AgentID     string      `json:"agentId"`
	Fingerprint string      `json:"fingerprint"`
	Keeper      uuid.UUID   `json:"keeper"`
	Duplicates  []uuid.UUID `json:"duplicates"`
	records     []model.MemoryRecord
}

// DedupPlan is a dry-run result awaiting approval. Plans expire.
type DedupPlan struct {
	PlanID                uuid.UUID    `json:"planId"`
	CreatedAt             time.Time    `json:"createdAt"`
	ExpiresAt             time.Time    `json:"expiresAt"`
	GroupCount            int          `json:"groupCount"`
	TotalDuplicates       int          `json:"totalDuplicates"`
	EstimatedTokenSavings int          `json:"estimatedTokenSavings"`
	Groups                []DedupGroup `json:"groups"`
}

// DedupResult reports an executed merge. ChainIDs maps each agent to the
// chain grouping its merges, so UndoChain reverts one agent's merges at once.
type DedupResult struct {
	PlanID      uuid.UUID            `json:"planId"`
	ChainIDs    map[string]uuid.UUID `json:"chainIds"`
	MergedCount int                  `json:"mergedCount"`
	Errors      []string             `json:"errors,omitempty"`
}

// RunDeduplication scans all agents for duplicate content. With dryRun the
// plan is retained for ApproveDeduplication and nothing is mutated; without
// it the plan is executed immediately.
func (e *Engine) RunDeduplication(ctx context.Context, dryRun bool) (plan *DedupPlan, result *DedupResult, err error) {
	if !e.dedupMu.TryLock() {
		return nil, nil, ErrAlreadyRunning
	}
	defer e.dedupMu.Unlock()
	defer func() { e.recordRun("deduplicate", err) }()

	plan, err = e.buildPlan(ctx)
	if err != nil {
		return nil, nil, err
	}
	if dryRun {
		e.plansMu.Lock()
		e.pruneExpiredPlans()
		e.plans[plan.PlanID] = plan
		e.plansMu.Unlock()
		e.logger.Info("deduplication plan ready",
			"planId", plan.PlanID, "groups", plan.GroupCount, "duplicates", plan.TotalDuplicates)
		return plan, nil, nil
	}
	result = e.executePlan(ctx, plan)
	return plan, result, nil
}

// ApproveDeduplication executes a previously produced dry-run plan.
func (e *Engine) ApproveDeduplication(ctx context.Context, planID uuid.UUID) (*DedupResult, error) {
	if !e.dedupMu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer e.dedupMu.Unlock()

	e.plansMu.Lock()
	e.pruneExpiredPlans()
	plan, ok := e.plans[planID]
	if ok {
		delete(e.plans, planID)
	}
	e.plansMu.Unlock()
	if !ok {
		return nil, ErrDeduplicationNotApproved
	}

	result := e.executePlan(ctx, plan)
	e.recordRun("deduplicate", nil)
	return result, nil
}

func (e *Engine) pruneExpiredPlans() {
	now := time.Now()
	for id, p := range e.plans {
		if now.After(p.ExpiresAt) {
			delete(e.plans, id)
		}
	}
}

func (e *Engine) buildPlan(ctx context.Context) (*DedupPlan, error) {
	now := time.Now().UTC()
	plan := &DedupPlan{
		PlanID:    uuid.New(),
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.DedupPlanTTL),
	}
	for _, agentID := range e.registry.AgentIDs() {
		records, err := e.store.ListByAgent(ctx, agentID, 0)
		if err != nil {
			return nil, fmt.Errorf("list records for %s: %w", agentID, err)
		}
		byFingerprint := map[string][]model.MemoryRecord{}
		for _, rec := range records {
			fp := e.fingerprinter.Fingerprint(rec.Content)
			byFingerprint[fp] = append(byFingerprint[fp], rec)
		}
		fps := make([]string, 0, len(byFingerprint))
		for fp := range byFingerprint {
			fps = append(fps, fp)
		}
		sort.Strings(fps)
		for _, fp := range fps {
			group := byFingerprint[fp]
			if len(group) < 2 {
				continue
			}
			// Keep-newest: the member with maximal createdAt survives.
			sort.Slice(group, func(i, j int) bool { return group[i].CreatedAt.After(group[j].CreatedAt) })
			g := DedupGroup{
				AgentID:     agentID,
				Fingerprint: fp,
				Keeper:      group[0].ID,
				records:     group[1:],
			}
			for _, dup := range group[1:] {
				g.Duplicates = append(g.Duplicates, dup.ID)
				plan.EstimatedTokenSavings += estimateTokens(dup.Content)
			}
			plan.Groups = append(plan.Groups, g)
			plan.TotalDuplicates += len(group) - 1
		}
	}
	plan.GroupCount = len(plan.Groups)
	return plan, nil
}

// executePlan merges each group: one undo entry per group captures the full
// original state of every deleted record. Groups of the same agent share a
// chain id; undo checks the requesting agent, so chains never cross agents.
func (e *Engine) executePlan(ctx context.Context, plan *DedupPlan) *DedupResult {
	result := &DedupResult{PlanID: plan.PlanID, ChainIDs: map[string]uuid.UUID{}}
	for _, group := range plan.Groups {
		chainID, ok := result.ChainIDs[group.AgentID]
		if !ok {
			chainID = uuid.New()
			result.ChainIDs[group.AgentID] = chainID
		}
		if err := e.mergeGroup(ctx, group, chainID); err != nil {
			e.logger.Error("merge duplicate group failed",
				"agentId", group.AgentID, "keeper", group.Keeper, "error", err)
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.MergedCount++
		metrics.MaintenanceRecordsTotal.WithLabelValues("deduplicate").Add(float64(len(group.Duplicates)))
	}
	e.logger.Info("deduplication executed",
		"planId", plan.PlanID, "merged", result.MergedCount, "errors", len(result.Errors))
	return result
}

func (e *Engine) mergeGroup(ctx context.Context, group DedupGroup, chainID uuid.UUID) error {
	states := make([]map[string]interface{}, 0, len(group.records))
	for i := range group.records {
		state, err := model.RecordToState(&group.records[i])
		if err != nil {
			return fmt.Errorf("capture duplicate state: %w", err)
		}
		states = append(states, state)
	}
	keeper := group.Keeper
	if _, err := e.ledger.CreateEntry(ctx, undo.CreateParams{
		OperationType: model.OperationDeduplicate,
		AgentID:       group.AgentID,
		OriginalState: map[string]interface{}{undo.MergedRecordsKey: states},
		MemoryID:      &keeper,
		ChainID:       &chainID,
		Metadata: map[string]interface{}{
			"fingerprint": group.Fingerprint,
			"strategy":    e.fingerprinter.Name(),
		},
	}); err != nil {
		return fmt.Errorf("record undo entry: %w", err)
	}
	for _, dup := range group.Duplicates {
		if err := e.applier.RemoveRecord(ctx, group.AgentID, dup); err != nil {
			return fmt.Errorf("delete duplicate %s: %w", dup, err)
		}
	}
	return nil
}

// estimateTokens uses the usual 4-characters-per-token heuristic.
func estimateTokens(content string) int {
	return (len(content) + 3) / 4
}
