// Package maintenance implements the lifecycle jobs: deduplication behind an
// approval gate, summarization and TTL expiration. Every mutation is
// undo-tracked before it happens.
package maintenance

import (
	"errors"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-fabric/internal/agent"
	"github.com/chirino/memory-fabric/internal/config"
	"github.com/chirino/memory-fabric/internal/metrics"
	"github.com/chirino/memory-fabric/internal/registry/store"
	"github.com/chirino/memory-fabric/internal/undo"
	"github.com/google/uuid"
)

var (
	// ErrAlreadyRunning is returned when an operation is invoked while a
	// previous run of the same operation is still in flight.
	ErrAlreadyRunning = errors.New("maintenance operation already running")

	// ErrDeduplicationNotApproved is returned when no live plan matches the
	// given id; the caller must produce a fresh dry-run plan and approve that.
	ErrDeduplicationNotApproved = errors.New("deduplication plan not found or expired")
)

// Engine runs the maintenance operations. Safe for concurrent use; each
// operation is single-flight.
type Engine struct {
	registry      *agent.Registry
	store         store.RecordStore
	applier       undo.Applier
	ledger        *undo.Ledger
	fingerprinter Fingerprinter
	summarizer    Summarizer
	cfg           *config.Config
	logger        *log.Logger

	dedupMu     sync.Mutex
	summarizeMu sync.Mutex
	expireMu    sync.Mutex

	plansMu sync.Mutex
	plans   map[uuid.UUID]*DedupPlan
}

// New wires the Engine. The applier is normally the fan-out writer, so
// maintenance mutations propagate to the derived stores.
func New(registry *agent.Registry, s store.RecordStore, applier undo.Applier, ledger *undo.Ledger, cfg *config.Config, logger *log.Logger) (*Engine, error) {
	metrics.Init()
	fp, err := NewFingerprinter(cfg.DedupFingerprint, cfg.DedupPrefixLength)
	if err != nil {
		return nil, err
	}
	return &Engine{
		registry:      registry,
		store:         s,
		applier:       applier,
		ledger:        ledger,
		fingerprinter: fp,
		summarizer:    TruncatingSummarizer{},
		cfg:           cfg,
		logger:        logger.With("component", "maintenance"),
		plans:         map[uuid.UUID]*DedupPlan{},
	}, nil
}

// SetSummarizer replaces the default truncating summarizer.
func (e *Engine) SetSummarizer(s Summarizer) {
	e.summarizer = s
}

func (e *Engine) recordRun(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.MaintenanceRunsTotal.WithLabelValues(operation, outcome).Inc()
}
