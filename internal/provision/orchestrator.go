// Package provision contains the orchestration engine: a fixed, strictly
// linear plan of idempotent steps, each carrying its own failure policy.
// There is no rollback; every stage is safe to re-run, so the recovery
// procedure after a fatal abort is remediation plus another run.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"rigup/internal/config"
	"rigup/internal/journal"
	"rigup/internal/logging"
	"rigup/internal/services"
	"rigup/internal/stage"
)

// Orchestrator executes the provisioning plan.
type Orchestrator struct {
	cfg     *config.Config
	logger  *slog.Logger
	steps   []stage.Step
	store   *journal.Store
	lock    *flock.Flock
	kernel  string
	nowFunc func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJournal attaches a run journal. A nil store disables journaling.
func WithJournal(store *journal.Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// New constructs an Orchestrator for the given plan. kernelRelease is the
// running kernel the whole run targets.
func New(cfg *config.Config, logger *slog.Logger, kernelRelease string, steps []stage.Step, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	orch := &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		steps:   steps,
		lock:    flock.New(filepath.Join(cfg.Paths.StateDir, "rigup.lock")),
		kernel:  kernelRelease,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(orch)
	}
	return orch
}

// Report summarizes one provisioning run.
type Report struct {
	RunID         string
	KernelRelease string
	StartedAt     time.Time
	FinishedAt    time.Time
	Outcomes      []stage.Outcome
	Failed        bool
}

// Run executes the plan in order, stopping at the first fatal failure.
// Advisory step failures are logged and recorded but never stop the run.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, o.logger)

	if err := os.MkdirAll(o.cfg.Paths.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure state directory: %w", err)
	}
	ok, err := o.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire provisioning lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another provisioning run is already active on this host")
	}
	defer func() { _ = o.lock.Unlock() }()

	report := &Report{
		RunID:         runID,
		KernelRelease: o.kernel,
		StartedAt:     o.nowFunc(),
	}
	logger.Info("provisioning run started",
		logging.String(logging.FieldKernel, o.kernel),
		logging.Int("steps", len(o.steps)),
	)
	o.journalBegin(ctx, logger, runID)

	for seq, step := range o.steps {
		outcome := o.runStep(ctx, seq, step)
		report.Outcomes = append(report.Outcomes, outcome)
		o.journalStep(ctx, logger, runID, seq, outcome)

		if outcome.Status == stage.StatusFailed {
			report.Failed = true
			report.FinishedAt = o.nowFunc()
			o.journalFinish(ctx, logger, runID, journal.RunStatusFailed, outcome.Err.Error())
			return report, fmt.Errorf("step %s failed: %w", step.Name, outcome.Err)
		}
	}

	report.FinishedAt = o.nowFunc()
	o.journalFinish(ctx, logger, runID, journal.RunStatusSucceeded, "")
	logger.Info("provisioning run completed",
		logging.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (o *Orchestrator) runStep(ctx context.Context, seq int, step stage.Step) stage.Outcome {
	stepCtx := services.WithStep(ctx, step.Name)
	logger := logging.WithContext(stepCtx, o.logger)

	logger.Info("step started", logging.String("policy", string(step.Policy)))
	start := o.nowFunc()
	result, err := step.Run(stepCtx)
	outcome := stage.Outcome{
		Step:     step.Name,
		Policy:   step.Policy,
		Detail:   result.Detail,
		Duration: o.nowFunc().Sub(start),
	}

	switch {
	case err == nil && result.Changed:
		outcome.Status = stage.StatusApplied
	case err == nil:
		outcome.Status = stage.StatusUnchanged
	case step.Policy == stage.PolicyAdvisory:
		outcome.Status = stage.StatusWarned
		outcome.Err = err
		outcome.Detail = err.Error()
		logger.Warn("step failed; continuing", logging.Error(err))
		return outcome
	default:
		outcome.Status = stage.StatusFailed
		outcome.Err = err
		outcome.Detail = err.Error()
		logger.Error("step failed", logging.Error(err))
		return outcome
	}

	logger.Info("step completed",
		logging.String("status", string(outcome.Status)),
		logging.String("detail", outcome.Detail),
		logging.Duration("elapsed", outcome.Duration),
	)
	return outcome
}

// Journal writes are best-effort: losing history must never fail
// provisioning.

func (o *Orchestrator) journalBegin(ctx context.Context, logger *slog.Logger, runID string) {
	if o.store == nil {
		return
	}
	if err := o.store.BeginRun(ctx, runID, o.kernel); err != nil {
		logger.Warn("journal unavailable for this run", logging.Error(err))
		o.store = nil
	}
}

func (o *Orchestrator) journalStep(ctx context.Context, logger *slog.Logger, runID string, seq int, outcome stage.Outcome) {
	if o.store == nil {
		return
	}
	rec := journal.StepRecord{
		RunID:    runID,
		Seq:      seq,
		Name:     outcome.Step,
		Policy:   outcome.Policy,
		Status:   outcome.Status,
		Detail:   outcome.Detail,
		Duration: outcome.Duration,
	}
	if outcome.Err != nil {
		rec.Error = outcome.Err.Error()
	}
	if err := o.store.RecordStep(ctx, rec); err != nil {
		logger.Warn("failed to journal step outcome", logging.Error(err))
	}
}

func (o *Orchestrator) journalFinish(ctx context.Context, logger *slog.Logger, runID, status, errMsg string) {
	if o.store == nil {
		return
	}
	if err := o.store.FinishRun(ctx, runID, status, errMsg); err != nil {
		logger.Warn("failed to journal run completion", logging.Error(err))
	}
}
