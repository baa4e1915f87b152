// Package importer runs one import command as a single all-or-nothing unit.
//
// The Orchestrator takes the run lock, opens one database transaction, hands
// the transaction to a Job and commits only when the job succeeds and the run
// is not a dry run. Every recoverable problem the job finds goes to a bounded
// diagnostic sink whose contents end up in the returned summary.
//
// Example usage:
//
//	orchestrator := importer.NewOrchestrator(importer.Options{
//		Command: "import-ledger",
//		Store:   db,
//		DryRun:  true,
//	})
//	summary, err := orchestrator.Execute(ctx, importer.LedgerJob("ledger.csv", "journal.csv"))
package importer

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crm-import-service/internal/lock"
	"crm-import-service/internal/parsers"
	"crm-import-service/internal/reporter"
	"crm-import-service/internal/store"
	"crm-import-service/pkg/errors"
	"crm-import-service/pkg/logger"
)

// errDryRunRollback unwinds the transaction at the end of a dry run.
var errDryRunRollback = stderrors.New("dry run: rolling back")

const totalSteps = 4

// Options configures an Orchestrator.
type Options struct {
	Command string
	DryRun  bool
	Store   store.Store
	// Locker defaults to lock.Noop.
	Locker lock.Locker
	// DiagnosticLimit caps retained warnings; zero or less keeps all.
	DiagnosticLimit int
	StrictAmounts   bool
	Logger          logger.Logger
	Now             func() time.Time
}

// Run is what a Job sees: the transaction and the run-wide collaborators.
type Run struct {
	Tx      store.Store
	DryRun  bool
	Amounts parsers.AmountParser
	Sink    reporter.Sink
	Summary *reporter.Summary
	Logger  logger.Logger
	Now     func() time.Time
}

// Job is the work of one command. Returning an error rolls everything back.
type Job func(ctx context.Context, run *Run) error

// Progress tracks where a run is.
type Progress struct {
	TotalSteps      int           `json:"total_steps"`
	CompletedSteps  int           `json:"completed_steps"`
	CurrentStep     string        `json:"current_step"`
	PercentComplete float64       `json:"percent_complete"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
}

// ProgressCallback is called on every step change.
type ProgressCallback func(*Progress)

// Orchestrator runs jobs.
type Orchestrator struct {
	opts   Options
	logger logger.Logger

	progressCallbacks []ProgressCallback
	progress          *Progress
	progressMutex     sync.RWMutex
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Locker == nil {
		opts.Locker = lock.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobalLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		opts: opts,
		logger: opts.Logger.WithComponent("orchestrator").WithFields(logger.Fields{
			"command": opts.Command,
			"dry_run": opts.DryRun,
		}),
		progress: &Progress{TotalSteps: totalSteps},
	}
}

// AddProgressCallback adds a progress callback function.
func (o *Orchestrator) AddProgressCallback(callback ProgressCallback) {
	o.progressCallbacks = append(o.progressCallbacks, callback)
}

// Execute runs job inside one transaction and returns the run summary. The
// summary is returned even when the run fails so the operator sees what was
// found before the failure; nothing is committed in that case.
func (o *Orchestrator) Execute(ctx context.Context, job Job) (*reporter.Summary, error) {
	if o.opts.Store == nil {
		return nil, errors.InternalError("import", fmt.Errorf("no store configured"))
	}

	start := o.opts.Now()
	o.initializeProgress(start)
	summary := &reporter.Summary{Command: o.opts.Command, DryRun: o.opts.DryRun}
	sink := reporter.NewBoundedSink(o.opts.DiagnosticLimit, o.opts.Logger.WithComponent("diagnostics"))

	o.updateProgress("Acquiring import lock", 0)
	key := lock.Key(o.opts.Command)
	release, err := o.opts.Locker.Acquire(ctx, key)
	if err != nil {
		o.logger.WithError(err).Error("Could not obtain import lock")
		return summary, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			o.logger.WithError(err).Warn("Failed to release import lock")
		}
	}()

	run := &Run{
		DryRun:  o.opts.DryRun,
		Amounts: o.amountParser(sink),
		Sink:    sink,
		Summary: summary,
		Logger:  o.opts.Logger,
		Now:     o.opts.Now,
	}

	o.updateProgress("Importing", 1)
	err = o.opts.Store.Transaction(ctx, func(tx store.Store) error {
		run.Tx = tx
		if err := job(ctx, run); err != nil {
			return err
		}
		if o.opts.DryRun {
			o.updateProgress("Rolling back dry run", 2)
			return errDryRunRollback
		}
		o.updateProgress("Committing", 2)
		return nil
	})
	if stderrors.Is(err, errDryRunRollback) {
		err = nil
		o.logger.Info("Dry run complete; no changes were written")
	}

	summary.CollectSink(sink)
	summary.Duration = o.opts.Now().Sub(start)

	if err != nil {
		o.logger.WithError(err).Error("Import failed; all changes rolled back")
		return summary, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "import failed")
	}

	o.updateProgress("Completed", totalSteps)
	o.logger.WithFields(logger.Fields{
		"duration":   summary.Duration.String(),
		"warnings":   len(summary.Warnings),
		"suppressed": summary.Suppressed,
	}).Info("Import finished")
	return summary, nil
}

// amountParser reports lenient coercions of non-numeric text to sink.
func (o *Orchestrator) amountParser(sink reporter.Sink) parsers.AmountParser {
	return parsers.AmountParser{
		Strict: o.opts.StrictAmounts,
		OnCoerce: func(raw string, value decimal.Decimal) {
			err := errors.InvalidAmount("amount", raw)
			err.Message = fmt.Sprintf("non-numeric amount %q read as %s", raw, value.String())
			sink.Report(err)
		},
	}
}

// CurrentProgress returns a copy of the current progress.
func (o *Orchestrator) CurrentProgress() Progress {
	o.progressMutex.RLock()
	defer o.progressMutex.RUnlock()
	return *o.progress
}

func (o *Orchestrator) initializeProgress(start time.Time) {
	o.progressMutex.Lock()
	defer o.progressMutex.Unlock()

	o.progress = &Progress{
		TotalSteps: totalSteps,
		StartTime:  start,
	}
}

func (o *Orchestrator) updateProgress(step string, completed int) {
	o.progressMutex.Lock()
	o.progress.CurrentStep = step
	o.progress.CompletedSteps = completed
	o.progress.ElapsedTime = o.opts.Now().Sub(o.progress.StartTime)
	o.progress.PercentComplete = float64(completed) / float64(o.progress.TotalSteps) * 100
	snapshot := *o.progress
	o.progressMutex.Unlock()

	o.logger.WithField("step", step).Debug("Import progress")
	for _, callback := range o.progressCallbacks {
		callback(&snapshot)
	}
}
