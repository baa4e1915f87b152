package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"crm-import-service/cmd/importer/config"
	"crm-import-service/internal/importer"
	"crm-import-service/internal/lock"
	"crm-import-service/internal/parsers"
	"crm-import-service/internal/reporter"
	"crm-import-service/internal/store"
	"crm-import-service/pkg/errors"
	"crm-import-service/pkg/logger"
)

// storeCloser is a store the command owns and must close.
type storeCloser interface {
	store.Store
	Close() error
}

// Connection factories. Tests swap them for in-memory implementations.
var (
	openStore = func(cfg config.DatabaseConfig, log logger.Logger) (storeCloser, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return store.Open(cfg.StoreConfig(), log)
	}
	openLocker = func(ctx context.Context, cfg config.LockConfig, log logger.Logger) (lock.Locker, error) {
		if !cfg.Enabled() {
			return lock.Noop{}, nil
		}
		return lock.NewRedisLocker(ctx, cfg.RedisConfig(), log)
	}
)

// loadConfig decodes and validates the merged configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runImport executes job for command inside one transaction and writes the
// summary to the command's output, also when the run failed.
func runImport(cmd *cobra.Command, command string, dryRun bool, job importer.Job) error {
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.GetGlobalLogger().WithComponent("cli").WithField("command", command)

	db, err := openStore(cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()

	locker, err := openLocker(ctx, cfg.Lock, log)
	if err != nil {
		return err
	}
	defer locker.Close()

	orchestrator := importer.NewOrchestrator(importer.Options{
		Command:         command,
		DryRun:          dryRun,
		Store:           db,
		Locker:          locker,
		DiagnosticLimit: cfg.Diagnostics.Limit,
		StrictAmounts:   cfg.Amounts.Strict,
		Logger:          logger.GetGlobalLogger(),
	})
	if viper.GetBool("verbose") {
		orchestrator.AddProgressCallback(func(progress *importer.Progress) {
			fmt.Fprintf(os.Stderr, "[%d/%d] %s (%.1f%% complete)\n",
				progress.CompletedSteps, progress.TotalSteps,
				progress.CurrentStep, progress.PercentComplete)
		})
	}

	if dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "Running in dry-run mode. No changes will be saved.")
	}

	summary, runErr := orchestrator.Execute(ctx, job)
	if summary != nil {
		if err := writeSummary(cmd.OutOrStdout(), cfg.Output, summary, log); err != nil {
			log.WithError(err).Error("Failed to write summary")
		}
	}
	return runErr
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func writeSummary(w io.Writer, output config.OutputConfig, summary *reporter.Summary, log logger.Logger) error {
	generator, err := reporter.NewSafeReportGenerator(output.ReportConfig(), log)
	if err != nil {
		return err
	}
	return generator.GenerateReportSafely(summary, w)
}

// validateSource checks that path names a readable regular file.
func validateSource(path, description string) error {
	if path == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, description, "", nil)
	}
	if err := parsers.CheckReadable(path); err != nil {
		if importErr, ok := errors.AsImportError(err); ok {
			return importErr.WithContext("source", description)
		}
		return err
	}
	return nil
}
