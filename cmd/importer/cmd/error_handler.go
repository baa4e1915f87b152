package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"crm-import-service/pkg/errors"
	"crm-import-service/pkg/logger"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
	out     io.Writer
}

// NewCLIErrorHandler creates a new CLI error handler writing to stderr
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
		out:     os.Stderr,
	}
}

// HandleError prints err and returns the process exit code: 0 when err is
// nil, 1 otherwise.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if importErr, ok := errors.AsImportError(err); ok {
		h.handleImportError(importErr)
		return 1
	}

	h.handleGenericError(err)
	return 1
}

func (h *CLIErrorHandler) handleImportError(err *errors.ImportError) {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", categoryHelp(err.Category))

	if h.verbose {
		if err.Cause != nil {
			fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
		}
		if len(err.StackTrace) > 0 {
			fmt.Fprintf(h.out, "\nStack trace:%+v\n", err.StackTrace)
		}
	}
}

func (h *CLIErrorHandler) handleGenericError(err error) {
	switch {
	case os.IsNotExist(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
	case os.IsPermission(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
	default:
		// Flag and argument errors from cobra land here.
		fmt.Fprintf(h.out, "Error: %v\n", err)
		if strings.Contains(err.Error(), "flag") || strings.Contains(err.Error(), "arg") {
			fmt.Fprintf(h.out, "Run 'importer <command> --help' for usage.\n")
		}
	}
}

// categoryHelp returns category-specific help text
func categoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check that the export exists and is readable
• Use absolute paths if the command runs from another directory
• QuickBooks exports must be saved as CSV or XLSX`

	case errors.CategoryParse:
		return `Parse error help:
• Re-export the report from QuickBooks without editing it
• Make sure the header row was not removed
• Set amounts.strict=false to read non-numeric amounts as zero`

	case errors.CategoryValidation:
		return `Validation error help:
• Check the row named in the context above
• Dates must be MM/DD/YYYY as exported by QuickBooks
• Amounts may use accounting notation such as (1,234.56)`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Every setting can be given as an IMPORTER_ environment variable, e.g. IMPORTER_DATABASE_DSN`

	case errors.CategoryReconcile:
		return `Import data help:
• Journal groups must balance to within 0.01
• Create missing accounts or customers in the CRM and re-run
• Re-running is safe: existing records are skipped`

	case errors.CategoryPersistence:
		return `Database error help:
• Nothing from this run was saved
• Check that the CRM schema is up to date
• Check database.* settings and that the database is reachable`

	case errors.CategoryNetwork:
		return `Network error help:
• Check crm.base_url, crm.token and lock.redis_addr
• If another import holds the lock, wait for it to finish
• Unset lock.redis_addr to run without a run lock`

	default:
		return `For more help:
• Use 'importer --help' for general help
• Use 'importer <command> --help' for command-specific help
• Re-run with --verbose for the underlying error`
	}
}
