package cmd

import (
	"github.com/spf13/cobra"

	"crm-import-service/internal/importer"
	"crm-import-service/pkg/errors"
)

// Flags for the import-ledger command
var (
	ledgerFile  string
	journalFile string
	ledgerDry   bool
)

var importLedgerCmd = &cobra.Command{
	Use:   "import-ledger",
	Short: "Import journal entries and account balances",
	Long: `Import-ledger reads the QuickBooks Journal report and creates one balanced
journal entry per transaction, then updates the chart of accounts with the
closing balances of the General Ledger report. Entries that already exist are
skipped, so the command can be re-run safely.

At least one of --journal and --ledger is required.

Examples:
  importer import-ledger --journal journal.csv
  importer import-ledger --ledger general-ledger.xlsx --journal journal.csv --dry-run`,
	Args:    cobra.NoArgs,
	PreRunE: validateLedgerFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, "import-ledger", ledgerDry, importer.LedgerJob(ledgerFile, journalFile))
	},
}

func init() {
	rootCmd.AddCommand(importLedgerCmd)

	importLedgerCmd.Flags().StringVar(&ledgerFile, "ledger", "", "path to the General Ledger export")
	importLedgerCmd.Flags().StringVar(&journalFile, "journal", "", "path to the Journal export")
	importLedgerCmd.Flags().BoolVar(&ledgerDry, "dry-run", false, "validate and report without saving")
}

func validateLedgerFlags(cmd *cobra.Command, args []string) error {
	if ledgerFile == "" && journalFile == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "--ledger or --journal", "", nil).
			WithSuggestion("provide the General Ledger export, the Journal export, or both")
	}
	if ledgerFile != "" {
		if err := validateSource(ledgerFile, "ledger file"); err != nil {
			return err
		}
	}
	if journalFile != "" {
		if err := validateSource(journalFile, "journal file"); err != nil {
			return err
		}
	}
	return nil
}
