package cmd

import (
	"github.com/spf13/cobra"

	"crm-import-service/internal/importer"
)

// Flags for the backfill-invoice-items command
var (
	summaryFile    string
	onlyInvoices   []string
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill-invoice-items <source>",
	Short: "Replace invoice line items from a sales detail export",
	Long: `Backfill-invoice-items reads the QuickBooks Sales by Customer Detail report,
replaces the line items of every invoice it mentions and reconciles the
invoice totals with the new lines. Invoices missing from the CRM are created
from the optional invoice summary export.

Examples:
  importer backfill-invoice-items sales-detail.csv
  importer backfill-invoice-items sales-detail.csv --summary invoices.csv --dry-run
  importer backfill-invoice-items sales-detail.csv --invoice 1042 --invoice 1043`,
	Args:    cobra.ExactArgs(1),
	PreRunE: validateBackfillFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, "backfill-invoice-items", backfillDryRun, importer.BackfillJob(args[0], summaryFile, onlyInvoices))
	},
}

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().StringVar(&summaryFile, "summary", "", "invoice summary export used to create missing invoices")
	backfillCmd.Flags().StringArrayVar(&onlyInvoices, "invoice", nil, "QuickBooks invoice number to process (repeatable)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "validate and report without saving")
}

func validateBackfillFlags(cmd *cobra.Command, args []string) error {
	if err := validateSource(args[0], "sales detail file"); err != nil {
		return err
	}
	if summaryFile != "" {
		return validateSource(summaryFile, "summary file")
	}
	return nil
}
