package cmd

import (
	"github.com/spf13/cobra"

	"crm-import-service/internal/importer"
	"crm-import-service/internal/invoiceplane"
)

// Flags for the import-invoiceplane command
var (
	invoicePlaneOnly   []string
	invoicePlaneDryRun bool
)

var invoicePlaneCmd = &cobra.Command{
	Use:   "import-invoiceplane <export.json>",
	Short: "Import customers, quotes and invoices from an InvoicePlane export",
	Long: `Import-invoiceplane reads the JSON written by the InvoicePlane export script.
Clients are matched to CRM customers by email and created when missing.
Quotes and invoices are created with their items unless a record with the
same number already exists. Documents whose client cannot be matched are
reported and skipped.

Examples:
  importer import-invoiceplane invoiceplane-export.json
  importer import-invoiceplane invoiceplane-export.json --only invoices --dry-run`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateSource(args[0], "InvoicePlane export file"); err != nil {
			return err
		}
		return invoiceplane.ValidateSections(invoicePlaneOnly)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, "import-invoiceplane", invoicePlaneDryRun,
			importer.InvoicePlaneJob(args[0], invoicePlaneOnly))
	},
}

func init() {
	rootCmd.AddCommand(invoicePlaneCmd)

	invoicePlaneCmd.Flags().StringSliceVar(&invoicePlaneOnly, "only", nil, "sections to import: customers, quotes, invoices")
	invoicePlaneCmd.Flags().BoolVar(&invoicePlaneDryRun, "dry-run", false, "validate and report without saving")
}
