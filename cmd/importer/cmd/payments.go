package cmd

import (
	"github.com/spf13/cobra"

	"crm-import-service/internal/importer"
)

var paymentsDryRun bool

var paymentsCmd = &cobra.Command{
	Use:   "import-payments <source>",
	Short: "Apply customer payments to open invoices",
	Long: `Import-payments reads the QuickBooks Customer Transactions report and applies
every payment to the customer's open invoices, oldest first. Payments that
were already imported are recognised by reference or by date and amount.

Examples:
  importer import-payments customer-transactions.csv
  importer import-payments customer-transactions.xlsx --dry-run`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateSource(args[0], "customer transactions file")
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, "import-payments", paymentsDryRun, importer.PaymentsJob(args[0]))
	},
}

func init() {
	rootCmd.AddCommand(paymentsCmd)

	paymentsCmd.Flags().BoolVar(&paymentsDryRun, "dry-run", false, "validate and report without saving")
}
