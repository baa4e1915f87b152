package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"crm-import-service/internal/crmclient"
	"crm-import-service/pkg/logger"
)

var vendorCmd = &cobra.Command{
	Use:   "import-vendor-transactions <source>",
	Short: "Upload vendor transactions to the CRM import endpoint",
	Long: `Import-vendor-transactions uploads the QuickBooks Vendor Transactions report
to the CRM, which creates the bills, expenses and bill payments it contains.
Requires crm.base_url (and usually crm.token) to be configured.

Examples:
  IMPORTER_CRM_BASE_URL=https://crm.example.com importer import-vendor-transactions vendor.csv`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateSource(args[0], "vendor transactions file")
	},
	RunE: runVendorTransactions,
}

func init() {
	rootCmd.AddCommand(vendorCmd)
}

func runVendorTransactions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.CRM.Validate(); err != nil {
		return err
	}

	client, err := crmclient.New(cfg.CRM.ClientConfig(), logger.GetGlobalLogger())
	if err != nil {
		return err
	}

	result, err := client.Import(commandContext(cmd), crmclient.KindVendorTransactions, args[0])
	if result != nil {
		writeRemoteResult(cmd.OutOrStdout(), result, err == nil)
	}
	return err
}

func writeRemoteResult(w io.Writer, result *crmclient.Result, ok bool) {
	message := result.Message
	if message == "" && ok {
		message = "Vendor transactions import complete"
	}
	if message != "" {
		fmt.Fprintln(w, message)
	}
	if result.Error != "" {
		fmt.Fprintln(w, result.Error)
	}

	width := 0
	for _, key := range result.CountKeys() {
		if len(key) > width {
			width = len(key)
		}
	}
	for _, key := range result.CountKeys() {
		fmt.Fprintf(w, "%-*s : %d\n", width, key, result.Counts[key])
	}

	if len(result.Errors) > 0 {
		fmt.Fprintln(w, "Warnings:")
		for _, e := range result.Errors {
			fmt.Fprintf(w, " - %s\n", e)
		}
	}
}
