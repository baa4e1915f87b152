package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"crm-import-service/cmd/importer/config"
	"crm-import-service/pkg/logger"
)

var (
	cfgFile   string
	verbose   bool
	logLevel  string
	logFormat string
	version   = "dev"
	commit    = "unknown"
	date      = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "importer",
	Short: "QuickBooks and InvoicePlane to CRM import tool",
	Long: `Importer loads QuickBooks report exports into the CRM database: journal
entries and account balances, invoice line items, and customer payments.
It also imports customers, quotes and invoices from an InvoicePlane export.
Every command runs in a single transaction and supports --dry-run.

Examples:
  importer import-ledger --journal journal.csv --ledger general-ledger.csv
  importer backfill-invoice-items sales-detail.csv --summary invoices.csv --dry-run
  importer import-payments customer-transactions.xlsx
  importer import-invoiceplane invoiceplane-export.json --only customers,invoices
  importer import-vendor-transactions vendor-transactions.csv
  importer version`,
	Version:           getVersionString(),
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogger,
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return NewCLIErrorHandler().HandleError(err)
	}
	return 0
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text, json")
	rootCmd.PersistentFlags().String("output-format", "", "summary format: console, json, csv")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("output.format", rootCmd.PersistentFlags().Lookup("output-format"))

	config.SetDefaults(viper.GetViper())
}

// initConfig reads in .env, the config file and ENV variables.
func initConfig() {
	// A missing .env is normal outside development.
	godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	config.BindEnv(viper.GetViper())
}

// setupLogger installs the global logger from the log.* settings.
func setupLogger(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if err := cfg.Log.Validate(); err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.Log.LoggerConfig(viper.GetBool("verbose")))
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(log)
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
