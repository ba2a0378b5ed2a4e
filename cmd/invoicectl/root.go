package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	dbURL    string
	logLevel string
}

var (
	cfg    *common.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "invoicectl",
	Short: "Operate the invoice OCR pipeline",
	Long: "invoicectl inspects and drives the invoice pipeline: export persisted\n" +
		"invoices, re-enqueue orphaned uploads, bulk-submit a directory and\n" +
		"process pending artifacts without a broker.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.dbURL, "db", "", "Database URL (overrides DB_URL)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(dbhealthCmd)
	rootCmd.Version = version
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := common.LoadConfig()
	if err != nil {
		return err
	}
	if rootFlags.dbURL != "" {
		c.Database.DSN = rootFlags.dbURL
	}
	if rootFlags.logLevel != "" {
		c.Log.Level = rootFlags.logLevel
	}
	// operators read the output; keep logs human readable
	c.Log.Format = "text"
	cfg = c
	logger = common.NewLogger(c.Log)
	return nil
}
