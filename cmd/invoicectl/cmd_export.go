package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-pipeline/internal/app"
	"github.com/joseph-ayodele/invoice-pipeline/internal/export"
)

var exportFlags struct {
	out    string
	vendor string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write persisted invoices to an XLSX workbook",
	RunE:  runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVarP(&exportFlags.out, "out", "o", "invoices.xlsx", "Output file")
	f.StringVar(&exportFlags.vendor, "vendor", "", "Only export this vendor")
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	store, err := app.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	data, err := export.NewService(store.Invoices, logger).ExportInvoicesXLSX(ctx, exportFlags.vendor)
	if err != nil {
		return err
	}
	if err := os.WriteFile(exportFlags.out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", exportFlags.out, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", exportFlags.out, len(data))
	return nil
}
