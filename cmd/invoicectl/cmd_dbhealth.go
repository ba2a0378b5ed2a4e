package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-pipeline/internal/app"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

var dbhealthCmd = &cobra.Command{
	Use:   "dbhealth",
	Short: "Check the database and show the latest invoices",
	RunE:  runDBHealth,
}

func runDBHealth(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	store, err := app.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("DB health: FAIL (%w)", err)
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "DB health: OK (%s)\n", store.DB.Dialect())

	invoices, err := store.Invoices.List(ctx, repository.ListFilter{Limit: 10})
	if err != nil {
		return fmt.Errorf("listing invoices: %w", err)
	}
	fmt.Fprintf(out, "invoices (first %d):\n", len(invoices))
	for _, inv := range invoices {
		fmt.Fprintf(out, "- [%d] %s %s %s %s\n", inv.ID, inv.InvoiceNumber, inv.Vendor, inv.Date, inv.Total)
	}
	return nil
}
