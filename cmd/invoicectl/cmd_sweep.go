package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-pipeline/internal/app"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ingest"
)

var sweepFlags struct {
	grace time.Duration
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-enqueue artifacts stuck in the pending area",
	Long: "sweep publishes every upload whose enqueue failed, and releases and\n" +
		"publishes claims older than the grace period left by a worker that died\n" +
		"mid-run. Artifacts still waiting in the queue are not touched.",
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepFlags.grace, "grace", -1, "Minimum claim age (default SWEEP_GRACE)")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	grace := cfg.Worker.SweepGrace
	if sweepFlags.grace >= 0 {
		grace = sweepFlags.grace
	}

	q, err := app.DialQueue(ctx, cfg.Queue, "invoicectl", logger)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer q.Close()

	stats, err := ingest.NewSweeper(app.Layout(cfg.Storage), q, grace, logger).Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "found %d, published %d, failed %d\n", stats.Found, stats.Published, stats.Failed)
	if stats.Failed > 0 {
		return fmt.Errorf("%d artifacts could not be published", stats.Failed)
	}
	return nil
}
