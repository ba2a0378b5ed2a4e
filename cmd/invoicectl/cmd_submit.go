package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-pipeline/internal/app"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ingest"
)

var submitFlags struct {
	includeHidden bool
}

var submitCmd = &cobra.Command{
	Use:   "submit <dir>",
	Short: "Upload every allowed file under a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().BoolVar(&submitFlags.includeHidden, "include-hidden", false, "Also submit hidden files and directories")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	layout := app.Layout(cfg.Storage)
	if err := layout.Init(); err != nil {
		return err
	}

	q, err := app.DialQueue(ctx, cfg.Queue, "invoicectl", logger)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer q.Close()

	gateway := ingest.NewGateway(layout, q, cfg.Server.AllowedExtensions, logger)
	results, stats, err := gateway.SubmitDirectory(ctx, args[0], !submitFlags.includeHidden)

	out := cmd.OutOrStdout()
	for _, r := range results {
		if r.Err != "" {
			fmt.Fprintf(out, "FAIL %s: %s\n", r.Path, r.Err)
			continue
		}
		fmt.Fprintf(out, "ok   %s -> %s\n", r.Path, r.Stored)
	}
	fmt.Fprintf(out, "matched %d, queued %d, failed %d\n", stats.Matched, stats.Succeeded, stats.Failed)
	return err
}
