package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-pipeline/internal/app"
	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
)

var processFlags struct {
	all bool
}

var processCmd = &cobra.Command{
	Use:   "process [artifact...]",
	Short: "Run pending artifacts through the pipeline without the broker",
	Long: "process extracts, validates, persists and relocates the named pending\n" +
		"artifacts in this process. With --all every visible pending artifact is\n" +
		"processed, oldest first. Do not run it against artifacts a worker is\n" +
		"consuming at the same time.",
	RunE: runProcess,
}

func init() {
	processCmd.Flags().BoolVar(&processFlags.all, "all", false, "Process every pending artifact")
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	layout := app.Layout(cfg.Storage)
	if err := layout.Init(); err != nil {
		return err
	}

	names := args
	if processFlags.all {
		pending, err := layout.ListPending(time.Now())
		if err != nil {
			return err
		}
		for _, p := range pending {
			names = append(names, p.Name)
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("no artifacts given; name them or pass --all")
	}

	store, err := app.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	proc, err := app.NewProcessor(cfg, layout, store.Invoices, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var rejected int
	for _, name := range names {
		res := proc.Process(ctx, name)
		printResult(out, res)
		if res.Outcome.Kind == pipeline.OutcomeRejected {
			rejected++
		}
	}
	fmt.Fprintf(out, "%d processed, %d rejected\n", len(names), rejected)
	return nil
}
