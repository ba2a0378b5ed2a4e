package main

import (
	"fmt"
	"io"

	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
)

func printResult(out io.Writer, res pipeline.Result) {
	switch res.Outcome.Kind {
	case pipeline.OutcomePersisted:
		fmt.Fprintf(out, "%-9s %s -> %s/%s (invoice #%d)\n", res.Outcome.Kind, res.Name, res.Area, res.FinalName, res.InvoiceID)
	case pipeline.OutcomeRejected:
		where := string(res.Area)
		if res.State != pipeline.StateRelocated {
			where = "pending"
		}
		fmt.Fprintf(out, "%-9s %s -> %s: %s\n", res.Outcome.Kind, res.Name, where, res.Outcome.Reason)
	default:
		fmt.Fprintf(out, "%-9s %s: %s\n", res.Outcome.Kind, res.Name, res.Outcome.Reason)
	}
}
