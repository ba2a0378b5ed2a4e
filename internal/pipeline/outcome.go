package pipeline

import "github.com/joseph-ayodele/invoice-pipeline/constants"

// State is a step of the per-artifact lifecycle.
type State int

const (
	StateReceived State = iota
	StateRendered
	StateExtracted
	StateParsed
	StateValidated
	StatePersisted
	StateRejected
	StateRelocated
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateRendered:
		return "rendered"
	case StateExtracted:
		return "extracted"
	case StateParsed:
		return "parsed"
	case StateValidated:
		return "validated"
	case StatePersisted:
		return "persisted"
	case StateRejected:
		return "rejected"
	case StateRelocated:
		return "relocated"
	}
	return "unknown"
}

type OutcomeKind string

const (
	OutcomePersisted OutcomeKind = "persisted"
	OutcomeRejected  OutcomeKind = "rejected"
	// OutcomeSkipped means there was nothing to process, e.g. a redelivery
	// of an artifact that already left the pending area.
	OutcomeSkipped OutcomeKind = "skipped"
)

// Outcome is the verdict for one artifact. Reason is set for Rejected and
// Skipped.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

func Persisted() Outcome { return Outcome{Kind: OutcomePersisted} }

func Rejected(reason string) Outcome { return Outcome{Kind: OutcomeRejected, Reason: reason} }

func Skipped(reason string) Outcome { return Outcome{Kind: OutcomeSkipped, Reason: reason} }

// Area is where the outcome sends the artifact, or "" when it stays put.
func (o Outcome) Area() constants.Area {
	switch o.Kind {
	case OutcomePersisted:
		return constants.AreaProcessed
	case OutcomeRejected:
		return constants.AreaUnprocessed
	}
	return ""
}
