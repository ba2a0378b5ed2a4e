package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/extract"
	"github.com/joseph-ayodele/invoice-pipeline/internal/filestore"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
)

type TextExtractor interface {
	Extract(ctx context.Context, path string) (ocr.Result, error)
}

type RecordValidator interface {
	Check(rec entity.ExtractedRecord) error
}

type InvoiceSink interface {
	Insert(ctx context.Context, rec entity.ExtractedRecord) (*entity.Invoice, error)
}

// ArtifactStore is the slice of filestore.Layout the processor needs.
type ArtifactStore interface {
	Claim(name string) (constants.Area, error)
	ClaimedPath(name string) string
	Decide(name string, area constants.Area) error
	Move(name string, area constants.Area) (string, error)
}

// Result describes what happened to one artifact.
type Result struct {
	Name      string
	State     State
	Outcome   Outcome
	Record    entity.ExtractedRecord
	InvoiceID int64
	Pages     int
	// FinalName differs from Name when the destination already held Name.
	FinalName string
	Area      constants.Area
	Duration  time.Duration
	Err       error
}

// Processor runs one artifact from Received to Relocated.
type Processor struct {
	extractor TextExtractor
	validator RecordValidator
	sink      InvoiceSink
	store     ArtifactStore
	logger    *slog.Logger
}

func NewProcessor(extractor TextExtractor, validator RecordValidator, sink InvoiceSink, store ArtifactStore, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		extractor: extractor,
		validator: validator,
		sink:      sink,
		store:     store,
		logger:    logger,
	}
}

// Process extracts, validates and persists the named pending artifact, then
// moves it to processed or unprocessed. It never returns an error: every
// failure ends as a Rejected outcome and the details are in Result.Err.
// An artifact that is gone, or held by another run, yields Skipped and is
// left alone. When an earlier run already reached an outcome but could not
// relocate the artifact, only the move is retried; nothing is inserted again.
func (p *Processor) Process(ctx context.Context, name string) Result {
	start := time.Now()
	ctx = common.WithArtifact(ctx, name)
	log := common.LoggerFrom(ctx, p.logger)
	res := Result{Name: name, State: StateReceived}

	if !filestore.ValidName(name) {
		res.Outcome = Skipped("invalid artifact name")
		res.Err = fmt.Errorf("%w: %q", filestore.ErrInvalidName, name)
		res.Duration = time.Since(start)
		log.Warn("skipping work item", "outcome", res.Outcome.Kind, "reason", res.Outcome.Reason)
		return res
	}

	decided, err := p.store.Claim(name)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		switch {
		case errors.Is(err, filestore.ErrArtifactMissing):
			res.Outcome = Skipped("artifact not in pending area")
		case errors.Is(err, filestore.ErrClaimed):
			res.Outcome = Skipped("artifact claimed by another run")
		default:
			// still waiting in pending; the caller retries later
			res.Outcome = Rejected("could not claim artifact")
			log.Error("artifact left in pending area", "outcome", res.Outcome.Kind, "error", err)
			return res
		}
		log.Warn("skipping work item", "outcome", res.Outcome.Kind, "reason", res.Outcome.Reason, "error", err)
		return res
	}

	if decided != "" {
		log.Info("retrying relocation of decided artifact", "area", decided)
		out := Persisted()
		res.State = StatePersisted
		if decided == constants.AreaUnprocessed {
			out = Rejected("relocation retry")
		}
		p.route(log, &res, out, false)
	} else {
		outcome := p.run(ctx, log, &res)
		p.route(log, &res, outcome, true)
	}
	res.Duration = time.Since(start)

	attrs := []any{
		"outcome", res.Outcome.Kind,
		"state", res.State.String(),
		"area", res.Area,
		"pages", res.Pages,
		"duration_ms", res.Duration.Milliseconds(),
	}
	switch {
	case res.State != StateRelocated:
		log.Error("artifact left in pending area", append(attrs, "error", res.Err)...)
	case res.Outcome.Kind == OutcomePersisted:
		log.Info("invoice processed", append(attrs, "invoice_id", res.InvoiceID, "record", res.Record)...)
	default:
		log.Warn("invoice rejected", append(attrs, "reason", res.Outcome.Reason, "error", res.Err)...)
	}
	return res
}

// run executes the stages up to Persisted or Rejected. A panic in any stage
// becomes a Rejected outcome.
func (p *Processor) run(ctx context.Context, log *slog.Logger, res *Result) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing artifact", "state", res.State.String(), "panic", r, "stack", string(debug.Stack()))
			res.Err = fmt.Errorf("%w: panic after %s: %v", common.ErrInternal, res.State, r)
			out = Rejected(fmt.Sprintf("internal error after %s", res.State))
		}
	}()

	ext, err := p.extractor.Extract(ctx, p.store.ClaimedPath(res.Name))
	res.Pages = ext.Pages
	if err != nil {
		res.Err = err
		if errors.Is(err, ocr.ErrRecognize) {
			res.State = StateRendered
			return Rejected("text extraction failed")
		}
		return Rejected("could not render document")
	}
	res.State = StateExtracted
	log.Debug("text extracted", "pages", ext.Pages, "chars", len(ext.Text))

	res.Record = extract.ParseFields(ext.Text)
	res.State = StateParsed

	if err := p.validator.Check(res.Record); err != nil {
		res.Err = err
		var incomplete *extract.IncompleteError
		if errors.As(err, &incomplete) {
			return Rejected(incomplete.Error())
		}
		return Rejected("validation failed")
	}
	res.State = StateValidated

	inv, err := p.sink.Insert(ctx, res.Record)
	if err != nil {
		res.Err = err
		return Rejected("could not persist record")
	}
	res.InvoiceID = inv.ID
	res.State = StatePersisted
	return Persisted()
}

// route is the single place an artifact leaves the pending area. A fresh
// outcome is recorded next to the artifact first, so a failed move can be
// retried later without running the stages again.
func (p *Processor) route(log *slog.Logger, res *Result, out Outcome, record bool) {
	res.Outcome = out
	if out.Kind == OutcomeRejected {
		res.State = StateRejected
	}
	area := out.Area()
	if record {
		if err := p.store.Decide(res.Name, area); err != nil {
			log.Warn("could not record outcome before relocation", "area", area, "error", err)
		}
	}
	final, err := p.store.Move(res.Name, area)
	if err != nil {
		res.Err = errors.Join(res.Err, fmt.Errorf("relocate to %s: %w", area, err))
		return
	}
	if final != res.Name {
		log.Warn("destination already held artifact name, stored under new name", "area", area, "final_name", final)
	}
	res.FinalName = final
	res.Area = area
	res.State = StateRelocated
}
