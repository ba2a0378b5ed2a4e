package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/extract"
	"github.com/joseph-ayodele/invoice-pipeline/internal/filestore"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
)

type stubExtractor struct {
	text  string
	pages int
	err   error
	panic bool
}

func (s stubExtractor) Extract(context.Context, string) (ocr.Result, error) {
	if s.panic {
		panic("renderer blew up")
	}
	if s.err != nil {
		return ocr.Result{}, s.err
	}
	pages := s.pages
	if pages == 0 {
		pages = 1
	}
	return ocr.Result{Text: s.text, Pages: pages}, nil
}

type memorySink struct {
	rows []entity.ExtractedRecord
	err  error
}

func (m *memorySink) Insert(_ context.Context, rec entity.ExtractedRecord) (*entity.Invoice, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.rows = append(m.rows, rec)
	return &entity.Invoice{ID: int64(len(m.rows))}, nil
}

type fixture struct {
	layout filestore.Layout
	sink   *memorySink
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	l := filestore.NewLayout(filepath.Join(root, "inbox"), filepath.Join(root, "processed"), filepath.Join(root, "unprocessed"))
	require.NoError(t, l.Init())
	return fixture{layout: l, sink: &memorySink{}}
}

func (f fixture) processor(t *testing.T, x TextExtractor) *Processor {
	t.Helper()
	v, err := extract.NewValidator()
	require.NoError(t, err)
	return NewProcessor(x, v, f.sink, f.layout, nil)
}

func (f fixture) stage(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.layout.PendingPath(name), []byte("scan"), 0o644))
}

// assertResidesIn checks the artifact lives in exactly one area.
func (f fixture) assertResidesIn(t *testing.T, name string, area constants.Area) {
	t.Helper()
	assert.Equal(t, []constants.Area{area}, f.layout.Locate(name))
}

func TestProcess_CompleteInvoiceIsPersistedAndProcessed(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "a.png")
	p := f.processor(t, stubExtractor{text: "Invoice: 123\nVendor: Acme\nDate: 2024-01-01\nTotal Amount Due: 42.00"})

	res := p.Process(context.Background(), "a.png")

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomePersisted, res.Outcome.Kind)
	assert.Equal(t, StateRelocated, res.State)
	assert.Equal(t, constants.AreaProcessed, res.Area)
	assert.Equal(t, "a.png", res.FinalName)
	assert.EqualValues(t, 1, res.InvoiceID)
	require.Len(t, f.sink.rows, 1)
	assert.Equal(t, []string{"123", "Acme", "2024-01-01", "42.00"}, f.sink.rows[0].Values())
	f.assertResidesIn(t, "a.png", constants.AreaProcessed)
}

func TestProcess_IncompleteInvoiceIsRejected(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "b.png")
	p := f.processor(t, stubExtractor{text: "Vendor: Acme"})

	res := p.Process(context.Background(), "b.png")

	assert.Equal(t, OutcomeRejected, res.Outcome.Kind)
	assert.Contains(t, res.Outcome.Reason, "invoice_number")
	assert.ErrorIs(t, res.Err, common.ErrValidation)
	assert.Equal(t, constants.AreaUnprocessed, res.Area)
	assert.Empty(t, f.sink.rows)
	assert.Nil(t, res.Record.InvoiceNumber)
	assert.Equal(t, "Acme", *res.Record.Vendor)
	f.assertResidesIn(t, "b.png", constants.AreaUnprocessed)
}

func TestProcess_FailuresAreRejected(t *testing.T) {
	full := "Invoice: 1\nVendor: V\nDate: D\nTotal Amount Due: T"
	tests := []struct {
		name      string
		extractor stubExtractor
		sinkErr   error
		reason    string
		wantErr   error
	}{
		{
			name:      "render failure",
			extractor: stubExtractor{err: fmt.Errorf("%w: decode: bad header", ocr.ErrRender)},
			reason:    "could not render document",
			wantErr:   ocr.ErrRender,
		},
		{
			name:      "oracle failure",
			extractor: stubExtractor{err: fmt.Errorf("%w: page 2: boom", ocr.ErrRecognize)},
			reason:    "text extraction failed",
			wantErr:   ocr.ErrRecognize,
		},
		{
			name:      "store failure",
			extractor: stubExtractor{text: full},
			sinkErr:   fmt.Errorf("insert invoice: %w", common.ErrDatabase),
			reason:    "could not persist record",
			wantErr:   common.ErrDatabase,
		},
		{
			name:      "panic in a stage",
			extractor: stubExtractor{panic: true},
			reason:    "internal error after received",
			wantErr:   common.ErrInternal,
		},
		{
			name:      "empty text",
			extractor: stubExtractor{text: ""},
			reason:    "incomplete record: missing invoice_number, vendor, date, total",
			wantErr:   common.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.sink.err = tt.sinkErr
			f.stage(t, "x.pdf")

			res := f.processor(t, tt.extractor).Process(context.Background(), "x.pdf")

			assert.Equal(t, OutcomeRejected, res.Outcome.Kind)
			assert.Equal(t, tt.reason, res.Outcome.Reason)
			assert.ErrorIs(t, res.Err, tt.wantErr)
			assert.Equal(t, StateRelocated, res.State)
			f.assertResidesIn(t, "x.pdf", constants.AreaUnprocessed)
			assert.Empty(t, f.sink.rows)
		})
	}
}

func TestProcess_RedeliveryOfRelocatedArtifactIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "a.png")
	p := f.processor(t, stubExtractor{text: "Invoice: 1\nVendor: V\nDate: D\nTotal Amount Due: T"})

	first := p.Process(context.Background(), "a.png")
	require.Equal(t, OutcomePersisted, first.Outcome.Kind)

	second := p.Process(context.Background(), "a.png")
	assert.Equal(t, OutcomeSkipped, second.Outcome.Kind)
	assert.ErrorIs(t, second.Err, filestore.ErrArtifactMissing)
	assert.Equal(t, StateReceived, second.State)
	assert.Len(t, f.sink.rows, 1)
	f.assertResidesIn(t, "a.png", constants.AreaProcessed)
}

func TestProcess_InvalidNameIsSkipped(t *testing.T) {
	f := newFixture(t)
	p := f.processor(t, stubExtractor{text: "Vendor: x"})

	res := p.Process(context.Background(), "../../etc/passwd")
	assert.Equal(t, OutcomeSkipped, res.Outcome.Kind)
	assert.ErrorIs(t, res.Err, filestore.ErrInvalidName)
}

func TestProcess_CollisionInDestinationKeepsBoth(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.layout.Unprocessed, "dup.png"), []byte("earlier"), 0o644))
	f.stage(t, "dup.png")
	p := f.processor(t, stubExtractor{text: "nothing useful"})

	res := p.Process(context.Background(), "dup.png")

	assert.Equal(t, StateRelocated, res.State)
	assert.NotEqual(t, "dup.png", res.FinalName)
	assert.FileExists(t, filepath.Join(f.layout.Unprocessed, "dup.png"))
	assert.FileExists(t, filepath.Join(f.layout.Unprocessed, res.FinalName))
	ok, err := f.layout.InPending("dup.png")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcess_RelocationFailureLeavesArtifactPending(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "a.png")
	// replace the unprocessed area with a plain file so the move fails
	require.NoError(t, os.RemoveAll(f.layout.Unprocessed))
	require.NoError(t, os.WriteFile(f.layout.Unprocessed, nil, 0o644))
	p := f.processor(t, stubExtractor{text: "Vendor: x"})

	res := p.Process(context.Background(), "a.png")

	assert.Equal(t, OutcomeRejected, res.Outcome.Kind)
	assert.Equal(t, StateRejected, res.State)
	require.Error(t, res.Err)
	assert.Empty(t, res.Area)
	ok, err := f.layout.InPending("a.png")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcess_FailedMoveToProcessedIsRetriedWithoutReinsert(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "a.png")
	require.NoError(t, os.RemoveAll(f.layout.Processed))
	require.NoError(t, os.WriteFile(f.layout.Processed, nil, 0o644))
	p := f.processor(t, stubExtractor{text: "Invoice: 1\nVendor: V\nDate: D\nTotal Amount Due: T"})

	for i := 0; i < 3; i++ {
		res := p.Process(context.Background(), "a.png")
		assert.Equal(t, OutcomePersisted, res.Outcome.Kind, "run %d", i)
		assert.Equal(t, StatePersisted, res.State, "run %d", i)
		require.Error(t, res.Err)
	}
	assert.Len(t, f.sink.rows, 1)
	f.assertResidesIn(t, "a.png", constants.AreaPending)

	require.NoError(t, os.Remove(f.layout.Processed))
	require.NoError(t, os.Mkdir(f.layout.Processed, 0o755))

	res := p.Process(context.Background(), "a.png")
	require.NoError(t, res.Err)
	assert.Equal(t, StateRelocated, res.State)
	assert.Equal(t, constants.AreaProcessed, res.Area)
	assert.Len(t, f.sink.rows, 1)
	f.assertResidesIn(t, "a.png", constants.AreaProcessed)
}

func TestProcess_FailedMoveToUnprocessedIsRetried(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "a.png")
	require.NoError(t, os.RemoveAll(f.layout.Unprocessed))
	require.NoError(t, os.WriteFile(f.layout.Unprocessed, nil, 0o644))
	calls := 0
	p := f.processor(t, countingExtractor{calls: &calls, text: "Vendor: x"})

	first := p.Process(context.Background(), "a.png")
	require.Equal(t, StateRejected, first.State)

	require.NoError(t, os.Remove(f.layout.Unprocessed))
	require.NoError(t, os.Mkdir(f.layout.Unprocessed, 0o755))

	second := p.Process(context.Background(), "a.png")
	assert.Equal(t, OutcomeRejected, second.Outcome.Kind)
	assert.Equal(t, StateRelocated, second.State)
	assert.Equal(t, 1, calls, "stages ran again")
	f.assertResidesIn(t, "a.png", constants.AreaUnprocessed)
}

type countingExtractor struct {
	calls *int
	text  string
}

func (c countingExtractor) Extract(context.Context, string) (ocr.Result, error) {
	*c.calls++
	return ocr.Result{Text: c.text, Pages: 1}, nil
}

// gatedExtractor blocks until release is closed.
type gatedExtractor struct {
	entered chan struct{}
	release chan struct{}
	text    string
}

func (g gatedExtractor) Extract(context.Context, string) (ocr.Result, error) {
	close(g.entered)
	<-g.release
	return ocr.Result{Text: g.text, Pages: 1}, nil
}

func TestProcess_ConcurrentRunsInsertOnce(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "a.png")
	x := gatedExtractor{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		text:    "Invoice: 1\nVendor: V\nDate: D\nTotal Amount Due: T",
	}
	p := f.processor(t, x)

	firstDone := make(chan Result, 1)
	go func() { firstDone <- p.Process(context.Background(), "a.png") }()
	<-x.entered

	second := p.Process(context.Background(), "a.png")
	assert.Equal(t, OutcomeSkipped, second.Outcome.Kind)
	assert.ErrorIs(t, second.Err, filestore.ErrClaimed)

	close(x.release)
	first := <-firstDone
	assert.Equal(t, StateRelocated, first.State)
	assert.Len(t, f.sink.rows, 1)
	f.assertResidesIn(t, "a.png", constants.AreaProcessed)
}

// recordingStore logs the calls the processor makes on the layout.
type recordingStore struct {
	filestore.Layout
	calls *[]string
}

func (r recordingStore) Claim(name string) (constants.Area, error) {
	*r.calls = append(*r.calls, "claim")
	return r.Layout.Claim(name)
}

func (r recordingStore) Decide(name string, area constants.Area) error {
	*r.calls = append(*r.calls, "decide "+string(area))
	return r.Layout.Decide(name, area)
}

func (r recordingStore) Move(name string, area constants.Area) (string, error) {
	*r.calls = append(*r.calls, "move "+string(area))
	return r.Layout.Move(name, area)
}

// orderedSink checks the artifact is still pending when the row is written.
type orderedSink struct {
	t      *testing.T
	layout filestore.Layout
	calls  *[]string
}

func (o orderedSink) Insert(_ context.Context, rec entity.ExtractedRecord) (*entity.Invoice, error) {
	*o.calls = append(*o.calls, "insert")
	assert.Equal(o.t, []constants.Area{constants.AreaPending}, o.layout.Locate("a.png"))
	return &entity.Invoice{ID: 7}, nil
}

func TestProcess_PersistsBeforeRelocating(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "a.png")
	var calls []string
	v, err := extract.NewValidator()
	require.NoError(t, err)
	p := NewProcessor(
		stubExtractor{text: "Invoice: 1\nVendor: V\nDate: D\nTotal Amount Due: T"},
		v,
		orderedSink{t: t, layout: f.layout, calls: &calls},
		recordingStore{Layout: f.layout, calls: &calls},
		nil,
	)

	res := p.Process(context.Background(), "a.png")

	require.NoError(t, res.Err)
	assert.EqualValues(t, 7, res.InvoiceID)
	assert.Equal(t, []string{"claim", "insert", "decide processed", "move processed"}, calls)
	f.assertResidesIn(t, "a.png", constants.AreaProcessed)
}

type brokenClaimStore struct {
	filestore.Layout
}

func (brokenClaimStore) Claim(string) (constants.Area, error) {
	return "", &os.LinkError{Op: "link", Old: "a.png", New: ".claim.a.png", Err: os.ErrPermission}
}

func TestProcess_ClaimFailureLeavesArtifactUnrelocated(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "a.png")
	v, err := extract.NewValidator()
	require.NoError(t, err)
	p := NewProcessor(stubExtractor{text: "Vendor: x"}, v, f.sink, brokenClaimStore{f.layout}, nil)

	res := p.Process(context.Background(), "a.png")

	assert.Equal(t, OutcomeRejected, res.Outcome.Kind)
	assert.Equal(t, StateReceived, res.State)
	assert.ErrorIs(t, res.Err, os.ErrPermission)
	assert.Empty(t, f.sink.rows)
	assert.FileExists(t, f.layout.PendingPath("a.png"))
}

func TestOutcomeArea(t *testing.T) {
	assert.Equal(t, constants.AreaProcessed, Persisted().Area())
	assert.Equal(t, constants.AreaUnprocessed, Rejected("x").Area())
	assert.Equal(t, constants.Area(""), Skipped("x").Area())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "relocated", StateRelocated.String())
	assert.Equal(t, "unknown", State(99).String())
}
