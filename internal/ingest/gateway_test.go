package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/filestore"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
)

type recordingPublisher struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, name string) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append(p.names, name)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.names...)
}

func newLayout(t *testing.T) filestore.Layout {
	t.Helper()
	root := t.TempDir()
	l := filestore.NewLayout(filepath.Join(root, "inbox"), filepath.Join(root, "processed"), filepath.Join(root, "unprocessed"))
	require.NoError(t, l.Init())
	return l
}

func pendingNames(t *testing.T, l filestore.Layout) []string {
	t.Helper()
	entries, err := os.ReadDir(l.Pending)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

var storedNameRE = regexp.MustCompile(`^[0-9a-f-]{36}_[A-Za-z0-9_.-]+\.[a-z0-9]+$`)

func TestStoredName(t *testing.T) {
	a := StoredName("My Invoice.PNG")
	b := StoredName("My Invoice.PNG")
	assert.NotEqual(t, a, b)
	assert.Regexp(t, storedNameRE, a)
	assert.True(t, strings.HasSuffix(a, "_My_Invoice.png"), a)

	assert.True(t, strings.HasSuffix(StoredName("日本語.jpg"), "_upload.jpg"))
	assert.True(t, filestore.ValidName(StoredName("../../x.jpeg")))
}

func TestGateway_Allowed(t *testing.T) {
	g := NewGateway(nil, nil, nil, nil)
	assert.True(t, g.Allowed("a.png"))
	assert.True(t, g.Allowed("a.JPG"))
	assert.True(t, g.Allowed("a.jpeg"))
	assert.False(t, g.Allowed("report.pdf"))
	assert.False(t, g.Allowed("png"))
	assert.False(t, g.Allowed("noext"))

	withPDF := NewGateway(nil, nil, []string{"png", ".PDF"}, nil)
	assert.True(t, withPDF.Allowed("report.pdf"))
	assert.False(t, withPDF.Allowed("a.jpg"))
}

func TestGateway_SubmitStoresAndEnqueues(t *testing.T) {
	l := newLayout(t)
	q := queue.NewMemory(1)
	g := NewGateway(l, q, nil, nil)

	name, err := g.Submit(context.Background(), "scan 1.png", strings.NewReader("png bytes"))
	require.NoError(t, err)

	assert.Regexp(t, storedNameRE, name)
	assert.Equal(t, []string{name}, pendingNames(t, l))
	data, err := os.ReadFile(l.PendingPath(name))
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(data))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case d := <-deliveries:
		assert.Equal(t, name, d.Body())
		require.NoError(t, d.Ack())
	case <-ctx.Done():
		t.Fatalf("nothing was enqueued")
	}
}

func TestGateway_UnsupportedTypeStoresNothing(t *testing.T) {
	l := newLayout(t)
	q := queue.NewMemory(1)
	g := NewGateway(l, q, nil, nil)

	name, err := g.Submit(context.Background(), "report.pdf", strings.NewReader("%PDF-1.7"))

	assert.Empty(t, name)
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Equal(t, "Unsupported file type", common.ClientMessage(err))
	assert.Empty(t, pendingNames(t, l))
	assert.Equal(t, 0, q.Pending())
}

func TestGateway_NoFileName(t *testing.T) {
	g := NewGateway(newLayout(t), &recordingPublisher{}, nil, nil)
	_, err := g.Submit(context.Background(), "  ", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestGateway_EmptyFileIsRemoved(t *testing.T) {
	l := newLayout(t)
	pub := &recordingPublisher{}
	g := NewGateway(l, pub, nil, nil)

	_, err := g.Submit(context.Background(), "blank.jpg", bytes.NewReader(nil))

	assert.ErrorIs(t, err, ErrEmptyFile)
	assert.Empty(t, pendingNames(t, l))
	assert.Empty(t, pub.published())
}

func TestGateway_PublishFailureLeavesArtifactForSweep(t *testing.T) {
	l := newLayout(t)
	g := NewGateway(l, &recordingPublisher{err: errors.New("broker down")}, nil, nil)

	name, err := g.Submit(context.Background(), "a.png", strings.NewReader("x"))

	assert.ErrorIs(t, err, ErrDispatch)
	assert.ErrorIs(t, err, common.ErrUnavailable)
	require.NotEmpty(t, name)
	assert.ElementsMatch(t, []string{name, ".unqueued." + name}, pendingNames(t, l))

	// the sweeper picks it up once the broker is back, once
	pub := &recordingPublisher{}
	s := NewSweeper(l, pub, time.Hour, nil)
	stats, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Found: 1, Published: 1}, stats)
	assert.Equal(t, []string{name}, pub.published())
	assert.Equal(t, []string{name}, pendingNames(t, l))

	stats, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{}, stats)
	assert.Len(t, pub.published(), 1)
}

func TestGateway_StoreFailure(t *testing.T) {
	l := newLayout(t)
	require.NoError(t, os.RemoveAll(l.Pending))
	pub := &recordingPublisher{}
	g := NewGateway(l, pub, nil, nil)

	_, err := g.Submit(context.Background(), "a.png", strings.NewReader("x"))

	assert.ErrorIs(t, err, ErrStore)
	assert.Equal(t, 500, common.HTTPStatus(err))
	assert.Empty(t, pub.published())
}
