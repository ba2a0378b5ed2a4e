package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
)

// Client errors carry the message shown to the uploader.
var (
	ErrNoFile          = common.NewAppError("NO_FILE", "No selected file", common.ErrInvalidInput)
	ErrEmptyFile       = common.NewAppError("EMPTY_FILE", "Uploaded file is empty", common.ErrInvalidInput)
	ErrUnsupportedType = common.NewAppError("UNSUPPORTED_TYPE", "Unsupported file type", common.ErrInvalidInput)
	ErrStore           = common.NewAppError("STORE_FAILED", "Failed to store upload", common.ErrInternal)
	ErrDispatch        = common.NewAppError("DISPATCH_FAILED", "Failed to send to queue", common.ErrUnavailable)
)

// ArtifactWriter is the pending-area side of filestore.Layout.
type ArtifactWriter interface {
	Store(name string, r io.Reader) (int64, error)
	Remove(name string) error
	MarkUnqueued(name string) error
}

// Gateway accepts uploads: it checks the extension allow-list, stores the
// file in the pending area under a unique name and enqueues that name.
type Gateway struct {
	store     ArtifactWriter
	publisher queue.Publisher
	allowed   map[string]struct{}
	logger    *slog.Logger
}

// NewGateway builds a gateway. An empty allowedExts means png, jpg and jpeg.
func NewGateway(store ArtifactWriter, publisher queue.Publisher, allowedExts []string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		store:     store,
		publisher: publisher,
		allowed:   constants.ExtensionSet(allowedExts),
		logger:    logger,
	}
}

// Allowed reports whether filename's extension may be uploaded.
func (g *Gateway) Allowed(filename string) bool {
	ext := constants.NormalizeExt(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	_, ok := g.allowed[ext]
	return ok
}

// StoredName returns the pending-area name for an upload called filename.
func StoredName(filename string) string {
	ext := filepath.Ext(filename)
	stem := SecureFilename(strings.TrimSuffix(filename, ext))
	if stem == "" {
		stem = "upload"
	}
	return uuid.NewString() + "_" + stem + "." + constants.NormalizeExt(ext)
}

// Submit stores the upload and enqueues it, returning the stored name.
// When publishing fails the file stays in pending, marked for the sweeper to
// enqueue later.
func (g *Gateway) Submit(ctx context.Context, filename string, r io.Reader) (string, error) {
	log := common.LoggerFrom(ctx, g.logger)

	if strings.TrimSpace(filename) == "" {
		return "", ErrNoFile
	}
	if !g.Allowed(filename) {
		log.Info("upload rejected", "filename", filename, "reason", "unsupported file type")
		return "", fmt.Errorf("%q: %w", filename, ErrUnsupportedType)
	}

	name := StoredName(filename)
	n, err := g.store.Store(name, r)
	if err != nil {
		log.Error("failed to store upload", "filename", filename, "artifact", name, "error", err)
		return "", fmt.Errorf("%w: %w", ErrStore, err)
	}
	if n == 0 {
		if err := g.store.Remove(name); err != nil {
			log.Warn("failed to remove empty upload", "artifact", name, "error", err)
		}
		return "", ErrEmptyFile
	}

	if err := g.publisher.Publish(ctx, name); err != nil {
		log.Error("failed to enqueue upload, left for sweep", "artifact", name, "error", err)
		if merr := g.store.MarkUnqueued(name); merr != nil {
			log.Error("failed to mark upload for sweep", "artifact", name, "error", merr)
		}
		return name, fmt.Errorf("%w: %w", ErrDispatch, err)
	}

	log.Info("upload queued", "filename", filename, "artifact", name, "bytes", n)
	return name, nil
}
