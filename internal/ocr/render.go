package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
)

var (
	// ErrRender means the artifact could not be turned into page images.
	ErrRender = errors.New("render failed")
	// ErrUnsupportedFormat means the extension maps to neither PDF nor image.
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// Renderer turns a document on disk into page images.
type Renderer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewRenderer(cfg Config, runner Runner, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	return &Renderer{cfg: cfg.withDefaults(), runner: runner, logger: logger}
}

// Render returns the pages of path in document order. A PDF yields one image
// per page; every other supported format yields exactly one.
func (r *Renderer) Render(ctx context.Context, path string) ([]image.Image, error) {
	ext := constants.NormalizeExt(filepath.Ext(path))
	switch constants.MapExtToFormat(ext) {
	case constants.PDF:
		return r.renderPDF(ctx, path)
	case constants.IMAGE:
		if constants.IsHEICExt(ext) {
			return r.renderHEIC(ctx, path)
		}
		img, err := decodeFile(path)
		if err != nil {
			return nil, err
		}
		return []image.Image{img}, nil
	default:
		r.logger.Warn("unsupported document extension", "path", path, "extension", ext)
		return nil, fmt.Errorf("%w: %w: %q", ErrRender, ErrUnsupportedFormat, ext)
	}
}

func (r *Renderer) renderPDF(ctx context.Context, path string) ([]image.Image, error) {
	tmpDir, err := os.MkdirTemp("", "invoice-pp-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			r.logger.Warn("failed to remove temp dir", "dir", tmpDir, "error", err)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png [-f 1 -l N] <in.pdf> <tmp/page>
	args := []string{"-r", strconv.Itoa(r.cfg.DPI), "-png"}
	if r.cfg.MaxPages > 0 {
		args = append(args, "-f", "1", "-l", strconv.Itoa(r.cfg.MaxPages))
	}
	args = append(args, path, prefix)
	if _, errb, err := r.runner.Run(ctx, r.cfg.Pdftoppm, args...); err != nil {
		return nil, fmt.Errorf("%w: pdftoppm: %w: %s", ErrRender, err, strings.TrimSpace(truncate(string(errb), 512)))
	}

	pages, err := pageFiles(prefix)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: pdftoppm produced no pages", ErrRender)
	}
	if r.cfg.MaxPages > 0 && len(pages) > r.cfg.MaxPages {
		pages = pages[:r.cfg.MaxPages]
	}

	out := make([]image.Image, 0, len(pages))
	for _, p := range pages {
		img, err := decodeFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	r.logger.Debug("pdf rendered", "path", path, "pages", len(out), "dpi", r.cfg.DPI)
	return out, nil
}

// pageFiles collects prefix-N.png files ordered by N. pdftoppm pads N to
// the width of the page count, so the number is parsed, not compared as text.
func pageFiles(prefix string) ([]string, error) {
	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	type page struct {
		n    int
		path string
	}
	pages := make([]page, 0, len(matches))
	for _, m := range matches {
		num := strings.TrimSuffix(strings.TrimPrefix(m, prefix+"-"), ".png")
		n, err := strconv.Atoi(num)
		if err != nil {
			continue
		}
		pages = append(pages, page{n: n, path: m})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })

	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.path
	}
	return out, nil
}

// renderHEIC converts a HEIC/HEIF file to a temporary PNG using the chosen
// converter ("heif-convert" | "magick" | "sips") and decodes it.
func (r *Renderer) renderHEIC(ctx context.Context, in string) ([]image.Image, error) {
	tmpDir, err := os.MkdirTemp("", "invoice-heic-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	out := filepath.Join(tmpDir, "page.png")

	var args []string
	switch r.cfg.HeicConverter {
	case "heif-convert", "magick":
		args = []string{in, out}
	case "sips":
		args = []string{"-s", "format", "png", in, "--out", out}
	default:
		return nil, fmt.Errorf("%w: HEIC needs a converter: heif-convert | magick | sips, got %q", ErrRender, r.cfg.HeicConverter)
	}
	if _, errb, err := r.runner.Run(ctx, r.cfg.HeicConverter, args...); err != nil {
		return nil, fmt.Errorf("%w: %s: %w: %s", ErrRender, r.cfg.HeicConverter, err, strings.TrimSpace(truncate(string(errb), 512)))
	}

	img, err := decodeFile(out)
	if err != nil {
		return nil, err
	}
	return []image.Image{img}, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrRender, filepath.Base(path), err)
	}
	return img, nil
}
