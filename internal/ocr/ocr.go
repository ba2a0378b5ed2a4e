package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"
	"time"
)

// ErrRecognize means the OCR engine failed on a page.
var ErrRecognize = errors.New("text recognition failed")

type Config struct {
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	TessdataDir   string
	HeicConverter string // heif-convert | magick | sips

	DPI      int // rasterization DPI for PDFs, default 300
	MaxPages int // 0 = no limit
	PSM      int // 0 = tesseract default
}

func (c Config) withDefaults() Config {
	if c.Pdftoppm == "" {
		c.Pdftoppm = "pdftoppm"
	}
	if c.Tesseract == "" {
		c.Tesseract = "tesseract"
	}
	if c.TesseractLang == "" {
		c.TesseractLang = "eng"
	}
	if c.DPI <= 0 {
		c.DPI = 300
	}
	return c
}

// Engine recognises the text on one page image.
type Engine interface {
	Recognize(ctx context.Context, page image.Image) (string, error)
}

// PageRenderer turns a document into page images.
type PageRenderer interface {
	Render(ctx context.Context, path string) ([]image.Image, error)
}

type Result struct {
	Text     string
	Pages    int
	Duration time.Duration
}

// Extractor renders a document and runs the engine over every page.
type Extractor struct {
	renderer PageRenderer
	engine   Engine
	logger   *slog.Logger
}

func NewExtractor(renderer PageRenderer, engine Engine, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{renderer: renderer, engine: engine, logger: logger}
}

// Extract returns the text of all pages concatenated in page order with no
// separator. Any render or recognition failure fails the whole document.
func (e *Extractor) Extract(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	e.logger.Debug("starting ocr extraction", "path", path)

	pages, err := e.renderer.Render(ctx, path)
	if err != nil {
		e.logger.Warn("render failed", "path", path, "error", err)
		return Result{Duration: time.Since(start)}, err
	}

	var b strings.Builder
	for i, page := range pages {
		txt, err := e.engine.Recognize(ctx, page)
		if err != nil {
			e.logger.Warn("recognition failed", "path", path, "page", i+1, "error", err)
			return Result{Pages: len(pages), Duration: time.Since(start)},
				fmt.Errorf("%w: page %d: %w", ErrRecognize, i+1, err)
		}
		b.WriteString(txt)
	}

	res := Result{Text: b.String(), Pages: len(pages), Duration: time.Since(start)}
	e.logger.Debug("ocr extraction done",
		"path", path,
		"pages", res.Pages,
		"chars", len(res.Text),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// EncodePNG serialises a page for engines that take encoded bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	return buf.Bytes(), nil
}
