//go:build gosseract && cgo

// Package tesseract recognises page text in-process through libtesseract.
package tesseract

import (
	"context"
	"fmt"
	"image"

	"github.com/otiai10/gosseract/v2"

	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
)

type Options struct {
	Languages   []string
	TessdataDir string
	PSM         int
	DPI         int
}

// Engine implements ocr.Engine with a fresh gosseract client per page.
type Engine struct {
	opts          Options
	clientFactory func() *gosseract.Client
}

var _ ocr.Engine = (*Engine)(nil)

func New(opts Options) *Engine {
	if len(opts.Languages) == 0 {
		opts.Languages = []string{"eng"}
	}
	return &Engine{opts: opts, clientFactory: gosseract.NewClient}
}

func (e *Engine) Recognize(ctx context.Context, page image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := ocr.EncodePNG(page)
	if err != nil {
		return "", err
	}

	c := e.clientFactory()
	defer c.Close()

	if e.opts.TessdataDir != "" {
		if err := c.SetTessdataPrefix(e.opts.TessdataDir); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetLanguage(e.opts.Languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if e.opts.PSM > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(e.opts.PSM)); err != nil {
			return "", fmt.Errorf("set psm: %w", err)
		}
	}
	if e.opts.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(e.opts.DPI)); err != nil {
			return "", fmt.Errorf("set dpi: %w", err)
		}
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}
