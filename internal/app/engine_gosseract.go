//go:build gosseract && cgo

package app

import (
	"strings"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr/tesseract"
)

func gosseractEngine(cfg common.OCRConfig) (ocr.Engine, error) {
	return tesseract.New(tesseract.Options{
		Languages:   strings.Split(cfg.Language, "+"),
		TessdataDir: cfg.TessdataDir,
		PSM:         cfg.PSM,
		DPI:         cfg.DPI,
	}), nil
}
