//go:build !gosseract || !cgo

package app

import (
	"errors"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
)

// ErrEngineNotBuilt means the binary was built without the gosseract engine.
var ErrEngineNotBuilt = errors.New(`OCR engine "gosseract" not built in; rebuild with -tags gosseract (cgo and libtesseract required) or use OCR_ENGINE=cli`)

func gosseractEngine(common.OCRConfig) (ocr.Engine, error) {
	return nil, ErrEngineNotBuilt
}
