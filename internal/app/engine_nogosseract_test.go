//go:build !gosseract || !cgo

package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

func TestNewExtractor_GosseractNotBuilt(t *testing.T) {
	_, err := NewExtractor(common.OCRConfig{Engine: "gosseract"}, nil)
	assert.ErrorIs(t, err, ErrEngineNotBuilt)
}
