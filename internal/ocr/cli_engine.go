package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// CLIEngine shells out to the tesseract binary for each page.
type CLIEngine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewCLIEngine(cfg Config, runner Runner, logger *slog.Logger) *CLIEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	return &CLIEngine{cfg: cfg.withDefaults(), runner: runner, logger: logger}
}

func (e *CLIEngine) Recognize(ctx context.Context, page image.Image) (string, error) {
	data, err := EncodePNG(page)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp("", "invoice-page-*.png")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	// tesseract <file> stdout -l <lang>
	args := []string{tmp.Name(), "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(truncate(string(errb), 512)))
	}
	return string(out), nil
}
