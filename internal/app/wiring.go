// Package app assembles the pipeline components from configuration. The
// binaries under cmd/ share it so the worker and the operator CLI process
// artifacts identically.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/extract"
	"github.com/joseph-ayodele/invoice-pipeline/internal/filestore"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

func Layout(cfg common.StorageConfig) filestore.Layout {
	return filestore.NewLayout(cfg.PendingDir, cfg.ProcessedDir, cfg.UnprocessedDir)
}

// Store is an open database together with its invoice repository.
type Store struct {
	DB       *repository.DB
	Invoices repository.InvoiceRepository
}

func (s *Store) Close() { s.DB.Close() }

// OpenStore connects, pings and makes sure the invoices table exists.
func OpenStore(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	db, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.DSN,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := db.HealthCheck(ctx, cfg.DialTimeout); err != nil {
		db.Close()
		return nil, err
	}
	invoices := repository.NewInvoiceRepository(db, logger)
	if err := invoices.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db, Invoices: invoices}, nil
}

// NewExtractor builds the render+recognise stage for the configured engine.
// The gosseract engine needs a binary built with -tags gosseract.
func NewExtractor(cfg common.OCRConfig, logger *slog.Logger) (*ocr.Extractor, error) {
	ocrCfg := ocr.Config{
		Pdftoppm:      cfg.Pdftoppm,
		Tesseract:     cfg.Tesseract,
		TesseractLang: cfg.Language,
		TessdataDir:   cfg.TessdataDir,
		HeicConverter: cfg.HeicConverter,
		DPI:           cfg.DPI,
		MaxPages:      cfg.MaxPages,
		PSM:           cfg.PSM,
	}
	runner := ocr.NewExecRunner(logger)

	var engine ocr.Engine
	switch cfg.Engine {
	case "gosseract":
		e, err := gosseractEngine(cfg)
		if err != nil {
			return nil, err
		}
		engine = e
	case "cli", "":
		engine = ocr.NewCLIEngine(ocrCfg, runner, logger)
	default:
		return nil, fmt.Errorf("unknown OCR engine %q", cfg.Engine)
	}
	return ocr.NewExtractor(ocr.NewRenderer(ocrCfg, runner, logger), engine, logger), nil
}

// NewProcessor wires extraction, validation, persistence and the artifact
// layout into a pipeline.Processor.
func NewProcessor(cfg *common.Config, layout filestore.Layout, sink pipeline.InvoiceSink, logger *slog.Logger) (*pipeline.Processor, error) {
	extractor, err := NewExtractor(cfg.OCR, logger)
	if err != nil {
		return nil, err
	}
	validator, err := extract.NewValidator()
	if err != nil {
		return nil, err
	}
	return pipeline.NewProcessor(extractor, validator, sink, layout, logger), nil
}

// DialQueue connects to the broker named in cfg. connName labels the
// connection in the broker UI.
func DialQueue(ctx context.Context, cfg common.QueueConfig, connName string, logger *slog.Logger) (*queue.AMQP, error) {
	tag := cfg.ConsumerTag
	if tag == "" {
		tag = connName + "-" + uuid.NewString()[:8]
	}
	return queue.DialAMQP(ctx, queue.AMQPConfig{
		URL:            cfg.URL,
		Queue:          cfg.Name,
		Prefetch:       cfg.Prefetch,
		ConsumerTag:    tag,
		DialRetries:    cfg.DialRetries,
		DialBackoff:    cfg.DialBackoff,
		ConnectionName: connName,
	}, logger)
}
