package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

const (
	SheetName = "Invoices"
	pageSize  = 500
)

var Headers = []string{"ID", "Invoice Number", "Vendor", "Date", "Total"}

// InvoiceLister is the read side of repository.InvoiceRepository.
type InvoiceLister interface {
	List(ctx context.Context, filter repository.ListFilter) ([]*entity.Invoice, error)
}

// Service produces XLSX workbooks of persisted invoices.
type Service struct {
	invoices InvoiceLister
	logger   *slog.Logger
}

func NewService(invoices InvoiceLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{invoices: invoices, logger: logger}
}

// ExportInvoicesXLSX returns a workbook (as bytes) with one row per invoice in
// id order. A non-empty vendor keeps only that vendor's rows. Field values are
// written as text, exactly as stored.
func (s *Service) ExportInvoicesXLSX(ctx context.Context, vendor string) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	// rename the default sheet rather than leaving an empty Sheet1
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	for i, h := range Headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(SheetName, cell, h)
	}
	if err := s.styleHeader(f); err != nil {
		return nil, err
	}

	row := 2
	filter := repository.ListFilter{Limit: pageSize, Vendor: vendor}
	for {
		page, err := s.invoices.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("query invoices: %w", err)
		}
		for _, inv := range page {
			cell, _ := excelize.CoordinatesToCellName(1, row)
			values := []any{inv.ID, inv.InvoiceNumber, inv.Vendor, inv.Date, inv.Total}
			if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
				return nil, fmt.Errorf("xlsx row %d: %w", row, err)
			}
			row++
		}
		if len(page) < pageSize {
			break
		}
		filter.AfterID = page[len(page)-1].ID
	}

	_ = f.SetColWidth(SheetName, "A", "A", 8)
	_ = f.SetColWidth(SheetName, "B", "C", 28)
	_ = f.SetColWidth(SheetName, "D", "E", 16)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"vendor", vendor,
		"rows", row-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) styleHeader(f *excelize.File) error {
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("xlsx style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(Headers), 1)
	return f.SetCellStyle(SheetName, "A1", last, style)
}
