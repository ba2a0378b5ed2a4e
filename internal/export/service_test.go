package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

func newRepo(t *testing.T) repository.InvoiceRepository {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.Config{DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	repo := repository.NewInvoiceRepository(db, nil)
	require.NoError(t, repo.EnsureSchema(ctx))
	return repo
}

func insert(t *testing.T, repo repository.InvoiceRepository, number, vendor, date, total string) {
	t.Helper()
	_, err := repo.Insert(context.Background(), entity.ExtractedRecord{
		InvoiceNumber: entity.Ptr(number),
		Vendor:        entity.Ptr(vendor),
		Date:          entity.Ptr(date),
		Total:         entity.Ptr(total),
	})
	require.NoError(t, err)
}

func readRows(t *testing.T, data []byte) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{SheetName}, f.GetSheetList())
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	return rows
}

func TestExportInvoicesXLSX(t *testing.T) {
	repo := newRepo(t)
	insert(t, repo, "123", "Acme", "2024-01-01", "$42.00")
	insert(t, repo, "0042", "Globex", "01/02/2024", "1,000.50")

	data, err := NewService(repo, nil).ExportInvoicesXLSX(context.Background(), "")
	require.NoError(t, err)

	want := [][]string{
		Headers,
		{"1", "123", "Acme", "2024-01-01", "$42.00"},
		{"2", "0042", "Globex", "01/02/2024", "1,000.50"},
	}
	if diff := cmp.Diff(want, readRows(t, data)); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestExportInvoicesXLSX_VendorFilterAndPaging(t *testing.T) {
	repo := newRepo(t)
	for i := 0; i < pageSize+3; i++ {
		vendor := "Acme"
		if i%2 == 1 {
			vendor = "Globex"
		}
		insert(t, repo, fmt.Sprint(i), vendor, "d", "t")
	}

	data, err := NewService(repo, nil).ExportInvoicesXLSX(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, readRows(t, data), pageSize+3+1)

	data, err = NewService(repo, nil).ExportInvoicesXLSX(context.Background(), "Globex")
	require.NoError(t, err)
	rows := readRows(t, data)
	assert.Len(t, rows, (pageSize+3)/2+1)
	for _, r := range rows[1:] {
		assert.Equal(t, "Globex", r[2])
	}
}

func TestExportInvoicesXLSX_Empty(t *testing.T) {
	data, err := NewService(newRepo(t), nil).ExportInvoicesXLSX(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, [][]string{Headers}, readRows(t, data))
}

type failingLister struct{}

func (failingLister) List(context.Context, repository.ListFilter) ([]*entity.Invoice, error) {
	return nil, errors.New("db gone")
}

func TestExportInvoicesXLSX_ListError(t *testing.T) {
	_, err := NewService(failingLister{}, nil).ExportInvoicesXLSX(context.Background(), "")
	assert.ErrorContains(t, err, "query invoices")
}
