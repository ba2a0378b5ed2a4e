package entity

import "log/slog"

// ExtractedRecord is the four-field result of parsing OCR text.
// A nil field was never matched.
type ExtractedRecord struct {
	InvoiceNumber *string `json:"invoice_number,omitempty"`
	Vendor        *string `json:"vendor,omitempty"`
	Date          *string `json:"date,omitempty"`
	Total         *string `json:"total,omitempty"`
}

// Field names as stored in the invoices table.
const (
	FieldInvoiceNumber = "invoice_number"
	FieldVendor        = "vendor"
	FieldDate          = "date"
	FieldTotal         = "total"
)

// FieldNames lists the record fields in column order.
var FieldNames = []string{FieldInvoiceNumber, FieldVendor, FieldDate, FieldTotal}

// Values returns the four fields in column order, "" for unset.
func (r ExtractedRecord) Values() []string {
	return []string{
		StrOrEmpty(r.InvoiceNumber),
		StrOrEmpty(r.Vendor),
		StrOrEmpty(r.Date),
		StrOrEmpty(r.Total),
	}
}

// Missing returns the names of fields that are unset or empty.
func (r ExtractedRecord) Missing() []string {
	var out []string
	for i, v := range []*string{r.InvoiceNumber, r.Vendor, r.Date, r.Total} {
		if v == nil || *v == "" {
			out = append(out, FieldNames[i])
		}
	}
	return out
}

func (r ExtractedRecord) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(FieldNames))
	for i, v := range []*string{r.InvoiceNumber, r.Vendor, r.Date, r.Total} {
		if v == nil {
			attrs = append(attrs, slog.Any(FieldNames[i], nil))
			continue
		}
		attrs = append(attrs, slog.String(FieldNames[i], *v))
	}
	return slog.GroupValue(attrs...)
}

// Invoice is a persisted invoices row.
type Invoice struct {
	ID            int64  `json:"id"`
	InvoiceNumber string `json:"invoice_number"`
	Vendor        string `json:"vendor"`
	Date          string `json:"date"`
	Total         string `json:"total"`
}

// StrOrEmpty dereferences p, returning "" for nil.
func StrOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Ptr returns a pointer to s.
func Ptr(s string) *string {
	return &s
}
