package extract

import (
	"strings"

	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

type label struct {
	marker string
	set    func(*entity.ExtractedRecord, string)
}

// labels are checked in priority order; the first marker found on a line
// claims that line.
var labels = []label{
	{"Invoice:", func(r *entity.ExtractedRecord, v string) { r.InvoiceNumber = &v }},
	{"Vendor:", func(r *entity.ExtractedRecord, v string) { r.Vendor = &v }},
	{"Date:", func(r *entity.ExtractedRecord, v string) { r.Date = &v }},
	{"Total Amount Due:", func(r *entity.ExtractedRecord, v string) { r.Total = &v }},
}

// ParseFields builds an ExtractedRecord from raw OCR text.
//
// Each line sets at most one field: the first label (Invoice > Vendor > Date >
// Total Amount Due) contained anywhere in the line wins, and the value is the
// text after the label's last occurrence, trimmed. A later line for the same
// label overwrites an earlier one. Values are kept verbatim.
func ParseFields(text string) entity.ExtractedRecord {
	var rec entity.ExtractedRecord
	for _, line := range splitLines(text) {
		for _, l := range labels {
			i := strings.LastIndex(line, l.marker)
			if i < 0 {
				continue
			}
			l.set(&rec, strings.TrimSpace(line[i+len(l.marker):]))
			break
		}
	}
	return rec
}

// splitLines breaks on every line boundary OCR output can contain, including
// the form feed tesseract emits after each page.
func splitLines(text string) []string {
	return strings.FieldsFunc(text, isLineBreak)
}

func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}
