package ingest

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SecureFilename reduces an uploaded name to a safe flat file name: it
// folds to ASCII, turns path separators and whitespace runs into "_",
// keeps only [A-Za-z0-9_.-] and trims leading/trailing dots and
// underscores. The result may be empty.
func SecureFilename(name string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(name) {
		if r <= unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	s := strings.NewReplacer("/", " ", `\`, " ").Replace(b.String())
	s = strings.Join(strings.FieldsFunc(s, isASCIISpace), "_")

	b.Reset()
	for _, r := range s {
		if isSafeRune(r) {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "._")
}

func isASCIISpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\v', '\f', '\r', 0x1c, 0x1d, 0x1e, 0x1f:
		return true
	}
	return false
}

func isSafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '.', r == '-':
		return true
	}
	return false
}
