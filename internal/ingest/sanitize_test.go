package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecureFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My cool movie.mov", "My_cool_movie.mov"},
		{"../../../etc/passwd", "etc_passwd"},
		{`i contain cool \xfcml\xe4uts.txt`, "i_contain_cool_xfcml_xe4uts.txt"},
		{"Müller Rechnung", "Muller_Rechnung"},
		{"  scan\t2024  ", "scan_2024"},
		{"...", ""},
		{"日本語", ""},
		{"invoice#42 (copy)", "invoice42_copy"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SecureFilename(tt.in), "input %q", tt.in)
	}
}
