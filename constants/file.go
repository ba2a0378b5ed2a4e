package constants

import "strings"

// Source formats recognised by the renderer.
const (
	PDF   = "PDF"
	IMAGE = "IMAGE"
)

// FileTypes holds the source formats the pipeline can render.
var FileTypes = []string{PDF, IMAGE}

// AllowedExtensions holds the default upload allow-list for the gateway.
var AllowedExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
}

var imageExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"gif":  {},
	"bmp":  {},
	"tif":  {},
	"tiff": {},
	"webp": {},
	"heic": {},
	"heif": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// MapExtToFormat returns PDF, IMAGE, or "" for an unknown extension.
func MapExtToFormat(ext string) string {
	ext = NormalizeExt(ext)
	if ext == "pdf" {
		return PDF
	}
	if _, ok := imageExtensions[ext]; ok {
		return IMAGE
	}
	return ""
}

// IsHEICExt reports whether ext needs an external HEIC/HEIF conversion.
func IsHEICExt(ext string) bool {
	ext = NormalizeExt(ext)
	return ext == "heic" || ext == "heif"
}

// ExtensionSet builds a lookup set from a list of extensions, normalising each.
// An empty list yields AllowedExtensions.
func ExtensionSet(exts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		if e = NormalizeExt(e); e != "" {
			out[e] = struct{}{}
		}
	}
	if len(out) == 0 {
		for e := range AllowedExtensions {
			out[e] = struct{}{}
		}
	}
	return out
}
