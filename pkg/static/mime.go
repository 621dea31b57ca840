package static

import (
	"path/filepath"
	"strings"
)

// DefaultContentType is used for files with an unknown or missing extension.
const DefaultContentType = "application/octet-stream"

// contentTypes maps file extensions (without the dot) to Content-Type values.
// Lookups are case-sensitive.
var contentTypes = map[string]string{
	"html":  "text/html; charset=utf-8",
	"js":    "application/javascript; charset=utf-8",
	"css":   "text/css; charset=utf-8",
	"json":  "application/json; charset=utf-8",
	"wasm":  "application/wasm",
	"png":   "image/png",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"gif":   "image/gif",
	"svg":   "image/svg+xml",
	"ico":   "image/x-icon",
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"ttf":   "font/ttf",
	"map":   "application/json",
}

// ContentType returns the Content-Type for path based on its extension.
func ContentType(path string) string {
	if ct, ok := contentTypes[extension(path)]; ok {
		return ct
	}
	return DefaultContentType
}

// extension returns the part of the base name after the last dot. A leading
// dot alone (".bashrc") does not start an extension.
func extension(path string) string {
	base := filepath.Base(path)
	i := strings.LastIndexByte(base, '.')
	if i <= 0 {
		return ""
	}
	return base[i+1:]
}
