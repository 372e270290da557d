// Package static embeds the browser page and its assets.
package static

import (
	"embed"
	"io/fs"
)

//go:embed index.html css js
var files embed.FS

// FS returns the embedded assets rooted at this directory.
func FS() fs.FS {
	return files
}

// ReadFile reads one embedded asset.
func ReadFile(name string) ([]byte, error) {
	return files.ReadFile(name)
}
