// Package cachepath resolves deterministic output paths for rendered cache
// entries. Resolution is pure: the same inputs always yield the same path,
// which is what lets a resumed job land its output exactly where an
// uninterrupted run would have.
package cachepath

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Extension returns the file extension for a cache format. Unrecognized
// formats fall back to the jpeg extension.
func Extension(format string) string {
	switch strings.ToLower(format) {
	case "png":
		return "png"
	case "webp":
		return "webp"
	case "gif":
		return "gif"
	case "jpeg", "jpg":
		return "jpg"
	}
	return "jpg"
}

// Resolve maps a cache root, collection, image, and render parameters to the
// destination file path for the rendered entry.
func Resolve(root, collectionID, imageID string, width, height int, format string) string {
	name := fmt.Sprintf("%s_%dx%d.%s", imageID, width, height, Extension(format))
	return filepath.Join(root, collectionID, name)
}
