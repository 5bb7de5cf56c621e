package filevault

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename strips path separators and characters that are unsafe in
// object keys, collapsing runs into single underscores. An empty result falls
// back to "file".
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	return name
}

// StorageKey builds the deterministic, date-namespaced object key for a file:
// tenant/year/month/day/fileID/filename. Assigned once at record creation.
func StorageKey(tenantID, fileID uuid.UUID, filename string, now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s/%s",
		tenantID, now.Year(), int(now.Month()), now.Day(), fileID, SanitizeFilename(filename))
}

// ThumbnailKey derives the key for one thumbnail rendition from the original
// object key: .../thumbnails/{base}_{w}x{h}.jpg.
func ThumbnailKey(originalKey string, width, height int) string {
	dir, file := path.Split(originalKey)
	base := strings.TrimSuffix(file, path.Ext(file))
	return fmt.Sprintf("%sthumbnails/%s_%dx%d.jpg", dir, base, width, height)
}

// DerivedKey builds the key for a converted or compressed rendition, swapping
// the extension for the target format.
func DerivedKey(originalKey, suffix, ext string) string {
	dir, file := path.Split(originalKey)
	base := strings.TrimSuffix(file, path.Ext(file))
	return fmt.Sprintf("%s%s_%s.%s", dir, base, suffix, strings.TrimPrefix(ext, "."))
}
