package filevault

import "strings"

// categoryRule maps a MIME-type predicate to a category. Rules are evaluated
// in order; the first match wins. Adding a category is a table change, not a
// code change.
type categoryRule struct {
	category Category
	match    func(mimeType string) bool
}

func mimePrefix(prefix string) func(string) bool {
	return func(mt string) bool { return strings.HasPrefix(mt, prefix) }
}

func mimeOneOf(types ...string) func(string) bool {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(mt string) bool {
		_, ok := set[mt]
		return ok
	}
}

var categoryRules = []categoryRule{
	{CategoryImage, mimePrefix("image/")},
	{CategoryVideo, mimePrefix("video/")},
	{CategoryAudio, mimePrefix("audio/")},
	{CategoryDocument, mimeOneOf(
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"text/plain",
		"text/markdown",
	)},
	{CategoryData, mimeOneOf(
		"text/csv",
		"application/json",
		"application/xml",
		"text/xml",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	)},
	{CategoryArchive, mimeOneOf(
		"application/zip",
		"application/x-zip-compressed",
		"application/gzip",
		"application/x-tar",
	)},
}

// CategoryForMime derives the category for a MIME type. Unknown types map to
// CategoryOther.
func CategoryForMime(mimeType string) Category {
	mt := normalizeMime(mimeType)
	for _, rule := range categoryRules {
		if rule.match(mt) {
			return rule.category
		}
	}
	return CategoryOther
}

// allowedMimeTypes is the upload allow-list: images, PDF, plain/CSV/JSON/XML
// text, video/audio, and zip archives.
var allowedMimeTypes = map[string]struct{}{
	"image/jpeg":         {},
	"image/png":          {},
	"image/gif":          {},
	"image/webp":         {},
	"image/bmp":          {},
	"image/tiff":         {},
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	"text/plain":                   {},
	"text/csv":                     {},
	"application/json":             {},
	"application/xml":              {},
	"text/xml":                     {},
	"video/mp4":                    {},
	"video/mpeg":                   {},
	"video/quicktime":              {},
	"video/webm":                   {},
	"audio/mpeg":                   {},
	"audio/wav":                    {},
	"audio/ogg":                    {},
	"application/zip":              {},
	"application/x-zip-compressed": {},
}

// MimeAllowed reports whether the MIME type is accepted for upload.
func MimeAllowed(mimeType string) bool {
	_, ok := allowedMimeTypes[normalizeMime(mimeType)]
	return ok
}

// normalizeMime lowercases the type and strips any parameters
// (e.g. "text/csv; charset=utf-8" -> "text/csv").
func normalizeMime(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}
