package processor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/disintegration/imaging"
)

// ErrUnsupported is returned for category/format combinations the processor
// does not implement.
var ErrUnsupported = errors.New("unsupported operation")

// ErrInvalidInput is returned when transformation parameters are malformed.
var ErrInvalidInput = errors.New("invalid input")

// ConvertResult is the output of Convert.
type ConvertResult struct {
	Data     []byte
	Format   string
	MimeType string
}

// Reader returns a fresh reader over the converted bytes.
func (r *ConvertResult) Reader() io.Reader {
	return bytes.NewReader(r.Data)
}

var formatMimeTypes = map[imaging.Format]string{
	imaging.JPEG: "image/jpeg",
	imaging.PNG:  "image/png",
	imaging.GIF:  "image/gif",
	imaging.TIFF: "image/tiff",
	imaging.BMP:  "image/bmp",
}

// Convert re-encodes the buffer into targetFormat. Only image conversion is
// implemented; any other category fails with ErrUnsupported.
func Convert(buf []byte, category, targetFormat string, quality int) (*ConvertResult, error) {
	if category != "image" {
		return nil, fmt.Errorf("%w: cannot convert category %q", ErrUnsupported, category)
	}

	ext := strings.ToLower(strings.TrimPrefix(targetFormat, "."))
	format, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return nil, fmt.Errorf("%w: target format %q", ErrUnsupported, targetFormat)
	}

	src, err := imaging.Decode(bytes.NewReader(buf), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	if quality <= 0 || quality > 100 {
		quality = 85
	}

	var out bytes.Buffer
	if err := imaging.Encode(&out, src, format, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", ext, err)
	}

	return &ConvertResult{
		Data:     out.Bytes(),
		Format:   ext,
		MimeType: formatMimeTypes[format],
	}, nil
}
