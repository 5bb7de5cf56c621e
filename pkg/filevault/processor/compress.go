package processor

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
)

// CompressResult is the output of Compress.
type CompressResult struct {
	Data           []byte
	Extension      string
	MimeType       string
	OriginalSize   int64
	CompressedSize int64
	Ratio          float64
	// Quality is the final JPEG quality used; zero for non-image input.
	Quality int
}

// Reader returns a fresh reader over the compressed bytes.
func (r *CompressResult) Reader() io.Reader {
	return bytes.NewReader(r.Data)
}

// Compress shrinks the buffer. Images are re-encoded as JPEG, stepping the
// quality down by 10 (floor 10) until the output fits targetSize or the
// floor is reached. Other categories are gzipped losslessly; targetSize does
// not apply to them.
func Compress(buf []byte, category string, compressionLevel int, targetSize int64) (*CompressResult, error) {
	if category == "image" {
		return compressImage(buf, compressionLevel, targetSize)
	}
	return compressGeneric(buf, compressionLevel)
}

func compressImage(buf []byte, quality int, targetSize int64) (*CompressResult, error) {
	src, err := imaging.Decode(bytes.NewReader(buf), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	if quality <= 0 || quality > 100 {
		quality = 85
	}

	var out bytes.Buffer
	for {
		out.Reset()
		if err := imaging.Encode(&out, src, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		if targetSize <= 0 || int64(out.Len()) <= targetSize || quality <= 10 {
			break
		}
		quality -= 10
		if quality < 10 {
			quality = 10
		}
	}

	return newCompressResult(buf, out.Bytes(), "jpg", "image/jpeg", quality), nil
}

func compressGeneric(buf []byte, level int) (*CompressResult, error) {
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}

	var out bytes.Buffer
	zw, err := gzip.NewWriterLevel(&out, level)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if _, err := zw.Write(buf); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}

	return newCompressResult(buf, out.Bytes(), "gz", "application/gzip", 0), nil
}

func newCompressResult(original, compressed []byte, ext, mime string, quality int) *CompressResult {
	res := &CompressResult{
		Data:           compressed,
		Extension:      ext,
		MimeType:       mime,
		OriginalSize:   int64(len(original)),
		CompressedSize: int64(len(compressed)),
		Quality:        quality,
	}
	if res.OriginalSize > 0 {
		res.Ratio = float64(res.CompressedSize) / float64(res.OriginalSize)
	}
	return res
}
