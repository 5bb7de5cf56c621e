package processor

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressGenericRoundTrip(t *testing.T) {
	original := []byte(strings.Repeat("compressible text ", 200))

	res, err := Compress(original, "document", 0, 0)
	require.NoError(t, err)

	assert.Equal(t, "gz", res.Extension)
	assert.Equal(t, "application/gzip", res.MimeType)
	assert.Equal(t, int64(len(original)), res.OriginalSize)
	assert.Less(t, res.CompressedSize, res.OriginalSize)
	assert.Greater(t, res.Ratio, 0.0)
	assert.Less(t, res.Ratio, 1.0)

	zr, err := gzip.NewReader(bytes.NewReader(res.Data))
	require.NoError(t, err)
	defer zr.Close()
	decoded, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestCompressImageDescendsToQualityFloor(t *testing.T) {
	src := testJPEG(t, 300, 300)

	// An unreachable one-byte target forces the full quality descent.
	res, err := Compress(src, "image", 85, 1)
	require.NoError(t, err)

	assert.Equal(t, "jpg", res.Extension)
	assert.Equal(t, 10, res.Quality)
	assert.NotEmpty(t, res.Data)
}

func TestCompressImageStopsAtTargetSize(t *testing.T) {
	src := testJPEG(t, 300, 300)

	target := int64(len(src)) * 10
	res, err := Compress(src, "image", 85, target)
	require.NoError(t, err)

	assert.LessOrEqual(t, res.CompressedSize, target)
	assert.Equal(t, 85, res.Quality)
}

func TestCompressImageRejectsCorruptInput(t *testing.T) {
	_, err := Compress([]byte("not an image"), "image", 0, 0)
	assert.Error(t, err)
}
