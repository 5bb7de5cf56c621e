package processor

import (
	"bytes"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertPNGToJPEG(t *testing.T) {
	src := testPNG(t, 120, 90)

	res, err := Convert(src, "image", "jpg", 85)
	require.NoError(t, err)

	assert.Equal(t, "jpg", res.Format)
	assert.Equal(t, "image/jpeg", res.MimeType)

	_, format, err := image.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestConvertRejectsNonImageCategory(t *testing.T) {
	_, err := Convert([]byte("plain text"), "document", "jpg", 0)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestConvertRejectsUnknownFormat(t *testing.T) {
	src := testPNG(t, 10, 10)

	_, err := Convert(src, "image", "webp", 0)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestConvertRejectsCorruptImage(t *testing.T) {
	_, err := Convert([]byte("not an image"), "image", "png", 0)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupported)
}
