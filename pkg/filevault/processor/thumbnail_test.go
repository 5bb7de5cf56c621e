package processor

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testJPEG renders a deterministic gradient image so encodes are repeatable.
func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8((x + y) * 3), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)))
	return buf.Bytes()
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func TestGenerateThumbnails(t *testing.T) {
	src := testJPEG(t, 400, 300)

	set, err := GenerateThumbnails(src, []ThumbnailSize{
		{Width: 150, Height: 150, Quality: 85},
		{Width: 300, Height: 300, Quality: 85},
	})
	require.NoError(t, err)
	require.Len(t, set.Renditions, 2)

	for _, r := range set.Renditions {
		assert.LessOrEqual(t, r.Width, 300)
		assert.LessOrEqual(t, r.Height, 300)
		// 4:3 aspect ratio preserved
		assert.InDelta(t, 4.0/3.0, float64(r.Width)/float64(r.Height), 0.02)
		assert.NotEmpty(t, r.Data)
	}

	assert.Equal(t, 400, set.Source.Width)
	assert.Equal(t, 300, set.Source.Height)
	assert.Equal(t, "jpeg", set.Source.Format)
	assert.False(t, set.Source.Animated)
}

func TestGenerateThumbnailsNeverUpscales(t *testing.T) {
	src := testJPEG(t, 100, 80)

	set, err := GenerateThumbnails(src, []ThumbnailSize{{Width: 300, Height: 300, Quality: 85}})
	require.NoError(t, err)
	require.Len(t, set.Renditions, 1)

	assert.Equal(t, 100, set.Renditions[0].Width)
	assert.Equal(t, 80, set.Renditions[0].Height)
}

func TestGenerateThumbnailsDeterministic(t *testing.T) {
	src := testJPEG(t, 200, 200)
	sizes := []ThumbnailSize{{Width: 64, Height: 64, Quality: 80}}

	first, err := GenerateThumbnails(src, sizes)
	require.NoError(t, err)
	second, err := GenerateThumbnails(src, sizes)
	require.NoError(t, err)

	assert.Equal(t, first.Renditions[0].Data, second.Renditions[0].Data)
}

func TestGenerateThumbnailsSkipsBadSizes(t *testing.T) {
	src := testJPEG(t, 200, 200)

	set, err := GenerateThumbnails(src, []ThumbnailSize{
		{Width: -1, Height: 100, Quality: 85},
		{Width: 64, Height: 64, Quality: 85},
	})
	require.NoError(t, err)
	assert.Len(t, set.Renditions, 1)
	assert.Len(t, set.Skipped, 1)
}

func TestGenerateThumbnailsAllSizesFail(t *testing.T) {
	src := testJPEG(t, 200, 200)

	_, err := GenerateThumbnails(src, []ThumbnailSize{{Width: 0, Height: 0}})
	assert.Error(t, err)
}

func TestGenerateThumbnailsRejectsNonImage(t *testing.T) {
	_, err := GenerateThumbnails([]byte("not an image"), []ThumbnailSize{{Width: 64, Height: 64}})
	assert.Error(t, err)
}
