package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Position anchors a watermark within the image.
type Position string

const (
	PositionNorthWest Position = "northwest"
	PositionNorthEast Position = "northeast"
	PositionSouthWest Position = "southwest"
	PositionSouthEast Position = "southeast"
	PositionCenter    Position = "center"
)

const watermarkMargin = 16

// WatermarkOptions configure AddWatermark. Exactly one of Text or Overlay
// must be supplied.
type WatermarkOptions struct {
	Text    string
	Overlay []byte
	// Position defaults to southeast.
	Position Position
	// Opacity in (0, 1]; defaults to 0.5.
	Opacity float64
}

// WatermarkResult is the output of Watermark.
type WatermarkResult struct {
	Data   []byte
	Width  int
	Height int
}

// Reader returns a fresh reader over the watermarked bytes.
func (r *WatermarkResult) Reader() io.Reader {
	return bytes.NewReader(r.Data)
}

// Watermark composites a text or image overlay onto the source image and
// re-encodes as JPEG.
func Watermark(buf []byte, opts WatermarkOptions) (*WatermarkResult, error) {
	if opts.Text == "" && len(opts.Overlay) == 0 {
		return nil, fmt.Errorf("%w: watermark requires text or an overlay image", ErrInvalidInput)
	}
	if opts.Opacity < 0 || opts.Opacity > 1 {
		return nil, fmt.Errorf("%w: opacity %v out of range [0, 1]", ErrInvalidInput, opts.Opacity)
	}
	if opts.Opacity == 0 {
		opts.Opacity = 0.5
	}
	if opts.Position == "" {
		opts.Position = PositionSouthEast
	}

	base, err := imaging.Decode(bytes.NewReader(buf), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: target is not a decodable image", ErrInvalidInput)
	}

	var mark image.Image
	if len(opts.Overlay) > 0 {
		mark, err = imaging.Decode(bytes.NewReader(opts.Overlay))
		if err != nil {
			return nil, fmt.Errorf("%w: overlay is not a decodable image", ErrInvalidInput)
		}
	} else {
		mark = renderTextMark(opts.Text)
	}

	anchor, err := anchorPoint(base.Bounds(), mark.Bounds(), opts.Position)
	if err != nil {
		return nil, err
	}

	composed := imaging.Overlay(base, mark, anchor, opts.Opacity)

	var out bytes.Buffer
	if err := imaging.Encode(&out, composed, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	bounds := composed.Bounds()
	return &WatermarkResult{Data: out.Bytes(), Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

// renderTextMark draws the text in white over a one-pixel black shadow so it
// stays legible on both light and dark backgrounds.
func renderTextMark(text string) image.Image {
	face := basicfont.Face7x13
	metrics := face.Metrics()

	width := font.MeasureString(face, text).Ceil() + 2
	height := metrics.Height.Ceil() + 2
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	ascent := metrics.Ascent.Ceil()
	shadow := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot:  fixed.P(2, ascent+2),
	}
	shadow.DrawString(text)

	fg := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(1, ascent+1),
	}
	fg.DrawString(text)

	return img
}

func anchorPoint(base, mark image.Rectangle, pos Position) (image.Point, error) {
	bw, bh := base.Dx(), base.Dy()
	mw, mh := mark.Dx(), mark.Dy()

	switch pos {
	case PositionNorthWest:
		return image.Pt(watermarkMargin, watermarkMargin), nil
	case PositionNorthEast:
		return image.Pt(bw-mw-watermarkMargin, watermarkMargin), nil
	case PositionSouthWest:
		return image.Pt(watermarkMargin, bh-mh-watermarkMargin), nil
	case PositionSouthEast:
		return image.Pt(bw-mw-watermarkMargin, bh-mh-watermarkMargin), nil
	case PositionCenter:
		return image.Pt((bw-mw)/2, (bh-mh)/2), nil
	default:
		return image.Point{}, fmt.Errorf("%w: position %q", ErrInvalidInput, pos)
	}
}
