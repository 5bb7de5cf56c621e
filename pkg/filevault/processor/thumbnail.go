// Package processor provides stateless content transformations operating on
// in-memory byte buffers. All functions are pure: the same input bytes and
// options always produce the same output bytes, so redelivered jobs can be
// re-executed safely.
package processor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"io"

	"github.com/disintegration/imaging"
)

// ThumbnailSize is one requested rendition.
type ThumbnailSize struct {
	Width   int
	Height  int
	Quality int
}

// Rendition is one generated thumbnail. Width and Height are the actual
// output dimensions, which never exceed the requested bounding box.
type Rendition struct {
	Width  int
	Height int
	Data   []byte
}

// Reader returns a fresh reader over the rendition bytes.
func (r Rendition) Reader() io.Reader {
	return bytes.NewReader(r.Data)
}

// ImageInfo describes the source image.
type ImageInfo struct {
	Width      int
	Height     int
	Format     string
	ColorSpace string
	HasAlpha   bool
	Animated   bool
}

// ThumbnailSet is the output of GenerateThumbnails.
type ThumbnailSet struct {
	Source     ImageInfo
	Renditions []Rendition
	Skipped    []string
}

// ImageInfoMap renders the source metadata as a generic metadata blob.
func (s *ThumbnailSet) ImageInfoMap() map[string]interface{} {
	return map[string]interface{}{
		"width":       s.Source.Width,
		"height":      s.Source.Height,
		"format":      s.Source.Format,
		"color_space": s.Source.ColorSpace,
		"has_alpha":   s.Source.HasAlpha,
		"animated":    s.Source.Animated,
	}
}

// GenerateThumbnails decodes the image once and produces one JPEG rendition
// per requested size, preserving aspect ratio and never upscaling. A size
// that cannot be rendered is skipped; the call fails only when no size
// succeeds.
func GenerateThumbnails(buf []byte, sizes []ThumbnailSize) (*ThumbnailSet, error) {
	src, err := imaging.Decode(bytes.NewReader(buf), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	set := &ThumbnailSet{Source: inspectImage(buf, src)}

	for _, size := range sizes {
		if size.Width <= 0 || size.Height <= 0 {
			set.Skipped = append(set.Skipped, fmt.Sprintf("%dx%d: non-positive dimensions", size.Width, size.Height))
			continue
		}
		quality := size.Quality
		if quality <= 0 || quality > 100 {
			quality = 85
		}

		thumb := imaging.Fit(src, size.Width, size.Height, imaging.Lanczos)

		var out bytes.Buffer
		if err := imaging.Encode(&out, thumb, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			set.Skipped = append(set.Skipped, fmt.Sprintf("%dx%d: %v", size.Width, size.Height, err))
			continue
		}

		bounds := thumb.Bounds()
		set.Renditions = append(set.Renditions, Rendition{
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
			Data:   out.Bytes(),
		})
	}

	if len(set.Renditions) == 0 {
		return nil, errors.New("no thumbnail sizes succeeded")
	}
	return set, nil
}

func inspectImage(buf []byte, decoded image.Image) ImageInfo {
	info := ImageInfo{}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(buf))
	if err == nil {
		info.Width = cfg.Width
		info.Height = cfg.Height
		info.Format = format
		info.ColorSpace = colorSpaceName(cfg.ColorModel)
		info.HasAlpha = modelHasAlpha(cfg.ColorModel)
	} else {
		bounds := decoded.Bounds()
		info.Width = bounds.Dx()
		info.Height = bounds.Dy()
	}

	if info.Format == "gif" {
		if g, err := gif.DecodeAll(bytes.NewReader(buf)); err == nil {
			info.Animated = len(g.Image) > 1
		}
	}

	return info
}

func colorSpaceName(m color.Model) string {
	switch m {
	case color.GrayModel, color.Gray16Model:
		return "gray"
	case color.CMYKModel:
		return "cmyk"
	case color.YCbCrModel:
		return "ycbcr"
	}
	if _, ok := m.(color.Palette); ok {
		return "indexed"
	}
	return "rgb"
}

func modelHasAlpha(m color.Model) bool {
	switch m {
	case color.NRGBAModel, color.NRGBA64Model, color.RGBAModel, color.RGBA64Model, color.AlphaModel, color.Alpha16Model:
		return true
	}
	if p, ok := m.(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a < 0xffff {
				return true
			}
		}
	}
	return false
}
