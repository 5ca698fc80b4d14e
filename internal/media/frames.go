// Package media builds the elements mounted in the preview container: a
// re-streamed MJPEG feed, a still image preview, or a local video.
package media

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"strings"

	// Still image formats accepted for local previews.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	placeholderWidth  = 640
	placeholderHeight = 360
	jpegQuality       = 80
)

// DefaultMaxWidth bounds local image previews.
const DefaultMaxWidth = 1280

// ErrNotImage is returned when a local file cannot be decoded as an image.
var ErrNotImage = errors.New("media: not a decodable image")

// Placeholder renders a dark frame with centred caption lines.
func Placeholder(lines ...string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, placeholderWidth, placeholderHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 24, G: 26, B: 31, A: 255}), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	dr := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 220, G: 220, B: 220, A: 255}),
		Face: face,
	}
	lineHeight := face.Metrics().Height.Ceil() + 6
	top := (placeholderHeight-lineHeight*len(lines))/2 + face.Metrics().Ascent.Ceil()
	for i, line := range lines {
		w := dr.MeasureString(line).Ceil()
		x := (placeholderWidth - w) / 2
		if x < 8 {
			x = 8
		}
		dr.Dot = fixed.Point26_6{X: fixed.I(x), Y: fixed.I(top + i*lineHeight)}
		dr.DrawString(line)
	}
	return encodeJPEG(img)
}

// PreviewImage decodes r, scales it down to maxWidth when wider and returns
// the result as JPEG.
func PreviewImage(r io.Reader, maxWidth int) ([]byte, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrNotImage
		}
		return nil, err
	}
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}

	b := src.Bounds()
	if b.Dx() > maxWidth {
		h := b.Dy() * maxWidth / b.Dx()
		if h < 1 {
			h = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
		return encodeJPEG(dst)
	}
	if strings.EqualFold(format, "jpeg") {
		return encodeJPEG(src)
	}
	// Flatten transparency onto black the way a browser shows it on a dark page.
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return encodeJPEG(dst)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
