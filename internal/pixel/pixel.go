// Package pixel rewrites fully transparent tile pixels to opaque white.
//
// Only pixels whose alpha is exactly zero are touched. Partially
// transparent pixels (anti-aliased edges) keep all four channels.
package pixel

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

// ContentType is the format every rewritten tile is encoded to.
const ContentType = "image/png"

// maxPixels bounds the surface we are willing to allocate for one tile.
const maxPixels = 8192 * 8192

var (
	ErrDecode  = errors.New("pixel: decode")
	ErrSurface = errors.New("pixel: surface")
	ErrEncode  = errors.New("pixel: encode")
)

// Result carries the re-encoded tile and its dimensions.
type Result struct {
	Data   []byte
	Width  int
	Height int
	// Rewritten is the number of pixels turned white.
	Rewritten int
}

// Rewrite decodes data, whitens every alpha==0 pixel and re-encodes the
// surface as PNG. Any error means the caller should keep the original bytes.
func Rewrite(data []byte) (*Result, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}
	surface, err := newSurface(img)
	if err != nil {
		return nil, err
	}
	n := Whiten(surface)

	var out bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&out, surface); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	b := surface.Bounds()
	return &Result{
		Data:      append([]byte(nil), out.Bytes()...),
		Width:     b.Dx(),
		Height:    b.Dy(),
		Rewritten: n,
	}, nil
}

// decode reads the header first so an oversized image is rejected before
// the decoder allocates its pixels.
func decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := checkSize(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

func checkSize(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: empty bounds %dx%d", ErrSurface, w, h)
	}
	if w > maxPixels/h {
		return fmt.Errorf("%w: %dx%d exceeds limit", ErrSurface, w, h)
	}
	return nil
}

// newSurface copies img onto a fresh non-premultiplied RGBA surface of the
// same size. NRGBA sources are copied row by row so channel values of
// partially transparent pixels survive exactly.
func newSurface(img image.Image) (*image.NRGBA, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if err := checkSize(w, h); err != nil {
		return nil, err
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < h; y++ {
			so := src.PixOffset(b.Min.X, b.Min.Y+y)
			do := dst.PixOffset(0, y)
			copy(dst.Pix[do:do+w*4], src.Pix[so:so+w*4])
		}
		return dst, nil
	}
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst, nil
}

// Whiten sets every pixel of img whose alpha is 0 to opaque white and
// returns how many pixels changed.
func Whiten(img *image.NRGBA) int {
	if img == nil || img.Bounds().Empty() {
		return 0
	}
	b := img.Bounds()
	n := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X-1, y)+4]
		for i := 0; i+3 < len(row); i += 4 {
			if row[i+3] != 0 {
				continue
			}
			row[i], row[i+1], row[i+2], row[i+3] = 0xff, 0xff, 0xff, 0xff
			n++
		}
	}
	return n
}
