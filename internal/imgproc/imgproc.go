// Package imgproc validates uploaded image files and normalizes them to an
// opaque 8-bit RGB JPEG before they are sent to a captioning model.
package imgproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	// MaxPixels is the hard ceiling on width*height. Anything bigger is
	// treated as a decompression bomb whatever Options says.
	MaxPixels = 178_956_970

	// DefaultMaxPixels bounds a single decode to roughly 160 MB of NRGBA.
	DefaultMaxPixels = 40_000_000
)

// Options controls Normalize.
type Options struct {
	// MaxDim shrinks the image to fit a MaxDim square. 0 keeps the size.
	MaxDim int
	// MaxPixels rejects images with more pixels before they are decoded.
	// 0 means DefaultMaxPixels. Values above the hard ceiling are clamped.
	MaxPixels int64
}

func (o Options) pixelLimit() int64 {
	switch {
	case o.MaxPixels <= 0:
		return DefaultMaxPixels
	case o.MaxPixels > MaxPixels:
		return MaxPixels
	}
	return o.MaxPixels
}

var ErrInvalidImage = errors.New("invalid or corrupted image file")

var allowed = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
	"bmp":  true,
	"webp": true,
}

// AllowedTypes returns the accepted file extensions in alphabetical order.
func AllowedTypes() []string {
	types := make([]string, 0, len(allowed))
	for t := range allowed {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// AllowedFile reports whether name has an accepted image extension. The
// check is on the last dot-suffix only and ignores case.
func AllowedFile(name string) bool {
	ext := path.Ext(name)
	if ext == "" {
		return false
	}
	return allowed[strings.ToLower(ext[1:])]
}

// Normalize decodes data, drops any alpha channel and re-encodes the result
// as a JPEG. The header is checked against the pixel limit before the body
// is decoded. When opts.MaxDim > 0 the image is shrunk to fit, keeping its
// aspect ratio.
func Normalize(data []byte, opts Options) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > opts.pixelLimit() {
		return nil, fmt.Errorf("%w: %dx%d exceeds pixel limit", ErrInvalidImage, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	rgb := ToRGB(img)
	if d := opts.MaxDim; d > 0 && (rgb.Bounds().Dx() > d || rgb.Bounds().Dy() > d) {
		rgb = imaging.Fit(rgb, d, d, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, rgb, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// ToRGB returns an opaque copy of img. Color channels are kept as they are
// and alpha is discarded, the same as a plain RGB mode conversion.
func ToRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
