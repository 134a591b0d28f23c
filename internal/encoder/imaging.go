package encoder

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"rawpress-go/internal/adapter"

	"github.com/disintegration/imaging"
)

// ImagingEncoder encodes images in-process with the imaging library.
// It never writes ancillary metadata, so every output is stripped whatever
// cfg.StripMetadata says; metadata is restored by a post-process copy.
type ImagingEncoder struct{}

// NewImagingEncoder returns a new ImagingEncoder.
func NewImagingEncoder() *ImagingEncoder {
	return &ImagingEncoder{}
}

// Encode implements adapter.ImageEncoder.
func (e *ImagingEncoder) Encode(ctx context.Context, src adapter.Source, dst string, cfg adapter.EncodeConfig) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	img, err := openSource(src)
	if err != nil {
		return 0, err
	}

	img = scale(img, cfg.ScalePercent)

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("%w: create %s: %v", adapter.ErrEncodeFailed, dst, err)
	}

	switch cfg.Format {
	case adapter.FormatJPEG:
		err = imaging.Encode(out, img, imaging.JPEG, imaging.JPEGQuality(cfg.Quality))
	default:
		err = imaging.Encode(out, posterize(img, cfg.Quality), imaging.PNG,
			imaging.PNGCompressionLevel(png.BestCompression))
	}
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return 0, fmt.Errorf("%w: %s: %v", adapter.ErrEncodeFailed, dst, err)
	}

	return fileSize(dst)
}

func openSource(src adapter.Source) (image.Image, error) {
	if src.Image != nil {
		return src.Image, nil
	}
	img, err := imaging.Open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", adapter.ErrEncodeFailed, src.Path, err)
	}
	return img, nil
}

// scale resizes img to percent of its linear dimensions. Anything at or above
// 100 percent is returned unchanged.
func scale(img image.Image, percent float64) image.Image {
	if percent <= 0 || percent >= 100 {
		return img
	}
	b := img.Bounds()
	w := max(int(float64(b.Dx())*percent/100), 1)
	h := max(int(float64(b.Dy())*percent/100), 1)
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// posterize reduces the number of levels per channel in proportion to quality
// so that lossless PNG compression has fewer distinct values to store.
// Quality 100 leaves the image untouched.
func posterize(img image.Image, quality int) image.Image {
	if quality >= 100 || quality <= 0 {
		return img
	}
	levels := max(quality*256/100, 2)
	step := 256 / levels
	if step <= 1 {
		return img
	}
	quant := func(v uint8) uint8 {
		q := int(v)/step*step + step/2
		if q > 255 {
			q = 255
		}
		return uint8(q)
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: quant(c.R), G: quant(c.G), B: quant(c.B), A: c.A}
	})
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", adapter.ErrEncodeFailed, path, err)
	}
	return info.Size(), nil
}
