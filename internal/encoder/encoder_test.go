package encoder

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"rawpress-go/internal/adapter"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func TestImagingEncoder_LosslessPNG(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out.png")
	src := gradient(64, 48)

	n, err := NewImagingEncoder().Encode(context.Background(), adapter.Source{Image: src}, dst, adapter.Lossless())
	require.NoError(t, err)

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), n)

	decoded, err := imaging.Open(dst)
	require.NoError(t, err)
	assert.Equal(t, 64, decoded.Bounds().Dx())
	assert.Equal(t, 48, decoded.Bounds().Dy())
	r, g, b, _ := decoded.At(10, 20).RGBA()
	want := src.NRGBAAt(10, 20)
	assert.Equal(t, want.R, uint8(r>>8))
	assert.Equal(t, want.G, uint8(g>>8))
	assert.Equal(t, want.B, uint8(b>>8))
}

func TestImagingEncoder_ScalesFromPath(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.png")
	require.NoError(t, imaging.Save(gradient(200, 100), srcPath))

	dst := filepath.Join(dir, "small.jpg")
	cfg := adapter.EncodeConfig{Format: adapter.FormatJPEG, Quality: 60, ScalePercent: 25, StripMetadata: true}
	_, err := NewImagingEncoder().Encode(context.Background(), adapter.Source{Path: srcPath}, dst, cfg)
	require.NoError(t, err)

	decoded, err := imaging.Open(dst)
	require.NoError(t, err)
	assert.Equal(t, 50, decoded.Bounds().Dx())
	assert.Equal(t, 25, decoded.Bounds().Dy())
}

func TestImagingEncoder_MissingSource(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.png")
	_, err := NewImagingEncoder().Encode(context.Background(),
		adapter.Source{Path: filepath.Join(dir, "missing.png")}, dst, adapter.Lossless())

	require.ErrorIs(t, err, adapter.ErrEncodeFailed)
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPosterize(t *testing.T) {
	src := gradient(32, 32)
	assert.Same(t, image.Image(src), posterize(src, 100))

	out := imaging.Clone(posterize(src, 10))
	levels := map[uint8]struct{}{}
	for x := 0; x < 32; x++ {
		levels[out.NRGBAAt(x, 0).R] = struct{}{}
	}
	assert.LessOrEqual(t, len(levels), 25)
}

func TestMagickArgs(t *testing.T) {
	args := magickArgs("in.png", "out.jpg", adapter.EncodeConfig{
		Format: adapter.FormatJPEG, Quality: 40, ScalePercent: 12.5, StripMetadata: true,
	})
	assert.Equal(t, []string{"in.png", "-resize", "12.5%", "-quality", "40", "-strip", "jpg:out.jpg"}, args)

	args = magickArgs("in.png", "out.png", adapter.EncodeConfig{Format: adapter.FormatPNG, Quality: 50, ScalePercent: 100})
	assert.Equal(t, []string{"in.png", "-quality", "50", "png:out.png"}, args)
}

func TestMagickEncoder_MissingBinary(t *testing.T) {
	enc := NewMagickEncoder("rawpress-no-such-magick")
	assert.False(t, enc.Available())

	_, err := enc.Encode(context.Background(), adapter.Source{Path: "in.png"},
		filepath.Join(t.TempDir(), "out.png"), adapter.Lossless())
	require.ErrorIs(t, err, adapter.ErrAdapterUnavailable)
}

func TestNew(t *testing.T) {
	enc, err := New("imaging", "")
	require.NoError(t, err)
	assert.IsType(t, &ImagingEncoder{}, enc)

	enc, err = New("magick", "convert")
	require.NoError(t, err)
	assert.IsType(t, &MagickEncoder{}, enc)

	_, err = New("caesium", "")
	assert.Error(t, err)
	assert.Equal(t, []string{"imaging", "magick"}, Backends())
}
