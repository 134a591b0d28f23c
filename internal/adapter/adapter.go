package adapter

import (
	"context"
	"errors"
	"image"
	"strings"
)

var (
	// ErrAdapterUnavailable is returned when a required external tool cannot be located.
	// It is fatal to the whole batch.
	ErrAdapterUnavailable = errors.New("adapter unavailable")
	// ErrDecodeFailed is returned when a single RAW file could not be decoded.
	ErrDecodeFailed = errors.New("decode failed")
	// ErrEncodeFailed is returned when the encoder reported an error for a single file.
	ErrEncodeFailed = errors.New("encode failed")
)

// Format is an output image format.
type Format int

const (
	FormatPNG Format = iota
	FormatJPEG
)

// String returns the lower-case format name.
func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}

// Extension returns the file extension used for artifacts of this format.
func (f Format) Extension() string {
	if f == FormatJPEG {
		return ".jpg"
	}
	return ".png"
}

// ParseFormat parses a format name such as "png", "jpg" or "jpeg".
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "png":
		return FormatPNG, true
	case "jpg", "jpeg":
		return FormatJPEG, true
	default:
		return FormatPNG, false
	}
}

// EncodeConfig holds the parameters of a single encode invocation.
type EncodeConfig struct {
	Format        Format
	Quality       int     // 1-100
	ScalePercent  float64 // percentage of linear dimensions to keep
	StripMetadata bool
}

// Lossless returns the configuration used to write a full-resolution PNG
// without any size constraint.
func Lossless() EncodeConfig {
	return EncodeConfig{
		Format:       FormatPNG,
		Quality:      100,
		ScalePercent: 100,
	}
}

// Source is the input of an encode: either an already decoded image or a path
// to an image file. Image takes precedence when both are set.
type Source struct {
	Path  string
	Image image.Image
}

// RawDecoder decodes camera RAW files into pixel buffers.
type RawDecoder interface {
	// Decode returns the demosaiced image for the RAW file at path.
	Decode(ctx context.Context, path string) (image.Image, error)
}

// ImageEncoder writes encoded images to disk.
type ImageEncoder interface {
	// Encode writes src to dst using cfg and returns the size of the written file in bytes.
	Encode(ctx context.Context, src Source, dst string, cfg EncodeConfig) (int64, error)
}
