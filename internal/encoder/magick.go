package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"rawpress-go/internal/adapter"

	"github.com/disintegration/imaging"
)

// MagickEncoder encodes images with the ImageMagick command line tool.
type MagickEncoder struct {
	binary string
}

// NewMagickEncoder returns a MagickEncoder that runs the given binary.
func NewMagickEncoder(binary string) *MagickEncoder {
	if binary == "" {
		binary = "magick"
	}
	return &MagickEncoder{binary: binary}
}

// Available reports whether the magick binary can be found.
func (e *MagickEncoder) Available() bool {
	_, err := exec.LookPath(e.binary)
	return err == nil
}

// Encode implements adapter.ImageEncoder.
func (e *MagickEncoder) Encode(ctx context.Context, src adapter.Source, dst string, cfg adapter.EncodeConfig) (int64, error) {
	bin, err := exec.LookPath(e.binary)
	if err != nil {
		return 0, fmt.Errorf("%w: %s not found in PATH", adapter.ErrAdapterUnavailable, e.binary)
	}

	input := src.Path
	var stdin *bytes.Buffer
	if src.Image != nil {
		stdin = &bytes.Buffer{}
		if err := imaging.Encode(stdin, src.Image, imaging.PNG); err != nil {
			return 0, fmt.Errorf("%w: buffer source: %v", adapter.ErrEncodeFailed, err)
		}
		input = "png:-"
	}

	cmd := exec.CommandContext(ctx, bin, magickArgs(input, dst, cfg)...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(dst)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, fmt.Errorf("%w: %s exited with %d: %s", adapter.ErrEncodeFailed, e.binary, exitErr.ExitCode(), output)
		}
		if errors.Is(err, exec.ErrNotFound) {
			return 0, fmt.Errorf("%w: %v", adapter.ErrAdapterUnavailable, err)
		}
		return 0, fmt.Errorf("%w: %v", adapter.ErrEncodeFailed, err)
	}

	return fileSize(dst)
}

func magickArgs(input, dst string, cfg adapter.EncodeConfig) []string {
	args := []string{input}
	if cfg.ScalePercent > 0 && cfg.ScalePercent < 100 {
		args = append(args, "-resize", strconv.FormatFloat(cfg.ScalePercent, 'f', -1, 64)+"%")
	}
	args = append(args, "-quality", strconv.Itoa(cfg.Quality))
	if cfg.StripMetadata {
		args = append(args, "-strip")
	}
	prefix := "png"
	if cfg.Format == adapter.FormatJPEG {
		prefix = "jpg"
	}
	return append(args, prefix+":"+dst)
}
