package rawdecode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"

	"rawpress-go/internal/adapter"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/tiff"
)

// DefaultArgs makes dcraw use the camera white balance and emit a TIFF.
var DefaultArgs = []string{"-w", "-T"}

// DcrawDecoder decodes RAW files by running dcraw and reading the TIFF it
// writes to stdout.
type DcrawDecoder struct {
	binary string
	args   []string
	logger *logrus.Logger
}

// NewDcrawDecoder returns a DcrawDecoder. An empty binary defaults to "dcraw"
// and nil args default to DefaultArgs.
func NewDcrawDecoder(binary string, args []string, logger *logrus.Logger) *DcrawDecoder {
	if binary == "" {
		binary = "dcraw"
	}
	if args == nil {
		args = DefaultArgs
	}
	return &DcrawDecoder{binary: binary, args: args, logger: logger}
}

// Available reports whether the decoder binary can be found.
func (d *DcrawDecoder) Available() error {
	if _, err := exec.LookPath(d.binary); err != nil {
		return fmt.Errorf("%w: %s not found in PATH", adapter.ErrAdapterUnavailable, d.binary)
	}
	return nil
}

// Decode implements adapter.RawDecoder.
func (d *DcrawDecoder) Decode(ctx context.Context, path string) (image.Image, error) {
	if err := d.Available(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", adapter.ErrDecodeFailed, err)
	}

	args := append(append([]string{}, d.args...), "-c", path)
	cmd := exec.CommandContext(ctx, d.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	d.logger.WithField("file", path).Debugf("Running %s %v", d.binary, args)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s exited with %d: %s", adapter.ErrDecodeFailed, d.binary, exitErr.ExitCode(), stderr.String())
		}
		return nil, fmt.Errorf("%w: %v", adapter.ErrDecodeFailed, err)
	}

	img, err := tiff.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s output: %v", adapter.ErrDecodeFailed, d.binary, err)
	}
	return img, nil
}
