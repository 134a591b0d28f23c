package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"rawpress-go/internal/adapter"

	"github.com/barasher/go-exiftool"
)

// DefaultSoftwareMark is written to the Software tag of every artifact that
// received copied metadata.
const DefaultSoftwareMark = "rawpress"

// Copier copies metadata from one image onto another.
type Copier interface {
	Copy(ctx context.Context, src, dst string) error
}

// ExifToolCopier copies tags with the exiftool binary and marks the
// destination's Software tag.
type ExifToolCopier struct {
	binary string
	mark   string
}

// NewExifToolCopier returns a copier running binary ("exiftool" if empty).
func NewExifToolCopier(binary, mark string) *ExifToolCopier {
	if binary == "" {
		binary = "exiftool"
	}
	if mark == "" {
		mark = DefaultSoftwareMark
	}
	return &ExifToolCopier{binary: binary, mark: mark}
}

// Available returns ErrAdapterUnavailable if the binary cannot be found.
func (c *ExifToolCopier) Available() error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("%w: %s: %v", adapter.ErrAdapterUnavailable, c.binary, err)
	}
	return nil
}

// Copy copies every writable tag of src onto dst in place and sets the
// Software tag.
func (c *ExifToolCopier) Copy(ctx context.Context, src, dst string) error {
	if err := c.Available(); err != nil {
		return err
	}
	if err := c.run(ctx, "-TagsFromFile", src, "-overwrite_original", dst); err != nil {
		return fmt.Errorf("exiftool copy failed: %w", err)
	}
	if err := c.run(ctx, "-overwrite_original", "-Software="+c.mark, dst); err != nil {
		return fmt.Errorf("exiftool set Software failed: %w", err)
	}
	return nil
}

func (c *ExifToolCopier) run(ctx context.Context, args ...string) error {
	output, err := exec.CommandContext(ctx, c.binary, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w (output: %s)", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Tag is a single metadata field.
type Tag struct {
	Name  string
	Value string
}

// Inspector dumps metadata with a long-running exiftool process.
type Inspector struct {
	et *exiftool.Exiftool
}

// NewInspector starts exiftool. A missing binary is reported as
// ErrAdapterUnavailable.
func NewInspector(binary string) (*Inspector, error) {
	var opts []func(*exiftool.Exiftool) error
	if binary != "" {
		opts = append(opts, exiftool.SetExiftoolBinaryPath(binary))
	}
	et, err := exiftool.NewExiftool(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: exiftool: %v", adapter.ErrAdapterUnavailable, err)
	}
	return &Inspector{et: et}, nil
}

// Close stops the exiftool process.
func (i *Inspector) Close() error {
	return i.et.Close()
}

// Tags returns every field exiftool reports for path, sorted by name.
func (i *Inspector) Tags(path string) ([]Tag, error) {
	infos := i.et.ExtractMetadata(path)
	if len(infos) == 0 {
		return nil, errors.New("no metadata found")
	}
	if infos[0].Err != nil {
		return nil, infos[0].Err
	}

	tags := make([]Tag, 0, len(infos[0].Fields))
	for name, v := range infos[0].Fields {
		tags = append(tags, Tag{Name: name, Value: fmt.Sprint(v)})
	}
	sort.Slice(tags, func(a, b int) bool { return tags[a].Name < tags[b].Name })
	return tags, nil
}

// Marked reports whether path's Software tag contains mark.
func (i *Inspector) Marked(path, mark string) (bool, error) {
	infos := i.et.ExtractMetadata(path)
	if len(infos) == 0 {
		return false, errors.New("no metadata found")
	}
	if infos[0].Err != nil {
		return false, infos[0].Err
	}
	sw, err := infos[0].GetString("Software")
	if err != nil {
		return false, nil
	}
	return strings.Contains(sw, mark), nil
}

// FindRawSource returns the RAW file in rawDir sharing pngPath's basename,
// trying each extension in order.
func FindRawSource(pngPath, rawDir string, extensions []string) (string, bool) {
	name := filepath.Base(pngPath)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	for _, ext := range extensions {
		candidate := filepath.Join(rawDir, stem+ext)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}
