package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
)

// TakenSource tells where CaptureInfo.Taken came from.
type TakenSource int

const (
	TakenUnknown TakenSource = iota
	TakenEXIFDateTime
	TakenEXIFDateTimeOriginal
	TakenEXIFDateTimeDigitized
	TakenFileModTime
)

// String returns a human-readable description of the source.
func (s TakenSource) String() string {
	switch s {
	case TakenEXIFDateTime:
		return "EXIF DateTime"
	case TakenEXIFDateTimeOriginal:
		return "EXIF DateTimeOriginal"
	case TakenEXIFDateTimeDigitized:
		return "EXIF DateTimeDigitized"
	case TakenFileModTime:
		return "File Modification Time"
	default:
		return "Unknown"
	}
}

// CaptureInfo is the camera and capture time of an image.
type CaptureInfo struct {
	Make        string
	Model       string
	Taken       time.Time
	TakenSource TakenSource
}

// Camera returns "Make Model", or an empty string if neither is known.
func (c CaptureInfo) Camera() string {
	return strings.TrimSpace(c.Make + " " + c.Model)
}

// CaptureReader reads capture info with goexif.
type CaptureReader struct {
	logger *logrus.Logger
}

// NewCaptureReader returns a new CaptureReader.
func NewCaptureReader(logger *logrus.Logger) *CaptureReader {
	return &CaptureReader{logger: logger}
}

// SupportsFile reports whether filePath may carry EXIF data.
func (r *CaptureReader) SupportsFile(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	return slices.Contains([]string{".jpg", ".jpeg", ".png", ".tiff", ".tif", ".nef", ".cr2", ".arw", ".dng"}, ext)
}

// Read returns the capture info of filePath. Files without usable EXIF get
// their modification time as Taken.
func (r *CaptureReader) Read(filePath string) (CaptureInfo, error) {
	if !r.SupportsFile(filePath) {
		return CaptureInfo{}, fmt.Errorf("file type not supported: %s", filePath)
	}

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return CaptureInfo{}, fmt.Errorf("failed to stat file: %w", err)
	}

	info, err := r.decode(filePath)
	if err != nil {
		r.logger.WithField("file", filePath).WithError(err).Debug("No EXIF capture info, using modification time")
		info.Taken, info.TakenSource = fileInfo.ModTime(), TakenFileModTime
	}
	return info, nil
}

func (r *CaptureReader) decode(filePath string) (CaptureInfo, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return CaptureInfo{}, err
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		return CaptureInfo{}, fmt.Errorf("failed to decode EXIF: %w", err)
	}

	var info CaptureInfo
	info.Make = stringTag(x, exif.Make)
	info.Model = stringTag(x, exif.Model)

	var ok bool
	info.Taken, info.TakenSource, ok = captureTime(func(name exif.FieldName) string {
		return stringTag(x, name)
	})
	if !ok {
		return info, fmt.Errorf("no valid date in EXIF")
	}
	return info, nil
}

// dateTags lists the date fields in the order they are trusted.
var dateTags = []struct {
	name   exif.FieldName
	source TakenSource
}{
	{exif.DateTimeOriginal, TakenEXIFDateTimeOriginal},
	{exif.DateTime, TakenEXIFDateTime},
	{exif.DateTimeDigitized, TakenEXIFDateTimeDigitized},
}

// captureTime returns the first parseable date among dateTags.
func captureTime(tag func(exif.FieldName) string) (time.Time, TakenSource, bool) {
	for _, dt := range dateTags {
		if tm := parseEXIFDateTime(tag(dt.name)); tm != nil {
			return *tm, dt.source, true
		}
	}
	return time.Time{}, TakenUnknown, false
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// parseEXIFDateTime returns nil if dateStr matches none of the known layouts.
func parseEXIFDateTime(dateStr string) *time.Time {
	if dateStr == "" {
		return nil
	}
	formats := []string{
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		"2006:01:02",
		time.RFC3339,
	}
	for _, format := range formats {
		if date, err := time.Parse(format, dateStr); err == nil {
			return &date
		}
	}
	return nil
}
