package metadata

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"rawpress-go/internal/adapter"
	"rawpress-go/internal/logger"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExiftool writes a script that appends its arguments to a log file,
// one invocation per line.
func fakeExiftool(t *testing.T, exitCode int) (bin, argLog string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script exiftool stub needs a POSIX shell")
	}
	dir := t.TempDir()
	argLog = filepath.Join(dir, "args.log")
	bin = filepath.Join(dir, "exiftool")
	body := "#!/bin/sh\necho \"$@\" >> " + argLog + "\n"
	if exitCode != 0 {
		body += "echo 'Error: not a valid image' >&2\nexit 1\n"
	}
	require.NoError(t, os.WriteFile(bin, []byte(body), 0755))
	return bin, argLog
}

func TestExifToolCopier_Copy(t *testing.T) {
	bin, argLog := fakeExiftool(t, 0)

	err := NewExifToolCopier(bin, "").Copy(context.Background(), "/in/DSC_0001.NEF", "/out/DSC_0001.web.jpg")
	require.NoError(t, err)

	data, err := os.ReadFile(argLog)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "-TagsFromFile /in/DSC_0001.NEF -overwrite_original /out/DSC_0001.web.jpg", lines[0])
	assert.Equal(t, "-overwrite_original -Software=rawpress /out/DSC_0001.web.jpg", lines[1])
}

func TestExifToolCopier_CopyFails(t *testing.T) {
	bin, _ := fakeExiftool(t, 1)

	err := NewExifToolCopier(bin, "").Copy(context.Background(), "a.NEF", "a.web.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid image")
	assert.NotErrorIs(t, err, adapter.ErrAdapterUnavailable)
}

func TestExifToolCopier_Unavailable(t *testing.T) {
	c := NewExifToolCopier(filepath.Join(t.TempDir(), "no-exiftool"), "")
	assert.ErrorIs(t, c.Available(), adapter.ErrAdapterUnavailable)
	assert.ErrorIs(t, c.Copy(context.Background(), "a", "b"), adapter.ErrAdapterUnavailable)
}

func TestNewInspector_Unavailable(t *testing.T) {
	_, err := NewInspector(filepath.Join(t.TempDir(), "no-exiftool"))
	assert.ErrorIs(t, err, adapter.ErrAdapterUnavailable)
}

func TestCaptureReader_FallsBackToModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.png")
	require.NoError(t, os.WriteFile(path, []byte("not really a png"), 0644))
	mtime := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	r := NewCaptureReader(logger.Discard())
	info, err := r.Read(path)
	require.NoError(t, err)
	assert.Equal(t, TakenFileModTime, info.TakenSource)
	assert.True(t, info.Taken.Equal(mtime))
	assert.Empty(t, info.Camera())

}

func TestCaptureTime_TagPriority(t *testing.T) {
	tests := []struct {
		name   string
		tags   map[exif.FieldName]string
		want   time.Time
		source TakenSource
		ok     bool
	}{
		{
			name: "original wins over modify time",
			tags: map[exif.FieldName]string{
				exif.DateTime:          "2024:02:02 10:00:00",
				exif.DateTimeOriginal:  "2023:01:01 09:00:00",
				exif.DateTimeDigitized: "2023:01:01 09:00:01",
			},
			want:   time.Date(2023, 1, 1, 9, 0, 0, 0, time.UTC),
			source: TakenEXIFDateTimeOriginal,
			ok:     true,
		},
		{
			name: "unparseable original falls back to DateTime",
			tags: map[exif.FieldName]string{
				exif.DateTimeOriginal: "    :  :     :  :  ",
				exif.DateTime:         "2024:02:02 10:00:00",
			},
			want:   time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC),
			source: TakenEXIFDateTime,
			ok:     true,
		},
		{
			name:   "digitized only",
			tags:   map[exif.FieldName]string{exif.DateTimeDigitized: "2022:05:06 07:08:09"},
			want:   time.Date(2022, 5, 6, 7, 8, 9, 0, time.UTC),
			source: TakenEXIFDateTimeDigitized,
			ok:     true,
		},
		{
			name:   "no dates",
			tags:   map[exif.FieldName]string{},
			source: TakenUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, source, ok := captureTime(func(name exif.FieldName) string { return tt.tags[name] })
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.source, source)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
		})
	}
}

func TestCaptureReader_Unsupported(t *testing.T) {
	_, err := NewCaptureReader(logger.Discard()).Read("notes.txt")
	assert.Error(t, err)
}

func TestParseEXIFDateTime(t *testing.T) {
	tm := parseEXIFDateTime("2023:12:25 15:30:45")
	require.NotNil(t, tm)
	assert.Equal(t, time.Date(2023, 12, 25, 15, 30, 45, 0, time.UTC), *tm)
	assert.Nil(t, parseEXIFDateTime(""))
	assert.Nil(t, parseEXIFDateTime("yesterday"))
}

func TestFindRawSource(t *testing.T) {
	raw := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(raw, "IMG_0002.CR2"), []byte("raw"), 0644))

	src, ok := FindRawSource("/out/IMG_0002.png", raw, []string{".NEF", ".CR2", ".ARW"})
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(raw, "IMG_0002.CR2"), src)

	_, ok = FindRawSource("/out/IMG_0003.png", raw, []string{".NEF", ".CR2"})
	assert.False(t, ok)
}

func TestTakenSource_String(t *testing.T) {
	assert.Equal(t, "EXIF DateTimeOriginal", TakenEXIFDateTimeOriginal.String())
	assert.Equal(t, "Unknown", TakenUnknown.String())
}
