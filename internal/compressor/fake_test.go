package compressor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"rawpress-go/internal/adapter"

	"github.com/stretchr/testify/require"
)

// scriptedEncoder writes files whose sizes come from a function of the
// encode parameters, so runs are deterministic without a real codec.
type scriptedEncoder struct {
	mu    sync.Mutex
	size  func(cfg adapter.EncodeConfig) int64
	err   func(src adapter.Source, cfg adapter.EncodeConfig) error
	calls []adapter.EncodeConfig
	// maxLive is the largest number of artifacts seen on disk for one source
	// at the moment a new encode started.
	maxLive int
}

func (e *scriptedEncoder) Encode(ctx context.Context, src adapter.Source, dst string, cfg adapter.EncodeConfig) (int64, error) {
	e.mu.Lock()
	e.calls = append(e.calls, cfg)
	live := countArtifacts(dst)
	if live > e.maxLive {
		e.maxLive = live
	}
	e.mu.Unlock()

	if e.err != nil {
		if err := e.err(src, cfg); err != nil {
			return 0, err
		}
	}
	n := e.size(cfg)
	if err := os.WriteFile(dst, make([]byte, n), 0644); err != nil {
		return 0, err
	}
	return n, nil
}

func (e *scriptedEncoder) Calls() []adapter.EncodeConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]adapter.EncodeConfig(nil), e.calls...)
}

// countArtifacts counts the artifacts sharing dst's base name.
func countArtifacts(dst string) int {
	base := strings.TrimSuffix(dst, filepath.Ext(dst))
	n := 0
	for _, ext := range []string{".png", ".jpg"} {
		if _, err := os.Stat(base + ext); err == nil {
			n++
		}
	}
	return n
}

// sizeTable maps "format/quality/scale" to a byte count with a fallback.
func sizeTable(fallback int64, table map[string]int64) func(adapter.EncodeConfig) int64 {
	return func(cfg adapter.EncodeConfig) int64 {
		if n, ok := table[key(cfg.Format, cfg.Quality, cfg.ScalePercent)]; ok {
			return n
		}
		return fallback
	}
}

func key(f adapter.Format, q int, scale float64) string {
	return fmt.Sprintf("%s/%d/%g", f, q, scale)
}

func writeSource(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("png"), 0644))
	return path
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
