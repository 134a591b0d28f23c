package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"rawpress-go/internal/adapter"
	"rawpress-go/internal/logger"

	"github.com/sirupsen/logrus"
)

// Result describes the conversion of a single RAW file.
type Result struct {
	RawPath    string
	PNGPath    string
	Bytes      int64
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Success reports whether the file was converted.
func (r Result) Success() bool {
	return r.Err == nil
}

// Stage converts RAW files to full-resolution PNGs.
type Stage struct {
	decoder   adapter.RawDecoder
	encoder   adapter.ImageEncoder
	outputDir string
	workers   int
	logger    *logrus.Logger
	onResult  func(done, total int, r Result)
}

// NewStage returns a Stage writing PNGs into outputDir. workers <= 0 uses
// one worker per available processor.
func NewStage(decoder adapter.RawDecoder, encoder adapter.ImageEncoder, outputDir string, workers int, log *logrus.Logger) *Stage {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Stage{
		decoder:   decoder,
		encoder:   encoder,
		outputDir: outputDir,
		workers:   workers,
		logger:    log,
	}
}

// OnResult registers a callback invoked once per converted or failed file.
func (s *Stage) OnResult(fn func(done, total int, r Result)) {
	s.onResult = fn
}

// PNGPath returns the PNG written for rawPath.
func (s *Stage) PNGPath(rawPath string) string {
	name := filepath.Base(rawPath)
	return filepath.Join(s.outputDir, strings.TrimSuffix(name, filepath.Ext(name))+".png")
}

// Convert decodes rawPath and writes it as a lossless PNG.
func (s *Stage) Convert(ctx context.Context, rawPath string) (string, int64, error) {
	log := logger.WithFileOperation(s.logger, rawPath, "convert")

	img, err := s.decoder.Decode(ctx, rawPath)
	if err != nil {
		return "", 0, err
	}

	pngPath := s.PNGPath(rawPath)
	n, err := s.encoder.Encode(ctx, adapter.Source{Image: img}, pngPath, adapter.Lossless())
	if err != nil {
		return "", 0, err
	}

	log.WithFields(logrus.Fields{
		"output": pngPath,
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
		"bytes":  n,
	}).Info("Converted RAW to PNG")
	return pngPath, n, nil
}

// ConvertAll converts every file and returns one result per input, in input
// order. A single failure does not stop its siblings; a missing decoder or
// encoder aborts the stage and is returned as the error.
func (s *Stage) ConvertAll(ctx context.Context, rawPaths []string) ([]Result, error) {
	if len(rawPaths) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type job struct {
		index int
		path  string
	}

	jobs := make(chan job, len(rawPaths))
	results := make([]Result, len(rawPaths))
	collides := s.collisions(rawPaths)

	var (
		mu    sync.Mutex
		done  int
		fatal error
		wg    sync.WaitGroup
	)

	numWorkers := min(s.workers, len(rawPaths))
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				r := Result{RawPath: j.path, StartedAt: time.Now()}
				if err := ctx.Err(); err != nil {
					r.Err = err
				} else if first, ok := collides[j.index]; ok {
					r.Err = fmt.Errorf("%w: output name collides with %s", adapter.ErrDecodeFailed, first)
				} else {
					r.PNGPath, r.Bytes, r.Err = s.Convert(ctx, j.path)
				}
				r.FinishedAt = time.Now()

				mu.Lock()
				results[j.index] = r
				if errors.Is(r.Err, adapter.ErrAdapterUnavailable) && fatal == nil {
					fatal = r.Err
					cancel()
				}
				done++
				n := done
				mu.Unlock()

				if r.Err != nil && !errors.Is(r.Err, context.Canceled) {
					logger.WithFileOperation(s.logger, j.path, "convert").WithError(r.Err).Error("Conversion failed")
				}
				if s.onResult != nil {
					s.onResult(n, len(rawPaths), r)
				}
			}
		}()
	}

	for i, p := range rawPaths {
		jobs <- job{index: i, path: p}
	}
	close(jobs)
	wg.Wait()

	if fatal != nil {
		return results, fatal
	}
	return results, nil
}

// collisions maps the index of every input whose PNG path was already
// claimed by an earlier input to that earlier input. DSC_0001.NEF and
// DSC_0001.CR2 both map to DSC_0001.png; only the first is converted.
func (s *Stage) collisions(rawPaths []string) map[int]string {
	claimed := make(map[string]string, len(rawPaths))
	collides := make(map[int]string)
	for i, p := range rawPaths {
		out := s.PNGPath(p)
		if first, ok := claimed[out]; ok {
			collides[i] = first
			continue
		}
		claimed[out] = p
	}
	return collides
}
