package compressor

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

// DefaultArtifactSuffix is inserted between a source basename and the
// artifact extension: photo.png becomes photo.web.png or photo.web.jpg.
const DefaultArtifactSuffix = ".web"

// Options configures a SizeTargetingCompressor.
type Options struct {
	Schedule       Schedule
	ArtifactSuffix string
	Workers        int
	// Retries is the number of extra encode attempts after an ErrEncodeFailed.
	Retries int
	// OnResult is called once per finished task from CompressAll.
	OnResult func(done, total int, r TaskResult)
}

// SizeTargetingCompressor re-encodes images along a descent schedule until
// each one fits its byte budget.
type SizeTargetingCompressor struct {
	opts    Options
	encoder adapter.ImageEncoder
	logger  *logrus.Logger
}

// NewSizeTargetingCompressor returns a compressor using enc for every attempt.
func NewSizeTargetingCompressor(opts Options, enc adapter.ImageEncoder, log *logrus.Logger) (*SizeTargetingCompressor, error) {
	if err := opts.Schedule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	if opts.ArtifactSuffix == "" {
		opts.ArtifactSuffix = DefaultArtifactSuffix
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &SizeTargetingCompressor{opts: opts, encoder: enc, logger: log}, nil
}

// OnResult replaces the per-task callback used by CompressAll.
func (c *SizeTargetingCompressor) OnResult(fn func(done, total int, r TaskResult)) {
	c.opts.OnResult = fn
}

// ArtifactSuffix returns the suffix used to name artifacts.
func (c *SizeTargetingCompressor) ArtifactSuffix() string {
	return c.opts.ArtifactSuffix
}

// Compress implements Compressor.
func (c *SizeTargetingCompressor) Compress(ctx context.Context, task Task) (Outcome, error) {
	log := logger.WithFileOperation(c.logger, task.SourcePath, "compress")
	base := artifactBase(task.SourcePath, c.opts.ArtifactSuffix)
	removeArtifacts(base)

	var (
		attempts []Attempt
		best     Attempt
		onDisk   string
	)
	st := c.opts.Schedule.Start()

	for !st.Phase.Done() {
		if err := ctx.Err(); err != nil {
			removeFile(onDisk)
			return Outcome{AttemptsUsed: len(attempts), Attempts: attempts}, err
		}

		a, err := c.attempt(ctx, task, base, st.Params)
		if err != nil {
			return Outcome{AttemptsUsed: len(attempts), Attempts: attempts}, err
		}
		attempts = append(attempts, a)
		onDisk = a.Path
		if len(attempts) == 1 || a.ResultBytes < best.ResultBytes {
			best = a
		}

		log.WithFields(logrus.Fields{
			"format":  a.Format.String(),
			"quality": a.Quality,
			"scale":   a.ScalePercent,
			"bytes":   a.ResultBytes,
			"target":  task.TargetBytes,
		}).Debug("Encode attempt finished")

		st = c.opts.Schedule.Next(st, a.ResultBytes, task.TargetBytes)
		if !st.Phase.Done() {
			removeFile(onDisk)
			onDisk = ""
		}
	}

	final := attempts[len(attempts)-1]
	if st.Phase == Exhausted && final.ResultBytes > best.ResultBytes {
		removeFile(onDisk)
		restored, err := c.attempt(ctx, task, base, best.Params)
		if err != nil {
			return Outcome{AttemptsUsed: len(attempts), Attempts: attempts}, err
		}
		restored.Restore = true
		attempts = append(attempts, restored)
		final = restored
	}

	out := Outcome{
		FinalPath:    final.Path,
		FinalFormat:  final.Format,
		FinalBytes:   final.ResultBytes,
		MetTarget:    final.ResultBytes <= task.TargetBytes,
		AttemptsUsed: len(attempts),
		Attempts:     attempts,
	}

	entry := log.WithFields(logrus.Fields{
		"final":    out.FinalPath,
		"bytes":    out.FinalBytes,
		"attempts": out.AttemptsUsed,
		"state":    st.Phase.String(),
	})
	if out.MetTarget {
		entry.Info("Image fits target size")
	} else {
		entry.Warn("Target size not reached, kept smallest candidate")
	}
	return out, nil
}

// attempt encodes one candidate, retrying encoder failures up to opts.Retries times.
func (c *SizeTargetingCompressor) attempt(ctx context.Context, task Task, base string, p Params) (Attempt, error) {
	dst := base + p.Format.Extension()
	cfg := adapter.EncodeConfig{
		Format:        p.Format,
		Quality:       p.Quality,
		ScalePercent:  p.ScalePercent,
		StripMetadata: !task.PreserveMetadata,
	}

	var lastErr error
	for try := 0; try <= c.opts.Retries; try++ {
		size, err := c.encoder.Encode(ctx, adapter.Source{Path: task.SourcePath}, dst, cfg)
		if err == nil {
			return Attempt{Params: p, ResultBytes: size, Path: dst}, nil
		}
		removeFile(dst)
		lastErr = err
		if !errors.Is(err, adapter.ErrEncodeFailed) {
			break
		}
	}
	return Attempt{}, lastErr
}

// CompressAll implements Compressor.
func (c *SizeTargetingCompressor) CompressAll(ctx context.Context, tasks []Task) ([]TaskResult, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type job struct {
		index int
		task  Task
	}

	jobs := make(chan job, len(tasks))
	results := make([]TaskResult, len(tasks))
	processed := make([]bool, len(tasks))

	var (
		mu    sync.Mutex
		done  int
		fatal error
		wg    sync.WaitGroup
	)

	numWorkers := min(c.opts.Workers, len(tasks))
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}

				r := TaskResult{Task: j.task, StartedAt: time.Now()}
				r.Outcome, r.Err = c.Compress(ctx, j.task)
				r.FinishedAt = time.Now()

				mu.Lock()
				if errors.Is(r.Err, adapter.ErrAdapterUnavailable) {
					if fatal == nil {
						fatal = r.Err
					}
					mu.Unlock()
					cancel()
					return
				}
				results[j.index] = r
				processed[j.index] = true
				done++
				n := done
				mu.Unlock()

				if r.Err != nil {
					logger.WithFileOperation(c.logger, j.task.SourcePath, "compress").
						WithError(r.Err).Error("Compression failed")
				}
				if c.opts.OnResult != nil {
					c.opts.OnResult(n, len(tasks), r)
				}
			}
		}()
	}

	for i, t := range tasks {
		jobs <- job{index: i, task: t}
	}
	close(jobs)
	wg.Wait()

	if fatal != nil {
		return nil, fatal
	}
	for i := range results {
		if !processed[i] {
			results[i] = TaskResult{Task: tasks[i], Err: ctx.Err()}
			if results[i].Err == nil {
				results[i].Err = context.Canceled
			}
		}
	}
	return results, nil
}

// IsArtifact reports whether name is an artifact written by a compressor
// using suffix, e.g. photo.web.png.
func IsArtifact(name, suffix string) bool {
	if suffix == "" {
		suffix = DefaultArtifactSuffix
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.HasSuffix(stem, suffix)
}

func artifactBase(sourcePath, suffix string) string {
	return strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath)) + suffix
}

// removeArtifacts deletes artifacts left for the same source by an earlier run.
func removeArtifacts(base string) {
	for _, f := range []adapter.Format{adapter.FormatPNG, adapter.FormatJPEG} {
		removeFile(base + f.Extension())
	}
}

func removeFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
