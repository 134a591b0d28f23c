package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"rawpress-go/internal/adapter"
	"rawpress-go/internal/compressor"
	"rawpress-go/internal/converter"
	"rawpress-go/internal/metadata"
	"rawpress-go/internal/publish"
	"rawpress-go/internal/statistics"

	"github.com/sirupsen/logrus"
)

// Process exit codes.
const (
	ExitOK                = 0
	ExitConversionFailed  = 1
	ExitCompressionFailed = 2
	ExitToolUnavailable   = 3
)

// Stage names used in progress events.
const (
	StageConvert  = "convert"
	StageCompress = "compress"
	StageMetadata = "metadata"
	StagePublish  = "publish"
)

// Converter runs the RAW to PNG stage.
type Converter interface {
	ConvertAll(ctx context.Context, rawPaths []string) ([]converter.Result, error)
	OnResult(fn func(done, total int, r converter.Result))
}

// BatchCompressor runs the size-targeting stage.
type BatchCompressor interface {
	CompressAll(ctx context.Context, tasks []compressor.Task) ([]compressor.TaskResult, error)
	OnResult(fn func(done, total int, r compressor.TaskResult))
	ArtifactSuffix() string
}

// Publisher uploads final artifacts.
type Publisher interface {
	PublishAll(ctx context.Context, paths []string) ([]publish.Result, error)
}

// ProgressEvent reports one finished file in any stage.
type ProgressEvent struct {
	Stage   string    `json:"stage"`
	File    string    `json:"file"`
	Done    int       `json:"done"`
	Total   int       `json:"total"`
	Bytes   int64     `json:"bytes,omitempty"`
	Warning bool      `json:"warning,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// ProgressFunc receives progress events. It may be called from several
// goroutines at once.
type ProgressFunc func(ProgressEvent)

// Options configures an Orchestrator.
type Options struct {
	InputDir         string
	OutputDir        string
	RawExtensions    []string
	TargetBytes      int64
	PreserveMetadata bool
	// CopyFromRaw takes metadata from the original RAW instead of the PNG.
	CopyFromRaw bool
}

// BatchResult aggregates one run.
type BatchResult struct {
	Conversion  []converter.Result
	Compression []compressor.TaskResult
	Published   []publish.Result

	ConversionOK  bool
	CompressionOK bool
	Warnings      int
	// Err is the error that stopped the run early, if any.
	Err error
}

// ExitCode maps the result to the process exit code.
func (r BatchResult) ExitCode() int {
	switch {
	case errors.Is(r.Err, adapter.ErrAdapterUnavailable):
		return ExitToolUnavailable
	case !r.ConversionOK:
		return ExitConversionFailed
	case !r.CompressionOK:
		return ExitCompressionFailed
	default:
		return ExitOK
	}
}

// Orchestrator discovers inputs and runs conversion, compression and the
// optional metadata and publish steps.
type Orchestrator struct {
	opts       Options
	converter  Converter
	compressor BatchCompressor
	copier     metadata.Copier
	publisher  Publisher
	stats      *statistics.Statistics
	logger     *logrus.Logger

	mu        sync.RWMutex
	listeners []ProgressFunc
}

// New returns an Orchestrator. copier and publisher may be nil.
func New(opts Options, conv Converter, comp BatchCompressor, copier metadata.Copier, publisher Publisher,
	stats *statistics.Statistics, log *logrus.Logger) *Orchestrator {
	o := &Orchestrator{
		opts:       opts,
		converter:  conv,
		compressor: comp,
		copier:     copier,
		publisher:  publisher,
		stats:      stats,
		logger:     log,
	}

	conv.OnResult(func(done, total int, r converter.Result) {
		ev := ProgressEvent{Stage: StageConvert, File: r.RawPath, Done: done, Total: total, Bytes: r.Bytes}
		if r.Err != nil {
			ev.Error = r.Err.Error()
		}
		o.emit(ev)
	})
	comp.OnResult(func(done, total int, r compressor.TaskResult) {
		ev := ProgressEvent{
			Stage:   StageCompress,
			File:    r.Task.SourcePath,
			Done:    done,
			Total:   total,
			Bytes:   r.Outcome.FinalBytes,
			Warning: r.Warning(),
		}
		if r.Err != nil {
			ev.Error = r.Err.Error()
		}
		o.emit(ev)
	})
	return o
}

// OnProgress registers a listener for progress events.
func (o *Orchestrator) OnProgress(fn ProgressFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// Statistics returns the run's counters.
func (o *Orchestrator) Statistics() *statistics.Statistics {
	return o.stats
}

func (o *Orchestrator) emit(ev ProgressEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	o.mu.RLock()
	listeners := slices.Clone(o.listeners)
	o.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// DiscoverRaw lists RAW files directly inside the input directory whose
// extension is in the configured set. Matching is case-sensitive.
func (o *Orchestrator) DiscoverRaw() ([]string, error) {
	entries, err := os.ReadDir(o.opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	suffix := o.compressor.ArtifactSuffix()
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if !slices.Contains(o.opts.RawExtensions, filepath.Ext(name)) {
			continue
		}
		// x.web.NEF would convert to x.web.png, which reads as an artifact.
		if compressor.IsArtifact(strings.TrimSuffix(name, filepath.Ext(name))+".png", suffix) {
			o.logger.WithField("file", name).Warn("Skipping RAW whose name ends in the artifact suffix")
			continue
		}
		files = append(files, filepath.Join(o.opts.InputDir, name))
	}
	return files, nil
}

// DiscoverPNG lists the PNGs in the output directory, skipping artifacts
// written by an earlier compression run. A missing directory yields no files.
func (o *Orchestrator) DiscoverPNG() ([]string, error) {
	entries, err := os.ReadDir(o.opts.OutputDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	suffix := o.compressor.ArtifactSuffix()
	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || filepath.Ext(name) != ".png" || compressor.IsArtifact(name, suffix) {
			continue
		}
		files = append(files, filepath.Join(o.opts.OutputDir, name))
	}
	return files, nil
}

// RunConversion converts every discovered RAW file. The bool is the
// conjunction of all per-file outcomes.
func (o *Orchestrator) RunConversion(ctx context.Context) ([]converter.Result, bool, error) {
	raws, err := o.DiscoverRaw()
	if err != nil {
		return nil, false, err
	}
	o.stats.AddRawFound(len(raws))
	o.logger.WithField("count", len(raws)).Info("Found RAW files to convert")

	results, err := o.converter.ConvertAll(ctx, raws)
	ok := err == nil
	for _, r := range results {
		o.stats.RecordConversion(r.RawPath, r.Err)
		if r.Err != nil {
			ok = false
		}
	}
	return results, ok, err
}

// RunCompression compresses every PNG in the output directory, then copies
// metadata onto the final artifacts when requested. The bool is false if
// any task failed; target misses count as warnings, not failures.
func (o *Orchestrator) RunCompression(ctx context.Context) ([]compressor.TaskResult, bool, error) {
	pngs, err := o.DiscoverPNG()
	if err != nil {
		return nil, false, err
	}
	o.stats.AddPNGFound(len(pngs))
	o.logger.WithFields(logrus.Fields{
		"count":  len(pngs),
		"target": statistics.FormatBytes(o.opts.TargetBytes),
	}).Info("Found PNG files to compress")

	tasks := make([]compressor.Task, len(pngs))
	before := make([]int64, len(pngs))
	for i, p := range pngs {
		tasks[i] = compressor.Task{SourcePath: p, TargetBytes: o.opts.TargetBytes, PreserveMetadata: o.opts.PreserveMetadata}
		if info, err := os.Stat(p); err == nil {
			before[i] = info.Size()
		}
	}

	results, err := o.compressor.CompressAll(ctx, tasks)
	if err != nil {
		return nil, false, err
	}

	if o.opts.PreserveMetadata && o.copier != nil {
		o.copyMetadata(ctx, results)
	}

	ok := true
	for i, r := range results {
		o.stats.RecordCompression(r.Task.SourcePath, before[i], r.Outcome.FinalBytes, r.Outcome.AttemptsUsed, r.Outcome.MetTarget, r.Err)
		if r.Err != nil {
			ok = false
		}
	}
	return results, ok, nil
}

// copyMetadata runs the metadata post-process on every successful result and
// refreshes its size, since copied tags can push an artifact over target.
func (o *Orchestrator) copyMetadata(ctx context.Context, results []compressor.TaskResult) {
	done := 0
	for i := range results {
		r := &results[i]
		if r.Err != nil {
			continue
		}

		src := r.Task.SourcePath
		if o.opts.CopyFromRaw {
			if raw, ok := metadata.FindRawSource(src, o.opts.InputDir, o.opts.RawExtensions); ok {
				src = raw
			}
		}

		err := o.copier.Copy(ctx, src, r.Outcome.FinalPath)
		if err == nil {
			if info, statErr := os.Stat(r.Outcome.FinalPath); statErr == nil {
				r.Outcome.FinalBytes = info.Size()
				r.Outcome.MetTarget = r.Outcome.FinalBytes <= r.Task.TargetBytes
			}
		} else {
			o.logger.WithFields(logrus.Fields{"file": r.Outcome.FinalPath, "operation": StageMetadata}).
				WithError(err).Warn("Metadata copy failed, artifact kept without metadata")
		}
		o.stats.RecordMetadata(r.Outcome.FinalPath, err)

		done++
		ev := ProgressEvent{Stage: StageMetadata, File: r.Outcome.FinalPath, Done: done, Bytes: r.Outcome.FinalBytes}
		if err != nil {
			ev.Error = err.Error()
		}
		o.emit(ev)
	}
}

// RunPublish uploads the final artifacts of successful results.
func (o *Orchestrator) RunPublish(ctx context.Context, results []compressor.TaskResult) ([]publish.Result, error) {
	if o.publisher == nil {
		return nil, nil
	}
	var paths []string
	for _, r := range results {
		if r.Success() && r.Outcome.FinalPath != "" {
			paths = append(paths, r.Outcome.FinalPath)
		}
	}

	return o.publishPaths(ctx, paths)
}

// DiscoverArtifacts lists the compression artifacts in the output directory.
func (o *Orchestrator) DiscoverArtifacts() ([]string, error) {
	entries, err := os.ReadDir(o.opts.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	suffix := o.compressor.ArtifactSuffix()
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && compressor.IsArtifact(e.Name(), suffix) {
			files = append(files, filepath.Join(o.opts.OutputDir, e.Name()))
		}
	}
	return files, nil
}

// PublishOutput uploads every artifact already present in the output
// directory, for publishing the results of an earlier run.
func (o *Orchestrator) PublishOutput(ctx context.Context) ([]publish.Result, error) {
	if o.publisher == nil {
		return nil, errors.New("publishing is not configured")
	}
	paths, err := o.DiscoverArtifacts()
	if err != nil {
		return nil, err
	}
	o.logger.WithField("count", len(paths)).Info("Publishing artifacts")
	return o.publishPaths(ctx, paths)
}

func (o *Orchestrator) publishPaths(ctx context.Context, paths []string) ([]publish.Result, error) {
	published, err := o.publisher.PublishAll(ctx, paths)
	for i, p := range published {
		o.stats.RecordUpload(p.Path, p.Skipped, p.Err)
		ev := ProgressEvent{Stage: StagePublish, File: p.Path, Done: i + 1, Total: len(published), Bytes: p.Bytes}
		if p.Err != nil {
			ev.Error = p.Err.Error()
		}
		o.emit(ev)
	}
	return published, err
}

// Run executes the whole pipeline. Conversion failures do not prevent
// compression; a missing external tool stops the run.
func (o *Orchestrator) Run(ctx context.Context) BatchResult {
	var res BatchResult
	defer o.stats.Finalize()

	o.logger.WithFields(logrus.Fields{
		"input":  o.opts.InputDir,
		"output": o.opts.OutputDir,
	}).Info("Starting conversion stage")
	res.Conversion, res.ConversionOK, res.Err = o.RunConversion(ctx)
	if res.Err != nil {
		if errors.Is(res.Err, adapter.ErrAdapterUnavailable) {
			o.logger.WithError(res.Err).Error("RAW decoder unavailable, stopping")
			return res
		}
		o.logger.WithError(res.Err).Error("Conversion stage failed")
		res.ConversionOK = false
		res.Err = nil
	}
	if ctx.Err() != nil {
		res.Err = ctx.Err()
		return res
	}

	o.logger.Info("Starting compression stage")
	res.Compression, res.CompressionOK, res.Err = o.RunCompression(ctx)
	if res.Err != nil {
		o.logger.WithError(res.Err).Error("Compression stage stopped")
		res.CompressionOK = false
		return res
	}
	for _, r := range res.Compression {
		if r.Warning() {
			res.Warnings++
		}
	}

	if o.publisher != nil {
		published, err := o.RunPublish(ctx, res.Compression)
		res.Published = published
		if err != nil {
			o.logger.WithError(err).Warn("Publish finished with errors")
			res.Warnings++
		}
	}
	return res
}
