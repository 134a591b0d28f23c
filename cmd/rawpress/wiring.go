package main

import (
	"context"
	"fmt"

	"rawpress-go/internal/compressor"
	"rawpress-go/internal/config"
	"rawpress-go/internal/converter"
	"rawpress-go/internal/encoder"
	"rawpress-go/internal/metadata"
	"rawpress-go/internal/pipeline"
	"rawpress-go/internal/publish"
	"rawpress-go/internal/rawdecode"
	"rawpress-go/internal/statistics"
	"rawpress-go/internal/web"

	"github.com/sirupsen/logrus"
)

// buildOrchestrator wires adapters, stages and the optional metadata and
// publish steps from cfg.
func buildOrchestrator(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*pipeline.Orchestrator, error) {
	decoder := rawdecode.NewDcrawDecoder(cfg.Conversion.DecoderBinary, cfg.Conversion.DecoderArgs, log)
	conv := converter.NewStage(decoder, encoder.NewImagingEncoder(), cfg.OutputDirectory, cfg.Conversion.Workers, log)

	enc, err := encoder.New(cfg.Compression.Backend, cfg.Compression.MagickBinary)
	if err != nil {
		return nil, err
	}
	comp, err := compressor.NewSizeTargetingCompressor(compressor.Options{
		Schedule:       cfg.Schedule(),
		ArtifactSuffix: cfg.Compression.ArtifactSuffix,
		Workers:        cfg.Compression.Workers,
		Retries:        cfg.Compression.Retries,
	}, enc, log)
	if err != nil {
		return nil, err
	}

	var copier metadata.Copier
	if cfg.Compression.PreserveMetadata {
		copier = metadata.NewExifToolCopier(cfg.Metadata.ExiftoolBinary, cfg.Metadata.SoftwareMark)
	}

	var publisher pipeline.Publisher
	if cfg.Publish.Enabled {
		client, err := publish.NewS3Client(ctx, cfg.Publish.Region)
		if err != nil {
			return nil, err
		}
		publisher = publish.NewS3Publisher(client, cfg.Publish.Bucket, cfg.Publish.Prefix, cfg.Publish.Concurrency, log)
	}

	opts := pipeline.Options{
		InputDir:         cfg.InputDirectory,
		OutputDir:        cfg.OutputDirectory,
		RawExtensions:    cfg.RawExtensions,
		TargetBytes:      cfg.Compression.TargetBytes,
		PreserveMetadata: cfg.Compression.PreserveMetadata,
		CopyFromRaw:      cfg.Metadata.CopyFromRaw,
	}
	return pipeline.New(opts, conv, comp, copier, publisher, statistics.NewStatistics(), log), nil
}

// runnerFactory builds one orchestrator per run request, layering the
// request's overrides over cfg.
func runnerFactory(cfg *config.Config, log *logrus.Logger) web.RunnerFactory {
	return func(req web.RunRequest) (*pipeline.Orchestrator, error) {
		runCfg := *cfg
		if req.InputDirectory != "" {
			runCfg.InputDirectory = req.InputDirectory
		}
		if req.OutputDirectory != "" {
			runCfg.OutputDirectory = req.OutputDirectory
		}
		if req.TargetSize != "" {
			n, err := config.ParseSize(req.TargetSize)
			if err != nil {
				return nil, fmt.Errorf("invalid target_size: %w", err)
			}
			runCfg.Compression.TargetBytes = n
		}
		if req.PreserveMetadata != nil {
			runCfg.Compression.PreserveMetadata = *req.PreserveMetadata
		}
		if err := runCfg.Validate(); err != nil {
			return nil, err
		}
		return buildOrchestrator(context.Background(), &runCfg, log)
	}
}

// logProgress returns a listener that logs every progress event.
func logProgress(log *logrus.Logger) pipeline.ProgressFunc {
	return func(ev pipeline.ProgressEvent) {
		entry := log.WithFields(logrus.Fields{
			"stage": ev.Stage,
			"file":  ev.File,
			"done":  ev.Done,
			"total": ev.Total,
		})
		if ev.Bytes > 0 {
			entry = entry.WithField("size", statistics.FormatBytes(ev.Bytes))
		}
		switch {
		case ev.Error != "":
			entry.WithField("error", ev.Error).Warn("Progress")
		case ev.Warning:
			entry.Warn("Progress: target size not reached")
		default:
			entry.Info("Progress")
		}
	}
}
