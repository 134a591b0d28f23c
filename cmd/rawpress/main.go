package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rawpress-go/internal/adapter"
	"rawpress-go/internal/config"
	"rawpress-go/internal/logger"
	"rawpress-go/internal/metadata"
	"rawpress-go/internal/pipeline"
	"rawpress-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile          string
	inputDir         string
	outputDir        string
	targetSize       string
	preserveMetadata bool
	verbose          bool
	quiet            bool
	port             int

	// exitCode is set by commands that map their outcome to a process status.
	exitCode int
)

// rootCmd converts and compresses a whole directory.
var rootCmd = &cobra.Command{
	Use:   "rawpress",
	Short: "Convert RAW photos to PNG and shrink them to a target size",
	Long: `rawpress converts camera RAW files (NEF, CR2, ARW) to full resolution
PNGs, then re-encodes every PNG along a descending quality and scale
schedule until it fits a byte budget, falling back to JPEG when PNG
cannot get there.

Exit codes:
  0  success (target misses are warnings)
  1  a RAW conversion failed
  2  a compression task failed
  3  a required external tool is missing`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd)
	},
}

// convertCmd runs only the RAW to PNG stage.
var convertCmd = &cobra.Command{
	Use:          "convert",
	Short:        "Convert RAW files to PNG without compressing",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(cmd)
	},
}

// compressCmd runs only the size-targeting stage over the output directory.
var compressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Compress the PNGs in the output directory to the target size",
	Long: `Compresses every PNG already present in the output directory. Artifacts
from an earlier run are replaced.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd)
	},
}

// inspectCmd prints capture information and metadata for one file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show capture information and metadata of a file",
	Long: `Shows camera and capture time read from EXIF, and, when exiftool is
installed, every tag exiftool reports. Useful for checking that metadata
survived compression.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// publishCmd uploads existing artifacts to S3.
var publishCmd = &cobra.Command{
	Use:          "publish",
	Short:        "Upload compressed artifacts from the output directory to S3",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPublish(cmd)
	},
}

// serveCmd starts the HTTP control server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control server",
	Long: `Starts an HTTP server that can start and stop runs and streams progress
events over a websocket at /ws.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.PersistentFlags().StringVar(&inputDir, "input", "", "directory containing RAW files")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output", "", "directory for PNGs and compressed artifacts")
	rootCmd.PersistentFlags().StringVar(&targetSize, "target-size", "", "maximum artifact size, e.g. 5MB or 750KB")
	rootCmd.PersistentFlags().BoolVar(&preserveMetadata, "preserve-metadata", false, "copy EXIF metadata onto compressed artifacts")

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run the server on")

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig loads configuration and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if inputDir != "" {
		cfg.InputDirectory = inputDir
	}
	if outputDir != "" {
		cfg.OutputDirectory = outputDir
	}
	if targetSize != "" {
		n, err := config.ParseSize(targetSize)
		if err != nil {
			return nil, fmt.Errorf("invalid --target-size: %w", err)
		}
		cfg.Compression.TargetBytes = n
	}
	if cmd.Flags().Changed("preserve-metadata") {
		cfg.Compression.PreserveMetadata = preserveMetadata
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
		Text:       cfg.Logging.Format == "text",
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
		log.WithError(err).Warn("Falling back to default logger")
	}

	return log
}

// setup loads config, logger and orchestrator for the pipeline commands.
func setup(ctx context.Context, cmd *cobra.Command) (*pipeline.Orchestrator, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)

	orch, err := buildOrchestrator(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	orch.OnProgress(logProgress(log))
	return orch, nil
}

func runPipeline(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := setup(ctx, cmd)
	if err != nil {
		return err
	}

	res := orch.Run(ctx)
	exitCode = res.ExitCode()
	printSummary(orch)
	if res.Err != nil && exitCode == pipeline.ExitToolUnavailable {
		fmt.Fprintf(os.Stderr, "Error: %v\n", res.Err)
	}
	return nil
}

func runConvert(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := setup(ctx, cmd)
	if err != nil {
		return err
	}

	_, ok, err := orch.RunConversion(ctx)
	orch.Statistics().Finalize()
	exitCode = stageExitCode(ok, err, pipeline.ExitConversionFailed)
	printSummary(orch)
	return nil
}

func runCompress(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := setup(ctx, cmd)
	if err != nil {
		return err
	}

	_, ok, err := orch.RunCompression(ctx)
	orch.Statistics().Finalize()
	exitCode = stageExitCode(ok, err, pipeline.ExitCompressionFailed)
	printSummary(orch)
	return nil
}

func runPublish(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := setup(ctx, cmd)
	if err != nil {
		return err
	}

	published, err := orch.PublishOutput(ctx)
	orch.Statistics().Finalize()
	if err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	if !quiet {
		fmt.Printf("Published %d artifacts\n", len(published))
		printSummary(orch)
	}
	return nil
}

// runInspect prints capture info and exiftool tags for a file.
func runInspect(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	fmt.Printf("Inspecting: %s\n", filePath)

	reader := metadata.NewCaptureReader(logrus.New())
	info, err := reader.Read(filePath)
	if err != nil {
		fmt.Printf("Error reading capture info: %v\n", err)
	} else {
		if camera := info.Camera(); camera != "" {
			fmt.Printf("Camera: %s\n", camera)
		}
		fmt.Printf("Taken:  %s (%s)\n", info.Taken.Format("2006-01-02 15:04:05"), info.TakenSource)
	}

	inspector, err := metadata.NewInspector(cfg.Metadata.ExiftoolBinary)
	if err != nil {
		fmt.Printf("\nexiftool unavailable, skipping tag dump: %v\n", err)
		return nil
	}
	defer inspector.Close()

	if marked, err := inspector.Marked(filePath, cfg.Metadata.SoftwareMark); err == nil && marked {
		fmt.Printf("Written by %s\n", cfg.Metadata.SoftwareMark)
	}

	tags, err := inspector.Tags(filePath)
	if err != nil {
		fmt.Printf("Error reading tags: %v\n", err)
		return nil
	}
	fmt.Printf("\n%d tags:\n", len(tags))
	for _, tag := range tags {
		fmt.Printf("  %-32s %s\n", tag.Name, tag.Value)
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	server := web.NewServer(runnerFactory(cfg, log), cfg.OutputDirectory, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("rawpress control server listening on http://localhost:%d\n", port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped")
	return nil
}

// stageExitCode maps a single stage outcome to an exit code.
func stageExitCode(ok bool, err error, failed int) int {
	switch {
	case errors.Is(err, adapter.ErrAdapterUnavailable):
		return pipeline.ExitToolUnavailable
	case err != nil || !ok:
		return failed
	default:
		return pipeline.ExitOK
	}
}

func printSummary(orch *pipeline.Orchestrator) {
	if quiet {
		return
	}
	stats := orch.Statistics()
	fmt.Println("\n" + stats.GetSummary())
	if stats.Snapshot().Errors > 0 {
		fmt.Println(stats.GetErrorSummary())
	}
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
