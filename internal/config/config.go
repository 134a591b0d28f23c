package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"rawpress-go/internal/compressor"
	"rawpress-go/internal/encoder"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	InputDirectory  string            `mapstructure:"input_directory"`
	OutputDirectory string            `mapstructure:"output_directory"`
	RawExtensions   []string          `mapstructure:"raw_extensions"`
	Conversion      ConversionConfig  `mapstructure:"conversion"`
	Compression     CompressionConfig `mapstructure:"compression"`
	Metadata        MetadataConfig    `mapstructure:"metadata"`
	Publish         PublishConfig     `mapstructure:"publish"`
	Logging         LoggingConfig     `mapstructure:"logging"`
}

// ConversionConfig contains RAW decoding settings
type ConversionConfig struct {
	Workers       int      `mapstructure:"workers"`
	DecoderBinary string   `mapstructure:"decoder_binary"`
	DecoderArgs   []string `mapstructure:"decoder_args"`
}

// CompressionConfig contains size-targeting settings
type CompressionConfig struct {
	TargetBytes      int64          `mapstructure:"target_bytes"`
	Workers          int            `mapstructure:"workers"`
	Backend          string         `mapstructure:"backend"`
	MagickBinary     string         `mapstructure:"magick_binary"`
	Retries          int            `mapstructure:"retries"`
	PreserveMetadata bool           `mapstructure:"preserve_metadata"`
	ArtifactSuffix   string         `mapstructure:"artifact_suffix"`
	Schedule         ScheduleConfig `mapstructure:"schedule"`
}

// ScheduleConfig mirrors compressor.Schedule
type ScheduleConfig struct {
	StartQuality      int     `mapstructure:"start_quality"`
	StartScalePercent float64 `mapstructure:"start_scale_percent"`
	QualityHighFloor  int     `mapstructure:"quality_high_floor"`
	QualityLargeStep  int     `mapstructure:"quality_large_step"`
	QualityLowFloor   int     `mapstructure:"quality_low_floor"`
	QualitySmallStep  int     `mapstructure:"quality_small_step"`
	ScaleHighFloor    float64 `mapstructure:"scale_high_floor"`
	ScaleCoarseStep   float64 `mapstructure:"scale_coarse_step"`
	ScaleLowFloor     float64 `mapstructure:"scale_low_floor"`
	ScaleFineStep     float64 `mapstructure:"scale_fine_step"`
	JPEGQualities     []int   `mapstructure:"jpeg_qualities"`
	JPEGScalePercent  float64 `mapstructure:"jpeg_scale_percent"`
}

// MetadataConfig contains EXIF post-processing settings
type MetadataConfig struct {
	ExiftoolBinary string `mapstructure:"exiftool_binary"`
	CopyFromRaw    bool   `mapstructure:"copy_from_raw"`
	SoftwareMark   string `mapstructure:"software_mark"`
}

// PublishConfig contains S3 upload settings
type PublishConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	Region      string `mapstructure:"region"`
	Concurrency int    `mapstructure:"concurrency"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
	Format     string `mapstructure:"format"` // json or text
}

// DefaultTargetBytes is 5 MiB.
const DefaultTargetBytes = 5 << 20

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	s := compressor.DefaultSchedule()
	return &Config{
		InputDirectory:  ".",
		OutputDirectory: "converted",
		RawExtensions:   []string{".NEF", ".CR2", ".ARW"},
		Conversion: ConversionConfig{
			DecoderBinary: "dcraw",
			DecoderArgs:   []string{"-w", "-T"},
		},
		Compression: CompressionConfig{
			TargetBytes:    DefaultTargetBytes,
			Backend:        "imaging",
			MagickBinary:   "magick",
			ArtifactSuffix: compressor.DefaultArtifactSuffix,
			Schedule: ScheduleConfig{
				StartQuality:      s.StartQuality,
				StartScalePercent: s.StartScalePercent,
				QualityHighFloor:  s.QualityHighFloor,
				QualityLargeStep:  s.QualityLargeStep,
				QualityLowFloor:   s.QualityLowFloor,
				QualitySmallStep:  s.QualitySmallStep,
				ScaleHighFloor:    s.ScaleHighFloor,
				ScaleCoarseStep:   s.ScaleCoarseStep,
				ScaleLowFloor:     s.ScaleLowFloor,
				ScaleFineStep:     s.ScaleFineStep,
				JPEGQualities:     s.JPEGQualities,
				JPEGScalePercent:  s.JPEGScalePercent,
			},
		},
		Metadata: MetadataConfig{
			ExiftoolBinary: "exiftool",
			CopyFromRaw:    true,
			SoftwareMark:   "rawpress",
		},
		Publish: PublishConfig{
			Concurrency: 4,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "rawpress.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
			Format:     "json",
		},
	}
}

// envKeys are registered with viper so RAWPRESS_* variables override them
// even when no config file mentions them.
var envKeys = []string{
	"input_directory",
	"output_directory",
	"compression.target_bytes",
	"compression.workers",
	"compression.backend",
	"compression.preserve_metadata",
	"conversion.workers",
	"conversion.decoder_binary",
	"metadata.exiftool_binary",
	"publish.enabled",
	"publish.bucket",
	"publish.prefix",
	"publish.region",
	"logging.level",
	"logging.file_path",
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	return Load(viper.New(), configPath)
}

// Load reads configuration into v. Callers that bind command-line flags to
// v before calling Load get flag values layered over file and environment.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	config := DefaultConfig()

	// Unmarshal merges slices element-wise into existing ones, so list
	// defaults go through viper instead of the struct.
	v.SetDefault("raw_extensions", config.RawExtensions)
	v.SetDefault("conversion.decoder_args", config.Conversion.DecoderArgs)
	v.SetDefault("compression.schedule.jpeg_qualities", config.Compression.Schedule.JPEGQualities)
	config.RawExtensions = nil
	config.Conversion.DecoderArgs = nil
	config.Compression.Schedule.JPEGQualities = nil

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.rawpress")
		v.AddConfigPath("/etc/rawpress")
	}

	v.SetEnvPrefix("RAWPRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate normalises the configuration and rejects invalid values
func (c *Config) Validate() error {
	if c.InputDirectory == "" {
		return fmt.Errorf("input_directory is required")
	}
	if c.OutputDirectory == "" {
		return fmt.Errorf("output_directory is required")
	}
	c.InputDirectory = expandPath(c.InputDirectory)
	c.OutputDirectory = expandPath(c.OutputDirectory)

	if len(c.RawExtensions) == 0 {
		return fmt.Errorf("raw_extensions must not be empty")
	}
	// Extension matching is case-sensitive, so only the dot is normalised.
	for i, ext := range c.RawExtensions {
		if !strings.HasPrefix(ext, ".") {
			c.RawExtensions[i] = "." + ext
		}
	}

	if c.Compression.TargetBytes <= 0 {
		return fmt.Errorf("compression.target_bytes must be positive, got %d", c.Compression.TargetBytes)
	}
	if c.Compression.Retries < 0 {
		return fmt.Errorf("compression.retries must not be negative")
	}
	if c.Compression.Workers < 0 || c.Conversion.Workers < 0 {
		return fmt.Errorf("worker counts must not be negative")
	}

	validBackend := false
	for _, b := range encoder.Backends() {
		if c.Compression.Backend == b {
			validBackend = true
		}
	}
	if !validBackend {
		return fmt.Errorf("invalid compression.backend: %s (valid: %s)",
			c.Compression.Backend, strings.Join(encoder.Backends(), ", "))
	}

	if c.Compression.ArtifactSuffix == "" {
		c.Compression.ArtifactSuffix = compressor.DefaultArtifactSuffix
	}
	if !strings.HasPrefix(c.Compression.ArtifactSuffix, ".") {
		return fmt.Errorf("compression.artifact_suffix must start with a dot: %s", c.Compression.ArtifactSuffix)
	}

	if err := c.Schedule().Validate(); err != nil {
		return fmt.Errorf("invalid compression.schedule: %w", err)
	}

	if c.Publish.Enabled && c.Publish.Bucket == "" {
		return fmt.Errorf("publish.bucket is required when publish is enabled")
	}
	if c.Publish.Concurrency <= 0 {
		c.Publish.Concurrency = 4
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	if c.Logging.Format != "" && c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// Schedule returns the descent schedule described by the compression section.
func (c *Config) Schedule() compressor.Schedule {
	s := c.Compression.Schedule
	return compressor.Schedule{
		StartQuality:      s.StartQuality,
		StartScalePercent: s.StartScalePercent,
		QualityHighFloor:  s.QualityHighFloor,
		QualityLargeStep:  s.QualityLargeStep,
		QualityLowFloor:   s.QualityLowFloor,
		QualitySmallStep:  s.QualitySmallStep,
		ScaleHighFloor:    s.ScaleHighFloor,
		ScaleCoarseStep:   s.ScaleCoarseStep,
		ScaleLowFloor:     s.ScaleLowFloor,
		ScaleFineStep:     s.ScaleFineStep,
		JPEGQualities:     s.JPEGQualities,
		JPEGScalePercent:  s.JPEGScalePercent,
	}
}

// ParseSize parses a byte size such as "5MB", "750k", "1.5MiB" or "2000000".
// Units are binary multiples.
func ParseSize(s string) (int64, error) {
	str := strings.ToUpper(strings.TrimSpace(s))
	if str == "" {
		return 0, fmt.Errorf("empty size")
	}

	units := []struct {
		suffix string
		mult   float64
	}{
		{"GIB", 1 << 30}, {"MIB", 1 << 20}, {"KIB", 1 << 10},
		{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10},
		{"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10},
		{"B", 1},
	}
	mult := 1.0
	for _, u := range units {
		if strings.HasSuffix(str, u.suffix) {
			str = strings.TrimSpace(strings.TrimSuffix(str, u.suffix))
			mult = u.mult
			break
		}
	}

	n, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) || n*mult >= math.MaxInt64 {
		return 0, fmt.Errorf("size out of range: %q", s)
	}
	bytes := int64(n * mult)
	if bytes <= 0 {
		return 0, fmt.Errorf("size must be positive: %q", s)
	}
	return bytes, nil
}

func expandPath(path string) string {
	expanded := os.ExpandEnv(path)
	if strings.HasPrefix(expanded, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(home, expanded[1:])
		}
	}
	return expanded
}
