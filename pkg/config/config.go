package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/basekick-labs/avrocol/pkg/columnar"
	"github.com/basekick-labs/avrocol/pkg/logger"
	"github.com/basekick-labs/avrocol/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all configuration for avrocol
type Config struct {
	Reader ReaderConfig
	Log    LogConfig
}

// ReaderConfig holds read session defaults
type ReaderConfig struct {
	// ProjectedFields applies to every schema without an entry in Projections.
	// Empty reads every field.
	ProjectedFields []string
	// Projections maps a writer schema full name to its projected fields.
	Projections         map[string][]string
	OnTrailingData      string
	ReadAheadWorkers    int
	MaxBlockSize        int64
	MaxDecompressedSize int64
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from defaults, an optional TOML file and the
// environment. With an empty configFile, avrocol.toml is looked up in the
// working directory, /etc/avrocol/ and $HOME/.avrocol/; a missing file is not
// an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AVROCOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("avrocol")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/avrocol/")
		v.AddConfigPath("$HOME/.avrocol/")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	maxBlockSize, err := ParseSize(v.GetString("reader.max_block_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid reader.max_block_size: %w", err)
	}

	maxDecompressedSize, err := ParseSize(v.GetString("reader.max_decompressed_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid reader.max_decompressed_size: %w", err)
	}

	projected, err := ParseFieldList(v.GetStringSlice("reader.projected_fields"))
	if err != nil {
		return nil, fmt.Errorf("invalid reader.projected_fields: %w", err)
	}

	projections, err := ParseProjections(v.GetStringSlice("reader.projections"))
	if err != nil {
		return nil, fmt.Errorf("invalid reader.projections: %w", err)
	}

	cfg := &Config{
		Reader: ReaderConfig{
			ProjectedFields:     projected,
			Projections:         projections,
			OnTrailingData:      v.GetString("reader.on_trailing_data"),
			ReadAheadWorkers:    v.GetInt("reader.read_ahead_workers"),
			MaxBlockSize:        maxBlockSize,
			MaxDecompressedSize: maxDecompressedSize,
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("reader.projected_fields", []string{})
	v.SetDefault("reader.projections", []string{})
	v.SetDefault("reader.on_trailing_data", "fail")
	// 0 keeps decoding on the caller's goroutine
	v.SetDefault("reader.read_ahead_workers", 0)
	v.SetDefault("reader.max_block_size", "256MB")
	v.SetDefault("reader.max_decompressed_size", "1GB")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks values that viper cannot type-check
func (cfg *Config) Validate() error {
	if _, err := columnar.ParseTrailingDataPolicy(cfg.Reader.OnTrailingData); err != nil {
		return fmt.Errorf("invalid reader.on_trailing_data: %w", err)
	}
	if cfg.Reader.ReadAheadWorkers < 0 {
		return fmt.Errorf("reader.read_ahead_workers cannot be negative: %d", cfg.Reader.ReadAheadWorkers)
	}
	if cfg.Reader.MaxBlockSize <= 0 {
		return fmt.Errorf("reader.max_block_size must be positive: %d", cfg.Reader.MaxBlockSize)
	}
	if cfg.Reader.MaxDecompressedSize <= 0 {
		return fmt.Errorf("reader.max_decompressed_size must be positive: %d", cfg.Reader.MaxDecompressedSize)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log.format %q (must be json or console)", cfg.Log.Format)
	}
	return nil
}

// SetupLogging configures the global logger from the log section and returns
// it, for use as Options.Logger.
func (cfg *Config) SetupLogging() *zerolog.Logger {
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	metrics.Init(log.Logger)
	l := log.Logger
	return &l
}

// ProjectionFor returns the projected fields for a writer schema full name.
func (cfg *Config) ProjectionFor(schemaName string) []string {
	if fields, ok := cfg.Reader.Projections[schemaName]; ok {
		return fields
	}
	return cfg.Reader.ProjectedFields
}

// ReaderOptions converts the reader section for a session over a file whose
// writer schema is schemaName. base may be nil.
func (cfg *Config) ReaderOptions(schemaName string, base *zerolog.Logger) (columnar.Options, error) {
	policy, err := columnar.ParseTrailingDataPolicy(cfg.Reader.OnTrailingData)
	if err != nil {
		return columnar.Options{}, err
	}
	return columnar.Options{
		ProjectedFields:     cfg.ProjectionFor(schemaName),
		OnTrailingData:      policy,
		ReadAheadWorkers:    cfg.Reader.ReadAheadWorkers,
		MaxBlockSize:        cfg.Reader.MaxBlockSize,
		MaxDecompressedSize: cfg.Reader.MaxDecompressedSize,
		Logger:              base,
	}, nil
}

var sizeUnits = []struct {
	suffix string
	bytes  int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// ParseSize converts a size such as "256MB", "1.5KB" or "4096" to bytes.
// Units are binary and case-insensitive.
func ParseSize(sizeStr string) (int64, error) {
	num := strings.ToUpper(strings.TrimSpace(sizeStr))
	multiplier := int64(1)
	for _, u := range sizeUnits {
		if trimmed, ok := strings.CutSuffix(num, u.suffix); ok {
			num, multiplier = strings.TrimSpace(trimmed), u.bytes
			break
		}
	}

	v, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid size %q (use e.g. 256MB, 64KB or a byte count)", sizeStr)
	}
	if v < 0 {
		return 0, fmt.Errorf("size cannot be negative: %q", sizeStr)
	}
	return int64(v * float64(multiplier)), nil
}
