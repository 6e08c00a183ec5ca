package contents

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/contents/internal/codec"
	"github.com/hupe1980/contents/internal/engine"
)

// Config is the file-loadable form of the index options.
type Config struct {
	// MaxEntities is the entity capacity of each dynamic segment. 0 is unlimited.
	MaxEntities int `yaml:"maxEntities"`
	// MaxAllocBytes is the arena ceiling of each dynamic segment. 0 is unlimited.
	MaxAllocBytes uint64 `yaml:"maxAllocBytes"`
	// ChunkSize is the arena chunk size. 0 keeps the arena default.
	ChunkSize int `yaml:"chunkSize"`
	// MergeInterval is how often background merging runs. Negative disables it.
	MergeInterval time.Duration `yaml:"mergeInterval"`
	// Compression is one of "none", "lz4" or "zstd".
	Compression string `yaml:"compression"`
	// Mmap serves committed regions from mapped files when the store allows it.
	Mmap bool `yaml:"mmap"`

	Resources ResourceConfig `yaml:"resources"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// ResourceConfig bounds memory, background jobs and IO.
type ResourceConfig struct {
	MemoryLimitBytes   int64 `yaml:"memoryLimitBytes"`
	MaxBackgroundJobs  int64 `yaml:"maxBackgroundJobs"`
	IOLimitBytesPerSec int64 `yaml:"ioLimitBytesPerSec"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		MaxEntities:   1 << 16,
		MaxAllocBytes: 64 << 20,
		MergeInterval: engine.DefaultMergeInterval,
		Compression:   "none",
		Resources: ResourceConfig{
			MaxBackgroundJobs: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a YAML config file (if path is not empty), applies
// environment-variable overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONTENTS_MAX_ENTITIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxEntities = n
		}
	}
	if v := os.Getenv("CONTENTS_MAX_ALLOC_BYTES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.MaxAllocBytes = n
		}
	}
	if v := os.Getenv("CONTENTS_MERGE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MergeInterval = d
		}
	}
	if v := os.Getenv("CONTENTS_COMPRESSION"); v != "" {
		cfg.Compression = v
	}
	if v := os.Getenv("CONTENTS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for values the index cannot use.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxEntities < 0 {
		errs = append(errs, fmt.Errorf("maxEntities must not be negative, got %d", c.MaxEntities))
	}
	if c.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("chunkSize must not be negative, got %d", c.ChunkSize))
	}
	if _, err := codec.ParseCompression(c.Compression); err != nil {
		errs = append(errs, err)
	}
	if c.Resources.MemoryLimitBytes < 0 || c.Resources.MaxBackgroundJobs < 0 || c.Resources.IOLimitBytesPerSec < 0 {
		errs = append(errs, errors.New("resource limits must not be negative"))
	}
	if _, err := c.level(); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return nil
}

func (c *Config) level() (slog.Level, error) {
	var level slog.Level
	if c.Logging.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return level, nil
}

// Logger builds the logger described by the logging section.
func (c *Config) Logger() *Logger {
	level, err := c.level()
	if err != nil {
		level = slog.LevelInfo
	}
	if c.Logging.Format == "json" {
		return NewJSONLogger(level)
	}
	return NewTextLogger(level)
}
