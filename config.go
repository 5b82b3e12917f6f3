package gpucompute

import (
	"fmt"
	"io"
	"log/slog"
	"math/bits"

	"github.com/BurntSushi/toml"
)

// Config holds engine-wide settings. The zero value is not usable; start
// from DefaultConfig or LoadConfig.
type Config struct {
	// RetryLimit is the default number of requeues a job may go through
	// after a failed bind group preparation. Workers can override it.
	RetryLimit int `toml:"retry_limit"`

	// RowAlignment is the byte alignment of image rows in staging buffers.
	// It must match the device's copy alignment.
	RowAlignment uint32 `toml:"row_alignment"`

	// ReadbackWorkers is the number of goroutines used to de-pad staged
	// images. 0 selects GOMAXPROCS.
	ReadbackWorkers int `toml:"readback_workers"`

	// Backend names the preferred device backend. Empty selects the best
	// registered one.
	Backend string `toml:"backend"`

	// LogLevel is a slog level name: debug, info, warn or error.
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		RetryLimit:   DefaultRetryLimit,
		RowAlignment: DefaultRowAlignment,
		LogLevel:     "warn",
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig, so keys missing
// from the file keep their default values. Unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("gpucompute: load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("gpucompute: load config %s: unknown key %q", path, undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("gpucompute: load config %s: %w", path, err)
	}
	return cfg, nil
}

// Encode writes the configuration as TOML.
func (c Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.RetryLimit < 0 {
		return fmt.Errorf("retry_limit must be >= 0, got %d", c.RetryLimit)
	}
	if c.RowAlignment < 4 || bits.OnesCount32(c.RowAlignment) != 1 {
		return fmt.Errorf("row_alignment must be a power of two >= 4, got %d", c.RowAlignment)
	}
	if c.ReadbackWorkers < 0 {
		return fmt.Errorf("readback_workers must be >= 0, got %d", c.ReadbackWorkers)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel. An empty level is slog.LevelWarn.
func (c Config) Level() (slog.Level, error) {
	if c.LogLevel == "" {
		return slog.LevelWarn, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
