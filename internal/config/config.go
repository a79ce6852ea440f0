// Package config loads harness configuration from YAML or TOML files with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	EnvLogLevel         = "PARCEL_LOG_LEVEL"
	EnvLogFormat        = "PARCEL_LOG_FORMAT"
	EnvFrameCompression = "PARCEL_FRAME_COMPRESSION"
)

// Config is the root configuration.
type Config struct {
	Wire  WireConfig  `yaml:"wire" toml:"wire"`
	Array ArrayConfig `yaml:"array" toml:"array"`
	Frame FrameConfig `yaml:"frame" toml:"frame"`
	Log   LogConfig   `yaml:"log" toml:"log"`
}

// WireConfig bounds variable-length spans read from the binary transport.
type WireConfig struct {
	MaxStringLen int `yaml:"max_string_len" toml:"max_string_len"`
	MaxBytesLen  int `yaml:"max_bytes_len" toml:"max_bytes_len"`
	MaxObjectLen int `yaml:"max_object_len" toml:"max_object_len"`
}

// ArrayConfig bounds array headers. Zero disables the limit.
type ArrayConfig struct {
	MaxLength int `yaml:"max_length" toml:"max_length"`
}

// FrameConfig controls data framing of serialized payloads.
type FrameConfig struct {
	// Compression: none or zstd
	Compression string `yaml:"compression" toml:"compression"`
	// MinCompressSize skips compression for smaller payloads
	MinCompressSize int `yaml:"min_compress_size" toml:"min_compress_size"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" toml:"level"`
	// Format: console or json
	Format string `yaml:"format" toml:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs     []string       `yaml:"outputs" toml:"outputs"`
	Rotation    RotationConfig `yaml:"rotation" toml:"rotation"`
	Development bool           `yaml:"development" toml:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `yaml:"enable" toml:"enable"`
	Filename   string `yaml:"filename" toml:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Wire: WireConfig{
			MaxStringLen: 16 << 20,
			MaxBytesLen:  16 << 20,
			MaxObjectLen: 16 << 20,
		},
		Array: ArrayConfig{MaxLength: 1 << 24},
		Frame: FrameConfig{
			Compression:     "none",
			MinCompressSize: 256,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/parcel.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Log.Format = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvFrameCompression)); v != "" {
		// accept booleans as shorthand
		if on, err := strconv.ParseBool(v); err == nil {
			v = "none"
			if on {
				v = "zstd"
			}
		}
		cfg.Frame.Compression = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Wire.MaxStringLen < 0 || c.Wire.MaxBytesLen < 0 || c.Wire.MaxObjectLen < 0 {
		return fmt.Errorf("wire limits must not be negative")
	}
	if c.Array.MaxLength < 0 {
		return fmt.Errorf("array max_length must not be negative")
	}
	switch strings.ToLower(c.Frame.Compression) {
	case "", "none", "zstd":
	default:
		return fmt.Errorf("frame compression %q: want none or zstd", c.Frame.Compression)
	}
	if c.Frame.MinCompressSize < 0 {
		return fmt.Errorf("frame min_compress_size must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log level %q: want debug, info, warn or error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("log format %q: want console or json", c.Log.Format)
	}
	if len(c.Log.Outputs) == 0 {
		return fmt.Errorf("log outputs must not be empty")
	}
	return nil
}

// Compressed reports whether frames should carry zstd bodies.
func (f FrameConfig) Compressed() bool {
	return strings.EqualFold(f.Compression, "zstd")
}
