// Package config loads service configuration from a TOML file with tag
// defaults and a handful of environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/mcuadros/go-defaults"
)

// Server contains HTTP listener configuration.
type Server struct {
	Bind        string `toml:"bind" default:":9090"`
	CORSOrigins string `toml:"cors_origins" default:"*"`
	StaticDir   string `toml:"static_dir" default:"images"`
}

// Database contains record store configuration.
type Database struct {
	Path string `toml:"path" default:"fingerprints.db"`
}

// Scanner contains capture configuration.
type Scanner struct {
	DefaultTimeoutMS int    `toml:"default_timeout_ms" default:"10000"`
	MaxTimeoutMS     int    `toml:"max_timeout_ms" default:"60000"`
	CameraIndex      int    `toml:"camera_index" default:"0"`
	UdevSubsystem    string `toml:"udev_subsystem" default:"video4linux"`
}

// Matcher contains identification configuration.
type Matcher struct {
	Threshold float64 `toml:"threshold" default:"50"`
}

// Log contains logging configuration.
type Log struct {
	Level         string `toml:"level" default:"info"`
	Format        string `toml:"format" default:"text"`
	Dir           string `toml:"dir"`
	RotationHours int    `toml:"rotation_hours" default:"24"`
	MaxAgeDays    int    `toml:"max_age_days" default:"14"`
}

// Config is the root configuration document.
type Config struct {
	Server   Server   `toml:"server"`
	Database Database `toml:"database"`
	Scanner  Scanner  `toml:"scanner"`
	Matcher  Matcher  `toml:"matcher"`
	Log      Log      `toml:"log"`
}

// Default returns the configuration with every field at its tag default.
func Default() Config {
	var cfg Config
	defaults.SetDefaults(&cfg)
	return cfg
}

// Load reads the TOML file at path on top of defaults, then applies
// environment overrides. A missing file is not an error; the defaults stand.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FINGERD_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("FINGERD_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("FINGERD_LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}
	if v := os.Getenv("FINGERD_CAMERA_INDEX"); v != "" {
		if idx, err := strconv.Atoi(v); err == nil {
			cfg.Scanner.CameraIndex = idx
		}
	}
}

func (c *Config) validate() error {
	if c.Scanner.DefaultTimeoutMS <= 0 {
		return fmt.Errorf("scanner.default_timeout_ms must be positive, got %d", c.Scanner.DefaultTimeoutMS)
	}
	if c.Scanner.MaxTimeoutMS < c.Scanner.DefaultTimeoutMS {
		return fmt.Errorf("scanner.max_timeout_ms %d below default timeout %d",
			c.Scanner.MaxTimeoutMS, c.Scanner.DefaultTimeoutMS)
	}
	if c.Matcher.Threshold < 0 {
		return fmt.Errorf("matcher.threshold must not be negative, got %v", c.Matcher.Threshold)
	}
	return nil
}
