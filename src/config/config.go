// Package config resolves conversion settings from defaults, an optional TOML
// file and AB1PNG_* environment variables. Command-line flags are applied on
// top by the caller.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/sangertools/ab1png/src/chromatogram"
	"github.com/sangertools/ab1png/src/logging"
)

// DefaultOutDir is used when no output directory is given.
const DefaultOutDir = "png_output"

// EnvFile names the variable that points at a config file when --config is absent.
const EnvFile = "AB1PNG_CONFIG"

// Config holds the settings shared by every conversion in a run.
type Config struct {
	OutDir       string  `toml:"outdir"`
	DPI          int     `toml:"dpi"`
	Annotate     bool    `toml:"annotate"`
	Crop         string  `toml:"crop"`
	FASTA        bool    `toml:"fasta"`
	WidthInches  float64 `toml:"width_inches"`
	HeightInches float64 `toml:"height_inches"`
	LogLevel     string  `toml:"log_level"`
}

// Default returns the built-in settings: png_output, 200 DPI, 16x4 in, no crop.
func Default() Config {
	return Config{
		OutDir:       DefaultOutDir,
		DPI:          chromatogram.DefaultDPI,
		Crop:         chromatogram.CropNone.String(),
		WidthInches:  chromatogram.DefaultWidthInches,
		HeightInches: chromatogram.DefaultHeightInches,
		LogLevel:     "info",
	}
}

// LoadFile overlays the keys present in a TOML file onto c. Unknown keys are
// an error so typos do not pass silently.
func (c *Config) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	logging.Debugf("loaded config %s", path)
	return nil
}

// ApplyEnv overlays AB1PNG_* variables. Unparseable numbers and booleans keep
// the current value.
func (c *Config) ApplyEnv() {
	c.OutDir = getEnv("AB1PNG_OUTDIR", c.OutDir)
	c.DPI = getEnvInt("AB1PNG_DPI", c.DPI)
	c.Annotate = getEnvBool("AB1PNG_ANNOTATE", c.Annotate)
	c.Crop = getEnv("AB1PNG_CROP", c.Crop)
	c.FASTA = getEnvBool("AB1PNG_FASTA", c.FASTA)
	c.LogLevel = getEnv("AB1PNG_LOG_LEVEL", c.LogLevel)
}

// Load returns defaults, overlaid by the file at path (or $AB1PNG_CONFIG when
// path is empty), then by the environment.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		path = os.Getenv(EnvFile)
	}
	if path != "" {
		if err := c.LoadFile(path); err != nil {
			return c, err
		}
	}
	c.ApplyEnv()
	return c, nil
}

// Validate rejects settings no conversion could succeed with, including a
// figure whose pixel area exceeds chromatogram.MaxPixels.
func (c Config) Validate() error {
	if c.DPI <= 0 {
		return fmt.Errorf("dpi must be a positive integer, got %d", c.DPI)
	}
	if _, err := chromatogram.ParseCrop(c.Crop); err != nil {
		return err
	}
	if c.WidthInches <= 0 || c.HeightInches <= 0 {
		return fmt.Errorf("figure size must be positive, got %gx%g in", c.WidthInches, c.HeightInches)
	}
	if err := chromatogram.CheckOptions(chromatogram.Options{DPI: c.DPI, WidthInches: c.WidthInches, HeightInches: c.HeightInches}); err != nil {
		return err
	}
	if strings.TrimSpace(c.OutDir) == "" {
		return fmt.Errorf("output directory must not be empty")
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

// CropMode returns the parsed crop mode; call Validate first.
func (c Config) CropMode() chromatogram.Crop {
	m, _ := chromatogram.ParseCrop(c.Crop)
	return m
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
		logging.Warnf("ignoring %s=%q: not an integer", key, value)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
		logging.Warnf("ignoring %s=%q: not a boolean", key, value)
	}
	return fallback
}
