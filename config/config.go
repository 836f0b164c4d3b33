package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir             string        `yaml:"data_dir"`
	ExportDir           string        `yaml:"export_dir"`
	QuotaMB             int           `yaml:"quota_mb"`
	SeekTimeout         time.Duration `yaml:"seek_timeout"`
	MaxFrames           int           `yaml:"max_frames"`
	PaletteSampleFrames int           `yaml:"palette_sample_frames"`
	LogLevel            string        `yaml:"log_level"`
	FFmpegPath          string        `yaml:"ffmpeg_path"`
	FFprobePath         string        `yaml:"ffprobe_path"`
	Posters             bool          `yaml:"posters"`
}

func Default() *Config {
	return &Config{
		DataDir:             defaultDataDir(),
		QuotaMB:             512,
		SeekTimeout:         5 * time.Second,
		MaxFrames:           1500,
		PaletteSampleFrames: 8,
		LogLevel:            "info",
		FFmpegPath:          "ffmpeg",
		FFprobePath:         "ffprobe",
		Posters:             true,
	}
}

// fallbackDataDir is used when the user config directory cannot be resolved,
// as in a container with no HOME.
const fallbackDataDir = "/data"

// defaultDataDir is the per-user config directory. The browser starts the
// host without any way to pass DATA_DIR, so the default has to be writable.
func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return fallbackDataDir
	}
	return filepath.Join(dir, "gifcap")
}

// Load builds the configuration from defaults, the optional YAML file named by
// GIFCAP_CONFIG, then environment variables, in that order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("GIFCAP_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.mergeEnv(); err != nil {
		return nil, err
	}

	if cfg.ExportDir == "" {
		cfg.ExportDir = filepath.Join(cfg.DataDir, "exports")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv() error {
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.ExportDir = getEnv("EXPORT_DIR", c.ExportDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.FFmpegPath = getEnv("FFMPEG_PATH", c.FFmpegPath)
	c.FFprobePath = getEnv("FFPROBE_PATH", c.FFprobePath)

	quotaMB, err := strconv.Atoi(getEnv("QUOTA_MB", strconv.Itoa(c.QuotaMB)))
	if err != nil {
		return fmt.Errorf("invalid QUOTA_MB: %w", err)
	}
	c.QuotaMB = quotaMB

	maxFrames, err := strconv.Atoi(getEnv("MAX_FRAMES", strconv.Itoa(c.MaxFrames)))
	if err != nil {
		return fmt.Errorf("invalid MAX_FRAMES: %w", err)
	}
	c.MaxFrames = maxFrames

	sampleFrames, err := strconv.Atoi(getEnv("PALETTE_SAMPLE_FRAMES", strconv.Itoa(c.PaletteSampleFrames)))
	if err != nil {
		return fmt.Errorf("invalid PALETTE_SAMPLE_FRAMES: %w", err)
	}
	c.PaletteSampleFrames = sampleFrames

	seekTimeout, err := time.ParseDuration(getEnv("SEEK_TIMEOUT", c.SeekTimeout.String()))
	if err != nil {
		return fmt.Errorf("invalid SEEK_TIMEOUT: %w", err)
	}
	c.SeekTimeout = seekTimeout

	posters, err := strconv.ParseBool(getEnv("POSTERS", strconv.FormatBool(c.Posters)))
	if err != nil {
		return fmt.Errorf("invalid POSTERS: %w", err)
	}
	c.Posters = posters

	return nil
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.QuotaMB <= 0 {
		return fmt.Errorf("QUOTA_MB must be positive, got %d", c.QuotaMB)
	}
	if c.SeekTimeout <= 0 {
		return fmt.Errorf("SEEK_TIMEOUT must be positive, got %s", c.SeekTimeout)
	}
	if c.MaxFrames <= 0 {
		return fmt.Errorf("MAX_FRAMES must be positive, got %d", c.MaxFrames)
	}
	if c.PaletteSampleFrames <= 0 {
		return fmt.Errorf("PALETTE_SAMPLE_FRAMES must be positive, got %d", c.PaletteSampleFrames)
	}
	return nil
}

func (c *Config) QuotaBytes() int64 {
	return int64(c.QuotaMB) * 1024 * 1024
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "gifcap.db")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
