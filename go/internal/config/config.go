// Package config reads service settings from the environment and optional
// estimation series from a YAML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/pointing/go/internal/models"
)

// Config holds the service settings.
type Config struct {
	HTTPAddr            string
	NATSURL             string
	KVBucket            string
	LocalDBPath         string
	JoinFallbackTimeout time.Duration
	JoinForceTimeout    time.Duration
	LogLevel            string
	DisplayName         string
	SeriesFile          string
	DefaultSeries       string
	AllowedOrigins      []string
}

// NewConfigFromEnv reads the environment (with defaults).
func NewConfigFromEnv() (Config, error) {
	fallback, err := getEnvAsDuration("JOIN_FALLBACK_TIMEOUT", 3*time.Second)
	if err != nil {
		return Config{}, err
	}
	force, err := getEnvAsDuration("JOIN_FORCE_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8090"),
		NATSURL:             os.Getenv("NATS_URL"),
		KVBucket:            getEnv("KV_BUCKET", "pointing"),
		LocalDBPath:         getEnv("LOCAL_DB_PATH", "./data/pointing.db"),
		JoinFallbackTimeout: fallback,
		JoinForceTimeout:    force,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DisplayName:         strings.TrimSpace(os.Getenv("DISPLAY_NAME")),
		SeriesFile:          os.Getenv("SERIES_FILE"),
		DefaultSeries:       getEnv("DEFAULT_SERIES", models.SeriesFibonacci),
		AllowedOrigins:      splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
	}
	return cfg, cfg.Validate()
}

// Validate checks settings that cannot be defaulted.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if c.JoinFallbackTimeout <= 0 || c.JoinForceTimeout <= 0 {
		return fmt.Errorf("join timeouts must be positive")
	}
	if c.JoinFallbackTimeout >= c.JoinForceTimeout {
		return fmt.Errorf("JOIN_FALLBACK_TIMEOUT (%s) must be shorter than JOIN_FORCE_TIMEOUT (%s)",
			c.JoinFallbackTimeout, c.JoinForceTimeout)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return nil
}

// Level returns the configured log level, defaulting to info.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// SeriesRegistry returns the built-in series plus those in SeriesFile.
func (c Config) SeriesRegistry() (*models.SeriesRegistry, error) {
	registry := models.NewSeriesRegistry()
	if c.SeriesFile != "" {
		series, err := LoadSeries(c.SeriesFile)
		if err != nil {
			return nil, err
		}
		for _, s := range series {
			if err := registry.Register(s); err != nil {
				return nil, fmt.Errorf("register series from %s: %w", c.SeriesFile, err)
			}
		}
	}
	if _, ok := registry.Get(c.DefaultSeries); !ok {
		return nil, fmt.Errorf("default series %q is not registered", c.DefaultSeries)
	}
	return registry, nil
}

type seriesFile struct {
	Series []struct {
		Key    string `yaml:"key"`
		Name   string `yaml:"name"`
		Values []any  `yaml:"values"`
	} `yaml:"series"`
}

// LoadSeries reads custom estimation series from a YAML file.
func LoadSeries(path string) ([]models.Series, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read series file: %w", err)
	}
	return ParseSeries(data)
}

// ParseSeries decodes series definitions. Numeric values become numbers,
// anything else a token.
func ParseSeries(data []byte) ([]models.Series, error) {
	var file seriesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse series file: %w", err)
	}

	out := make([]models.Series, 0, len(file.Series))
	for _, raw := range file.Series {
		s := models.Series{Key: raw.Key, Name: raw.Name}
		if s.Name == "" {
			s.Name = s.Key
		}
		for _, v := range raw.Values {
			if str, ok := v.(string); ok {
				s.Values = append(s.Values, models.ParseEstimate(str))
				continue
			}
			value, err := models.EstimateFromValue(v)
			if err != nil || !value.IsSet() {
				return nil, fmt.Errorf("series %s: unsupported value %v", raw.Key, v)
			}
			s.Values = append(s.Values, value)
		}
		out = append(out, s)
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
