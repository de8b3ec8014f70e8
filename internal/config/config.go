// Package config loads and validates run configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/text/language"
)

// Config holds everything a grading run needs besides the exercise file.
// Command-line flags override these values.
type Config struct {
	// Inputs.
	ExercisePath string `env:"HYOKA_EXERCISE"`
	InputPath    string `env:"HYOKA_INPUT" envDefault:"-"` // "-" reads stdin.
	Seed         *int64 `env:"HYOKA_SEED"`                 // Fixes the location jitter.

	// Outputs. An empty path disables that sink.
	ReportCSVPath  string `env:"HYOKA_REPORT_CSV"`
	ReportTextPath string `env:"HYOKA_REPORT_TEXT" envDefault:"-"` // "-" writes stdout.
	OutboxPath     string `env:"HYOKA_OUTBOX"`                     // NDJSON feedback envelopes.
	TextfilePath   string `env:"HYOKA_PROM_TEXTFILE"`              // node_exporter textfile collector.
	DatabaseURL    string `env:"HYOKA_DATABASE_URL"`               // sqlite:// or postgres://.
	Language       string `env:"HYOKA_LANGUAGE" envDefault:"en-US"`

	// OTEL settings.
	OTELEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"hyoka"`

	// Operational settings.
	LogLevel        string        `env:"HYOKA_LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"HYOKA_LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"HYOKA_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads configuration from environment variables. Call Validate before
// driving a run with it.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration can drive a run.
func (c Config) Validate() error {
	var errs []error
	if c.ExercisePath == "" {
		errs = append(errs, errors.New("config: HYOKA_EXERCISE is required"))
	}
	if c.InputPath == "" {
		errs = append(errs, errors.New("config: HYOKA_INPUT is required"))
	}
	if _, err := c.Tag(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("config: HYOKA_LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if c.DatabaseURL != "" && !strings.Contains(c.DatabaseURL, "://") {
		errs = append(errs, fmt.Errorf("config: HYOKA_DATABASE_URL must be a URL, got %q", c.DatabaseURL))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("config: HYOKA_SHUTDOWN_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// Tag parses Language.
func (c Config) Tag() (language.Tag, error) {
	tag, err := language.Parse(c.Language)
	if err != nil {
		return language.Und, fmt.Errorf("config: HYOKA_LANGUAGE %q: %w", c.Language, err)
	}
	return tag, nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: HYOKA_LOG_LEVEL: %w", err)
	}
	return l, nil
}
