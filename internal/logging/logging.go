// Package logging builds the process logger: Zap with JSON or console
// encoding, credential redaction, and an optional OpenTelemetry log
// bridge.
package logging

import (
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is the encoder: json or console.
	Format string `koanf:"format"`

	// Redaction controls sensitive-field scrubbing.
	Redaction RedactionConfig `koanf:"redaction"`
}

// RedactionConfig lists field names whose values are scrubbed.
type RedactionConfig struct {
	Enabled bool     `koanf:"enabled"`
	Fields  []string `koanf:"fields"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
	if c.Redaction.Fields == nil {
		c.Redaction = RedactionConfig{
			Enabled: true,
			Fields:  []string{"api_key", "apikey", "authorization", "password", "secret", "token"},
		}
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("%w: unknown level %q", ErrInvalidConfig, c.Level)
	}
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidConfig, c.Format)
	}
	return nil
}

// New creates the process logger. otelProvider can be nil to disable
// OTEL output.
func New(cfg Config, otelProvider log.LoggerProvider) (*zap.Logger, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	encoder := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
	}
	if otelProvider != nil {
		cores = append(cores, otelzap.NewCore("answerd",
			otelzap.WithLoggerProvider(otelProvider),
		))
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}

	return zap.New(core, zap.AddCaller()), nil
}

// newEncoder creates a JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}
