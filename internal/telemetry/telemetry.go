// Package telemetry wires OpenTelemetry tracing and metrics. Exporter
// failures degrade to no-op providers; observability must never take
// the service down with it.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds telemetry configuration.
type Config struct {
	// Enabled turns telemetry export on.
	Enabled bool `koanf:"enabled"`

	// ServiceName identifies this service in traces and metrics.
	ServiceName string `koanf:"service_name"`

	// ServiceVersion is stamped on the resource.
	ServiceVersion string `koanf:"service_version"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `koanf:"endpoint"`

	// Protocol selects the exporter transport: grpc or http/protobuf.
	Protocol string `koanf:"protocol"`

	// Insecure disables TLS on the exporter connection.
	Insecure bool `koanf:"insecure"`

	// SampleRate is the trace sampling ratio in [0, 1].
	SampleRate float64 `koanf:"sample_rate"`

	// MetricExportInterval is the periodic reader interval.
	MetricExportInterval time.Duration `koanf:"metric_export_interval"`

	// ShutdownTimeout bounds the flush on shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "answerd"
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.Protocol == "" {
		c.Protocol = "grpc"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.MetricExportInterval == 0 {
		c.MetricExportInterval = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("%w: sample rate must be in [0, 1], got %v", ErrInvalidConfig, c.SampleRate)
	}
	if c.Protocol != "grpc" && c.Protocol != "http/protobuf" {
		return fmt.Errorf("%w: unknown protocol %q", ErrInvalidConfig, c.Protocol)
	}
	return nil
}

// Telemetry manages the tracer and meter providers.
type Telemetry struct {
	cfg Config

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	degraded atomic.Bool
}

// New initializes telemetry. Disabled config returns a no-op instance;
// exporter initialization failures degrade instead of failing startup.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Telemetry{cfg: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		t.degraded.Store(true)
		return t, nil
	}

	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		t.degraded.Store(true)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		t.degraded.Store(true)
	} else {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// Tracer returns a tracer for the given instrumentation scope. No-op
// when telemetry is disabled or degraded.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter for the given instrumentation scope.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// Degraded reports whether any provider failed to initialize.
func (t *Telemetry) Degraded() bool {
	return t != nil && t.degraded.Load()
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
