package petal

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Context during creation. Options apply in order,
// so a WithConfig given after WithCoalescing replaces its setting.
//
// Example:
//
//	// Default configuration
//	ctx, err := petal.NewContext(dev)
//
//	// No pass fusion, metrics on a custom registry
//	ctx, err := petal.NewContext(dev,
//	    petal.WithCoalescing(false),
//	    petal.WithRegisterer(reg))
type Option func(*options)

// options holds optional configuration for Context creation.
type options struct {
	cfg        Config
	logger     *slog.Logger
	tracer     trace.TracerProvider
	meter      metric.MeterProvider
	registerer prometheus.Registerer
}

// defaultOptions returns the default context options.
func defaultOptions() options {
	return options{cfg: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithCoalescing enables or disables pass fusion. Disabling it never
// changes the produced pixels, only the number of passes.
func WithCoalescing(enabled bool) Option {
	return func(o *options) {
		o.cfg.Coalescing = enabled
	}
}

// WithMaxChain bounds the number of stages fused into one pass.
func WithMaxChain(n int) Option {
	return func(o *options) {
		o.cfg.MaxChainLength = n
	}
}

// WithLogger sets the logger of the Context and the components it creates.
// By default the logger installed with SetLogger is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithTracerProvider sets the provider of compile and render spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}

// WithMeterProvider sets the provider of render instruments.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meter = mp
	}
}

// WithRegisterer registers the cache collector with reg. The collector is
// unregistered on Close.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}
