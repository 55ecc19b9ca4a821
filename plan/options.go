package plan

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/gogpu/petal/coalesce"
)

const instrumentationName = "github.com/gogpu/petal/plan"

// Option configures Compile.
type Option func(*options)

type options struct {
	coalesce coalesce.Options
	tracer   trace.Tracer
}

func defaultOptions() options {
	return options{
		coalesce: coalesce.Options{Enabled: true, MaxChain: coalesce.DefaultMaxChain},
		tracer:   otel.Tracer(instrumentationName),
	}
}

// WithCoalescing enables or disables pass coalescing. Enabled by default.
func WithCoalescing(enabled bool) Option {
	return func(o *options) {
		o.coalesce.Enabled = enabled
	}
}

// WithMaxChain bounds the number of stages fused into one pass.
func WithMaxChain(n int) Option {
	return func(o *options) {
		o.coalesce.MaxChain = n
	}
}

// WithTracerProvider sets the provider of the compile span tracer.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(instrumentationName)
		}
	}
}
