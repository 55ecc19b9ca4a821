// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. By default the package-wide petal logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracerProvider sets the provider of the run and pass span tracer.
// The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) {
		if tp != nil {
			e.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithMeterProvider sets the provider of the executor's instruments.
// The global provider is used by default.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Executor) {
		if mp != nil {
			e.meter = mp.Meter(instrumentationName)
		}
	}
}
