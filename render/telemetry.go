// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/gogpu/petal/render"

// instruments are created on first use.
type instruments struct {
	once sync.Once

	runs        metric.Int64Counter
	failures    metric.Int64Counter
	passes      metric.Int64Counter
	retries     metric.Int64Counter
	passLatency metric.Float64Histogram
	runLatency  metric.Float64Histogram
}

func (in *instruments) init(m metric.Meter, logger *slog.Logger) {
	in.once.Do(func() {
		var failed []string
		note := func(name string, err error) {
			if err != nil {
				failed = append(failed, name+": "+err.Error())
			}
		}

		var err error
		in.runs, err = m.Int64Counter("petal.render.runs",
			metric.WithDescription("Plans executed"))
		note("runs", err)

		in.failures, err = m.Int64Counter("petal.render.failures",
			metric.WithDescription("Plans that failed, by error kind"))
		note("failures", err)

		in.passes, err = m.Int64Counter("petal.render.passes",
			metric.WithDescription("Passes dispatched"))
		note("passes", err)

		in.retries, err = m.Int64Counter("petal.render.oom_retries",
			metric.WithDescription("Steps retried after trimming the idle pool"))
		note("retries", err)

		in.passLatency, err = m.Float64Histogram("petal.render.pass.duration",
			metric.WithDescription("Time spent in one pass"),
			metric.WithUnit("s"))
		note("pass_latency", err)

		in.runLatency, err = m.Float64Histogram("petal.render.run.duration",
			metric.WithDescription("Time spent executing a plan"),
			metric.WithUnit("s"))
		note("run_latency", err)

		if len(failed) > 0 {
			logger.Error("render: some instruments failed to initialize",
				slog.Int("failed_count", len(failed)),
				slog.Any("errors", failed))
		}
	})
}

func (in *instruments) pass(ctx context.Context, label string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("petal.program", label))
	in.passes.Add(ctx, 1, attrs)
	in.passLatency.Record(ctx, d.Seconds(), attrs)
}

func (in *instruments) run(ctx context.Context, d time.Duration, err error) {
	in.runs.Add(ctx, 1)
	in.runLatency.Record(ctx, d.Seconds())
	if err != nil {
		in.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("petal.error", errorKind(err))))
	}
}
