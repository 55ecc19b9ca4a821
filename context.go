package petal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/petal/cache"
	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/graph"
	"github.com/gogpu/petal/internal/logx"
	"github.com/gogpu/petal/pixel"
	"github.com/gogpu/petal/plan"
	"github.com/gogpu/petal/render"
)

// Context binds one device to one resource cache. A Context is safe for
// concurrent use; renders from several goroutines share its cache.
type Context struct {
	dev    gpucore.Device
	cfg    Config
	logger *slog.Logger

	cache    *cache.Cache
	exec     *render.Executor
	planOpts []plan.Option

	collector  *cache.Collector
	registerer prometheus.Registerer

	mu       sync.Mutex // guards closed and inflight.Add
	closed   bool
	inflight sync.WaitGroup

	renders  atomic.Uint64
	failures atomic.Uint64
	trims    atomic.Uint64
}

// NewContext creates a Context rendering on dev. The caller keeps
// ownership of dev and must keep it open until Close returns.
func NewContext(dev gpucore.Device, opts ...Option) (*Context, error) {
	if dev == nil {
		return nil, errors.New("petal: nil device")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	logger := o.logger
	if logger == nil {
		logger = logx.L()
	}

	c := &Context{
		dev:    dev,
		cfg:    o.cfg,
		logger: logger,
		cache:  cache.New(dev, cache.WithLogger(logger)),
		planOpts: []plan.Option{
			plan.WithCoalescing(o.cfg.Coalescing),
			plan.WithMaxChain(o.cfg.MaxChainLength),
			plan.WithTracerProvider(o.tracer),
		},
	}
	c.exec = render.New(dev, c.cache,
		render.WithLogger(logger),
		render.WithTracerProvider(o.tracer),
		render.WithMeterProvider(o.meter),
	)

	if o.registerer != nil {
		col := cache.NewCollector(c.cache)
		if err := o.registerer.Register(col); err != nil {
			return nil, fmt.Errorf("petal: register cache collector: %w", err)
		}
		c.collector = col
		c.registerer = o.registerer
	}
	if pn, ok := dev.(gpucore.PressureNotifier); ok {
		pn.OnMemoryPressure(c.onPressure)
	}

	caps := dev.Capabilities()
	logger.Info("petal: context created", "device", caps.Name,
		"coalescing", o.cfg.Coalescing, "concurrent", caps.ConcurrentSubmission)
	return c, nil
}

// Config returns the configuration the Context was created with.
func (c *Context) Config() Config { return c.cfg }

// Device returns the device the Context renders on.
func (c *Context) Device() gpucore.Device { return c.dev }

// Lost reports whether the device was lost. A lost Context fails every
// render with a *render.DeviceLostError.
func (c *Context) Lost() bool { return c.exec.Lost() }

func (c *Context) onPressure() {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	n := c.cache.TrimTo(c.cfg.Cache.IdleBudgetBytes)
	c.trims.Add(1)
	c.logger.Warn("petal: memory pressure, trimmed idle targets",
		"evicted", n, "budget_bytes", c.cfg.Cache.IdleBudgetBytes)
}

// begin registers an in-flight invocation.
func (c *Context) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.inflight.Add(1)
	return nil
}

// Compile builds the plan computing outputs of g.
func (c *Context) Compile(ctx context.Context, g *graph.Graph, outputs []graph.NodeID) (*plan.Plan, error) {
	return plan.Compile(ctx, g, outputs, c.planOpts...)
}

// Run executes a plan compiled for this Context.
func (c *Context) Run(ctx context.Context, p *plan.Plan, leaves map[graph.NodeID]*pixel.Image) (*render.Result, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.inflight.Done()

	res, err := c.exec.Run(ctx, p, leaves)
	c.renders.Add(1)
	if c.cfg.Cache.TrimAfterRender {
		if n := c.cache.TrimTo(c.cfg.Cache.IdleBudgetBytes); n > 0 {
			c.trims.Add(1)
			c.logger.Debug("petal: trimmed idle targets after render", "evicted", n)
		}
	}
	if err != nil {
		c.failures.Add(1)
		return nil, err
	}
	return res, nil
}

// Render compiles and runs g in one step.
func (c *Context) Render(ctx context.Context, g *graph.Graph, outputs []graph.NodeID, leaves map[graph.NodeID]*pixel.Image) (*render.Result, error) {
	p, err := c.Compile(ctx, g, outputs)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, p, leaves)
}

// Job is one independent render of a batch.
type Job struct {
	Graph   *graph.Graph
	Outputs []graph.NodeID
	Leaves  map[graph.NodeID]*pixel.Image
}

// RenderBatch renders jobs concurrently, at most MaxConcurrentRenders at a
// time, or one at a time if the device forbids concurrent submission.
// Results are in job order. The first failure cancels the jobs that have
// not started yet and is returned.
func (c *Context) RenderBatch(ctx context.Context, jobs []Job) ([]*render.Result, error) {
	limit := c.cfg.MaxConcurrentRenders
	if !c.dev.Capabilities().ConcurrentSubmission {
		limit = 1
	}

	results := make([]*render.Result, len(jobs))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, job := range jobs {
		eg.Go(func() error {
			res, err := c.Render(ctx, job.Graph, job.Outputs, job.Leaves)
			if err != nil {
				return fmt.Errorf("petal: job %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Trim frees every idle render target and returns how many were freed.
func (c *Context) Trim() int {
	n := c.cache.Trim()
	c.trims.Add(1)
	c.logger.Debug("petal: trimmed idle targets", "evicted", n)
	return n
}

// Stats is a snapshot of Context counters.
type Stats struct {
	Cache cache.Stats

	// Renders counts Run calls that reached the executor, Failures those
	// that returned an error.
	Renders  uint64
	Failures uint64

	// Trims counts explicit, pressure-driven and after-render trims.
	Trims uint64

	Lost bool
}

// Stats returns current counters.
func (c *Context) Stats() Stats {
	return Stats{
		Cache:    c.cache.Stats(),
		Renders:  c.renders.Load(),
		Failures: c.failures.Load(),
		Trims:    c.trims.Load(),
		Lost:     c.exec.Lost(),
	}
}

// Close waits for in-flight renders, then frees every pooled target and
// compiled program. Later renders fail with ErrClosed. Close is idempotent
// and does not close the device.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.inflight.Wait()
	c.cache.Purge()
	if c.collector != nil {
		c.registerer.Unregister(c.collector)
	}
	c.logger.Info("petal: context closed", "renders", c.renders.Load(), "failures", c.failures.Load())
	return nil
}
