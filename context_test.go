package petal

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/petal/backend/software"
	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/graph"
	"github.com/gogpu/petal/op"
	"github.com/gogpu/petal/pixel"
	"github.com/gogpu/petal/render"
)

var small = pixel.Descriptor{Width: 4, Height: 4, Format: pixel.FormatRGBA8Unorm}

// gatedDevice wraps the software device. Dispatch records concurrency and
// optionally waits on gate before running.
type gatedDevice struct {
	*software.Device
	serial bool

	entered chan struct{}
	gate    chan struct{}

	active atomic.Int32
	peak   atomic.Int32
}

func (d *gatedDevice) Capabilities() gpucore.Capabilities {
	caps := d.Device.Capabilities()
	caps.ConcurrentSubmission = !d.serial
	return caps
}

func (d *gatedDevice) Dispatch(ctx context.Context, disp *gpucore.Dispatch) error {
	n := d.active.Add(1)
	defer d.active.Add(-1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if d.entered != nil {
		d.entered <- struct{}{}
	}
	if d.gate != nil {
		<-d.gate
	}
	return d.Device.Dispatch(ctx, disp)
}

func invertJob(r *rand.Rand) Job {
	g := graph.New()
	leaf, _ := g.Leaf(small)
	out := g.MustNode(op.Invert{}, g.MustNode(op.BoxBlur{Radius: 1}, leaf))
	return Job{Graph: g, Outputs: []graph.NodeID{out}, Leaves: map[graph.NodeID]*pixel.Image{leaf: randomImage(r, small)}}
}

func TestNewContextRejectsInvalidConfig(t *testing.T) {
	_, err := NewContext(software.New(), WithMaxChain(0))
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("NewContext() error = %v, want *ConfigError", err)
	}
	if ce.Field != "max_chain_length" {
		t.Errorf("Field = %q, want max_chain_length", ce.Field)
	}
	if _, err := NewContext(nil); err == nil {
		t.Error("NewContext(nil) error = nil")
	}
}

func TestRenderBatch(t *testing.T) {
	dev := &gatedDevice{Device: software.New()}
	c := newTestContext(t, dev)

	r := rand.New(rand.NewPCG(3, 4))
	jobs := make([]Job, 8)
	for i := range jobs {
		jobs[i] = invertJob(r)
	}
	results, err := c.RenderBatch(context.Background(), jobs)
	if err != nil {
		t.Fatalf("RenderBatch() error = %v", err)
	}
	if len(results) != len(jobs) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(jobs))
	}

	single := newTestContext(t, software.New())
	for i, job := range jobs {
		want, err := single.Render(context.Background(), job.Graph, job.Outputs, job.Leaves)
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		out := job.Outputs[0]
		if d := pixel.MaxDiff(results[i].Image(out), want.Image(out)); d != 0 {
			t.Errorf("job %d differs from a single render by %v", i, d)
		}
	}
}

func TestRenderBatchSerialDevice(t *testing.T) {
	dev := &gatedDevice{Device: software.New(), serial: true}
	c, err := NewContext(dev)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	defer c.Close()

	r := rand.New(rand.NewPCG(5, 6))
	jobs := make([]Job, 6)
	for i := range jobs {
		jobs[i] = invertJob(r)
	}
	if _, err := c.RenderBatch(context.Background(), jobs); err != nil {
		t.Fatalf("RenderBatch() error = %v", err)
	}
	if p := dev.peak.Load(); p != 1 {
		t.Errorf("peak concurrent dispatches = %d, want 1", p)
	}
}

func TestRenderBatchReportsFailingJob(t *testing.T) {
	c := newTestContext(t, software.New(), WithConfig(Config{
		Coalescing:           true,
		MaxChainLength:       8,
		MaxConcurrentRenders: 1,
	}))
	r := rand.New(rand.NewPCG(1, 1))
	jobs := []Job{invertJob(r), invertJob(r), invertJob(r)}
	jobs[1].Leaves = nil

	_, err := c.RenderBatch(context.Background(), jobs)
	if !errors.Is(err, ErrMissingLeaf) {
		t.Fatalf("RenderBatch() error = %v, want ErrMissingLeaf", err)
	}
	if !strings.Contains(err.Error(), "job 1") {
		t.Errorf("error %q does not name the failing job", err)
	}
}

func TestCloseWaitsForRenders(t *testing.T) {
	dev := &gatedDevice{
		Device:  software.New(),
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	c, err := NewContext(dev)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}

	job := invertJob(rand.New(rand.NewPCG(9, 9)))
	renderErr := make(chan error, 1)
	go func() {
		_, err := c.Render(context.Background(), job.Graph, job.Outputs, job.Leaves)
		renderErr <- err
	}()
	<-dev.entered

	closed := make(chan struct{})
	go func() {
		_ = c.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close() returned while a render was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	// Let the blur pass finish; the invert pass enters next.
	dev.gate <- struct{}{}
	<-dev.entered
	dev.gate <- struct{}{}

	if err := <-renderErr; err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	<-closed

	if _, err := c.Render(context.Background(), job.Graph, job.Outputs, job.Leaves); !errors.Is(err, ErrClosed) {
		t.Errorf("Render() after Close error = %v, want ErrClosed", err)
	}
	if st := dev.Stats(); st.LiveTargets != 0 || st.Programs != 0 {
		t.Errorf("after Close: %d live targets, %d programs; want 0", st.LiveTargets, st.Programs)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestCloseFreesEverything(t *testing.T) {
	dev := software.New()
	c, err := NewContext(dev)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	g := graph.New()
	leaf, _ := g.Leaf(small)
	out := g.MustNode(op.BoxBlur{Radius: 1}, g.MustNode(op.BoxBlur{Radius: 1}, leaf))
	leaves := map[graph.NodeID]*pixel.Image{leaf: pixel.NewImage(small)}
	if _, err := c.Render(context.Background(), g, []graph.NodeID{out}, leaves); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if st := dev.Stats(); st.LiveTargets == 0 || st.Programs == 0 {
		t.Fatalf("before Close: live targets = %d, programs = %d, want pooled resources", st.LiveTargets, st.Programs)
	}

	_ = c.Close()
	if st := dev.Stats(); st.LiveTargets != 0 || st.Programs != 0 {
		t.Errorf("after Close: live targets = %d, programs = %d, want 0", st.LiveTargets, st.Programs)
	}
}

func TestTrimAfterRender(t *testing.T) {
	dev := software.New()
	cfg := DefaultConfig()
	cfg.Cache.IdleBudgetBytes = 0
	cfg.Cache.TrimAfterRender = true
	c := newTestContext(t, dev, WithConfig(cfg))

	job := invertJob(rand.New(rand.NewPCG(2, 2)))
	if _, err := c.Render(context.Background(), job.Graph, job.Outputs, job.Leaves); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	st := c.Stats()
	if st.Cache.Idle != 0 || st.Trims != 1 {
		t.Errorf("Idle = %d, Trims = %d, want 0 and 1", st.Cache.Idle, st.Trims)
	}
	if n := dev.Stats().LiveTargets; n != 0 {
		t.Errorf("LiveTargets = %d, want 0", n)
	}
}

func TestMemoryPressureTrims(t *testing.T) {
	target := gpucore.TargetFor(small, gpucore.UsageIntermediate).Bytes()
	dev := software.New(software.WithMemoryBudget(target * 9 / 2))
	cfg := DefaultConfig()
	cfg.Cache.IdleBudgetBytes = 0
	c := newTestContext(t, dev, WithConfig(cfg))

	g := graph.New()
	leaf, _ := g.Leaf(small)
	out := g.MustNode(op.Invert{}, g.MustNode(op.BoxBlur{Radius: 1}, g.MustNode(op.BoxBlur{Radius: 1}, leaf)))
	_, err := c.Render(context.Background(), g, []graph.NodeID{out}, map[graph.NodeID]*pixel.Image{leaf: pixel.NewImage(small)})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	st := c.Stats()
	if st.Trims == 0 {
		t.Error("memory pressure did not trim the cache")
	}
	if st.Cache.Evictions == 0 {
		t.Error("pressure trim evicted nothing")
	}
}

func TestDeviceLostFailsLaterRenders(t *testing.T) {
	dev := software.New()
	c := newTestContext(t, dev)
	job := invertJob(rand.New(rand.NewPCG(4, 4)))

	dev.FailNext(software.CallDispatch, gpucore.ErrDeviceLost)
	_, err := c.Render(context.Background(), job.Graph, job.Outputs, job.Leaves)
	var lost *render.DeviceLostError
	if !errors.As(err, &lost) || !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("Render() error = %v, want *render.DeviceLostError", err)
	}
	if !c.Lost() || !c.Stats().Lost {
		t.Error("context does not report the lost device")
	}
	if _, err := c.Render(context.Background(), job.Graph, job.Outputs, job.Leaves); !errors.Is(err, ErrDeviceLost) {
		t.Errorf("second Render() error = %v, want ErrDeviceLost", err)
	}
	if st := c.Stats(); st.Renders != 2 || st.Failures != 2 {
		t.Errorf("Renders = %d, Failures = %d; want 2 and 2", st.Renders, st.Failures)
	}
}

func TestRegistererCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewContext(software.New(), WithRegisterer(reg))
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	job := invertJob(rand.New(rand.NewPCG(8, 8)))
	if _, err := c.Render(context.Background(), job.Graph, job.Outputs, job.Leaves); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "petal_cache_allocations_total" {
			found = mf.GetMetric()[0].GetCounter().GetValue() > 0
		}
	}
	if !found {
		t.Error("petal_cache_allocations_total missing or zero")
	}

	_ = c.Close()
	families, _ = reg.Gather()
	if len(families) != 0 {
		t.Errorf("%d metric families registered after Close, want 0", len(families))
	}

	// A second context may register on the same registry.
	c2, err := NewContext(software.New(), WithRegisterer(reg))
	if err != nil {
		t.Fatalf("NewContext() after Close error = %v", err)
	}
	_ = c2.Close()
}

func TestConcurrentRenders(t *testing.T) {
	c := newTestContext(t, software.New())
	job := invertJob(rand.New(rand.NewPCG(11, 11)))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Render(context.Background(), job.Graph, job.Outputs, job.Leaves); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Render() error = %v", err)
	}
	if n := c.Stats().Cache.CheckedOut; n != 0 {
		t.Errorf("CheckedOut = %d after renders, want 0", n)
	}
}
