// Package software implements gpucore.Device on the CPU.
//
// Targets are float32 bitmaps holding stored channel values. Pointwise
// programs evaluate the op package's reference functions stage by stage,
// re-quantizing between stages exactly like a chain of separate passes
// would. Resample programs run through golang.org/x/image/draw and
// compute programs convolve in premultiplied space with clamp-to-edge
// sampling.
//
// WithWorkers spreads dispatches over row bands on a worker pool. Results
// are identical to the single-threaded path.
//
// The device is the reference backend for tests: it counts allocations,
// frees, compiles and dispatches, can enforce a memory budget, and can be
// told to fail the next call of a given kind.
package software

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/internal/logx"
	"github.com/gogpu/petal/internal/parallel"
	"github.com/gogpu/petal/pixel"
)

// pressureThreshold is the budget fraction at which pressure callbacks fire.
const pressureThreshold = 0.8

// Device is a CPU implementation of gpucore.Device. It is safe for
// concurrent use.
type Device struct {
	mu       sync.Mutex
	logger   *slog.Logger
	pool     *parallel.Pool
	next     uint64
	targets  map[gpucore.ResourceID]*target
	programs map[gpucore.ProgramID]*program

	budget     int64
	used       int64
	pressured  bool
	onPressure []func()
	concurrent bool
	lost       bool

	faults map[Call]error
	stats  Stats
}

type target struct {
	desc gpucore.TargetDescriptor
	pix  []float32
}

// Option configures a Device.
type Option func(*Device)

// WithMemoryBudget limits live target storage to bytes. Allocations beyond
// it fail with gpucore.ErrOutOfMemory. Zero means unlimited.
func WithMemoryBudget(bytes int64) Option {
	return func(d *Device) { d.budget = bytes }
}

// WithConcurrentSubmission sets the ConcurrentSubmission capability.
// It is enabled by default.
func WithConcurrentSubmission(enabled bool) Option {
	return func(d *Device) { d.concurrent = enabled }
}

// WithWorkers runs dispatches on n worker goroutines. n <= 0 means
// GOMAXPROCS. Devices created with workers must be closed.
func WithWorkers(n int) Option {
	return func(d *Device) { d.pool = parallel.NewPool(n) }
}

// WithLogger sets the logger. By default the package-wide petal logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a CPU device.
func New(opts ...Option) *Device {
	d := &Device{
		logger:     logx.L(),
		targets:    make(map[gpucore.ResourceID]*target),
		programs:   make(map[gpucore.ProgramID]*program),
		concurrent: true,
		faults:     make(map[Call]error),
		stats:      Stats{Dispatches: make(map[string]int)},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Close stops the worker pool, if any. The device stays usable and runs
// later dispatches on the calling goroutine.
func (d *Device) Close() error {
	d.pool.Close()
	return nil
}

var (
	_ gpucore.Device           = (*Device)(nil)
	_ gpucore.PressureNotifier = (*Device)(nil)
)

// Capabilities implements gpucore.Device.
func (d *Device) Capabilities() gpucore.Capabilities {
	return gpucore.Capabilities{
		Name:                 "software",
		ConcurrentSubmission: d.concurrent,
		MaxTextureSize:       pixel.MaxDimension,
	}
}

// OnMemoryPressure implements gpucore.PressureNotifier. fn runs when live
// storage first exceeds 80% of the memory budget. It never fires without
// a budget.
func (d *Device) OnMemoryPressure(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onPressure = append(d.onPressure, fn)
}

// Allocate implements gpucore.Device.
func (d *Device) Allocate(desc gpucore.TargetDescriptor) (gpucore.ResourceID, error) {
	if desc.Width <= 0 || desc.Height <= 0 || !desc.Format.IsValid() {
		return gpucore.InvalidID, fmt.Errorf("software: allocate %v: invalid descriptor", desc)
	}
	bytes := desc.Bytes()

	d.mu.Lock()
	if err := d.checkLocked(CallAllocate); err != nil {
		d.mu.Unlock()
		return gpucore.InvalidID, err
	}
	if d.budget > 0 && d.used+bytes > d.budget {
		used := d.used
		d.mu.Unlock()
		return gpucore.InvalidID, fmt.Errorf("software: allocate %v: %d of %d bytes in use: %w",
			desc, used, d.budget, gpucore.ErrOutOfMemory)
	}
	d.next++
	id := gpucore.ResourceID(d.next)
	d.targets[id] = &target{desc: desc, pix: make([]float32, desc.Width*desc.Height*4)}
	d.used += bytes
	d.stats.Allocations++
	d.stats.LiveTargets++
	d.stats.LiveBytes = d.used
	if d.used > d.stats.PeakBytes {
		d.stats.PeakBytes = d.used
	}
	used := d.used
	var notify []func()
	if d.budget > 0 && !d.pressured && float64(d.used) > pressureThreshold*float64(d.budget) {
		d.pressured = true
		notify = append(notify, d.onPressure...)
	}
	d.mu.Unlock()

	if len(notify) > 0 {
		d.logger.Warn("software: memory pressure", "used", used, "budget", d.budget)
		for _, fn := range notify {
			fn()
		}
	}
	return id, nil
}

// Free implements gpucore.Device.
func (d *Device) Free(id gpucore.ResourceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.targets[id]
	if !ok {
		return
	}
	delete(d.targets, id)
	d.used -= t.desc.Bytes()
	d.stats.Frees++
	d.stats.LiveTargets--
	d.stats.LiveBytes = d.used
	if d.budget > 0 && float64(d.used) <= pressureThreshold*float64(d.budget) {
		d.pressured = false
	}
}

// Upload implements gpucore.Device. The image is quantized to the
// target's format; its alpha convention is kept.
func (d *Device) Upload(id gpucore.ResourceID, img *pixel.Image) error {
	d.mu.Lock()
	if err := d.checkLocked(CallUpload); err != nil {
		d.mu.Unlock()
		return err
	}
	t, ok := d.targets[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("software: upload %d: %w", id, gpucore.ErrUnknownResource)
	}
	if img.Width != t.desc.Width || img.Height != t.desc.Height {
		return fmt.Errorf("software: upload %dx%d image into %v", img.Width, img.Height, t.desc)
	}

	src := img
	if img.Format != t.desc.Format {
		src = img.Convert(t.desc.Format, img.Alpha)
	}
	copy(t.pix, src.Pix)
	return nil
}

// Readback implements gpucore.Device. Stored values are interpreted in
// dst's alpha convention and quantized to dst's format.
func (d *Device) Readback(id gpucore.ResourceID, dst *pixel.Image) error {
	d.mu.Lock()
	if err := d.checkLocked(CallReadback); err != nil {
		d.mu.Unlock()
		return err
	}
	t, ok := d.targets[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("software: readback %d: %w", id, gpucore.ErrUnknownResource)
	}
	if dst.Width != t.desc.Width || dst.Height != t.desc.Height {
		return fmt.Errorf("software: readback %v into %dx%d image", t.desc, dst.Width, dst.Height)
	}

	view := t.view(dst.Alpha)
	if dst.Format == t.desc.Format {
		copy(dst.Pix, view.Pix)
		return nil
	}
	conv := view.Convert(dst.Format, dst.Alpha)
	copy(dst.Pix, conv.Pix)
	return nil
}

// view wraps the target storage as an image decoded with alpha.
func (t *target) view(alpha pixel.AlphaType) *pixel.Image {
	return &pixel.Image{
		Width:  t.desc.Width,
		Height: t.desc.Height,
		Format: t.desc.Format,
		Alpha:  alpha,
		Pix:    t.pix,
	}
}

// Dispatch implements gpucore.Device.
func (d *Device) Dispatch(ctx context.Context, disp *gpucore.Dispatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	if err := d.checkLocked(CallDispatch); err != nil {
		d.mu.Unlock()
		return err
	}
	p, ok := d.programs[disp.Program]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("software: dispatch %q: program %d: %w", disp.Label, disp.Program, gpucore.ErrUnknownResource)
	}
	out, ok := d.targets[disp.Output]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("software: dispatch %q: output %d: %w", disp.Label, disp.Output, gpucore.ErrUnknownResource)
	}
	ins := make([]*target, len(disp.Inputs))
	for i, id := range disp.Inputs {
		t, ok := d.targets[id]
		if !ok {
			d.mu.Unlock()
			return fmt.Errorf("software: dispatch %q: input %d: %w", disp.Label, id, gpucore.ErrUnknownResource)
		}
		ins[i] = t
	}
	d.stats.Dispatches[p.label]++
	d.mu.Unlock()

	if len(ins) != p.src.NumInputs() {
		return fmt.Errorf("software: dispatch %q: %d inputs bound, program reads %d", disp.Label, len(ins), p.src.NumInputs())
	}
	if len(disp.Uniforms) != len(p.src.Stages) {
		return fmt.Errorf("software: dispatch %q: %d uniform blocks for %d stages", disp.Label, len(disp.Uniforms), len(p.src.Stages))
	}
	d.logger.Debug("software: dispatch", "label", disp.Label, "program", p.label,
		"width", disp.Width, "height", disp.Height)
	return p.run(d.pool, ins, out, disp.Uniforms)
}

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Dispatches = make(map[string]int, len(d.stats.Dispatches))
	for k, v := range d.stats.Dispatches {
		s.Dispatches[k] = v
	}
	s.Programs = len(d.programs)
	return s
}

// Stats counts device activity.
type Stats struct {
	Allocations int
	Frees       int
	Compiles    int
	Destroys    int
	LiveTargets int
	LiveBytes   int64
	PeakBytes   int64
	Programs    int

	// Dispatches counts dispatches by program label, which joins the
	// stage codes with "|".
	Dispatches map[string]int
}

// TotalDispatches sums Dispatches.
func (s Stats) TotalDispatches() int {
	n := 0
	for _, v := range s.Dispatches {
		n += v
	}
	return n
}
