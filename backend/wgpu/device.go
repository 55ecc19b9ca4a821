//go:build !nogpu

package wgpu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/internal/logx"
	"github.com/gogpu/petal/pixel"
)

// bytesPerPixel is the size of one vec4<f32> pixel.
const bytesPerPixel = 16

// fenceTimeout bounds every wait for the GPU. A timeout marks the device lost.
const fenceTimeout = 5 * time.Second

// ErrNoAdapter is returned by New when no GPU adapter is present.
var ErrNoAdapter = errors.New("wgpu: no GPU adapter")

// Device is a compute device on gogpu/wgpu HAL. It is safe for concurrent
// use; submissions are serialized.
type Device struct {
	mu     sync.Mutex
	logger *slog.Logger

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	external bool // shared device, not destroyed on Close
	name     string
	surface  pixel.Format

	next     uint64
	targets  map[gpucore.ResourceID]*buffer
	programs map[gpucore.ProgramID]*pipeline
	lost     bool
}

type buffer struct {
	desc gpucore.TargetDescriptor
	buf  hal.Buffer
	size uint64
}

var _ gpucore.Device = (*Device)(nil)

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the logger. By default the package-wide petal logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.logger = l
		}
	}
}

func newDevice(opts []Option) *Device {
	d := &Device{
		logger:   logx.L(),
		targets:  make(map[gpucore.ResourceID]*buffer),
		programs: make(map[gpucore.ProgramID]*pipeline),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// New opens a Vulkan device, preferring discrete and integrated GPUs.
func New(opts ...Option) (*Device, error) {
	d := newDevice(opts)

	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", ErrNoAdapter)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	open, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	d.instance = instance
	d.device = open.Device
	d.queue = open.Queue
	d.name = selected.Info.Name
	d.logger.Info("wgpu: device opened", "adapter", d.name)
	return d, nil
}

// NewFromProvider shares the device of a host application. The provider
// must expose HalDevice() any and HalQueue() any returning hal.Device and
// hal.Queue. The provider's surface format becomes PreferredFormat.
func NewFromProvider(p gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := p.(halProvider)
	if !ok {
		return nil, fmt.Errorf("wgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}

	d := newDevice(opts)
	d.device = device
	d.queue = queue
	d.external = true
	d.name = "shared"
	if f, ok := pixel.FormatFromTexture(p.SurfaceFormat()); ok {
		d.surface = f
	}
	d.logger.Info("wgpu: sharing host device", "surface_format", d.surface)
	return d, nil
}

// PreferredFormat returns the host surface format, or FormatRGBA8Unorm.
func (d *Device) PreferredFormat() pixel.Format {
	if d.surface == pixel.FormatUndefined {
		return pixel.FormatRGBA8Unorm
	}
	return d.surface
}

// Capabilities implements gpucore.Device.
func (d *Device) Capabilities() gpucore.Capabilities {
	return gpucore.Capabilities{
		Name:                 "wgpu:" + d.name,
		ConcurrentSubmission: false,
		MaxTextureSize:       pixel.MaxDimension,
	}
}

// Close destroys every target and program, then the device unless it is
// shared.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return nil
	}
	for id, b := range d.targets {
		d.device.DestroyBuffer(b.buf)
		delete(d.targets, id)
	}
	for id, p := range d.programs {
		p.destroy(d.device)
		delete(d.programs, id)
	}
	if !d.external {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.queue = nil
	d.instance = nil
	return nil
}

// checkLocked fails fast once the device is lost or closed.
func (d *Device) checkLocked() error {
	if d.lost || d.device == nil {
		return gpucore.ErrDeviceLost
	}
	return nil
}

// Allocate implements gpucore.Device.
func (d *Device) Allocate(desc gpucore.TargetDescriptor) (gpucore.ResourceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return gpucore.InvalidID, err
	}

	size := uint64(desc.Width) * uint64(desc.Height) * bytesPerPixel //nolint:gosec // dimensions are validated
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "petal_target", Size: size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: allocate %v: %v: %w", desc, err, gpucore.ErrOutOfMemory)
	}
	d.next++
	id := gpucore.ResourceID(d.next)
	d.targets[id] = &buffer{desc: desc, buf: buf, size: size}
	return id, nil
}

// Free implements gpucore.Device.
func (d *Device) Free(id gpucore.ResourceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.targets[id]
	if !ok || d.device == nil {
		return
	}
	d.device.DestroyBuffer(b.buf)
	delete(d.targets, id)
}

// Upload implements gpucore.Device.
func (d *Device) Upload(id gpucore.ResourceID, img *pixel.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return err
	}
	b, ok := d.targets[id]
	if !ok {
		return fmt.Errorf("wgpu: upload %d: %w", id, gpucore.ErrUnknownResource)
	}
	if img.Width != b.desc.Width || img.Height != b.desc.Height {
		return fmt.Errorf("wgpu: upload %dx%d image into %v", img.Width, img.Height, b.desc)
	}
	src := img
	if img.Format != b.desc.Format {
		src = img.Convert(b.desc.Format, img.Alpha)
	}
	d.queue.WriteBuffer(b.buf, 0, packFloats(src.Pix))
	return nil
}

// Readback implements gpucore.Device.
func (d *Device) Readback(id gpucore.ResourceID, dst *pixel.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return err
	}
	b, ok := d.targets[id]
	if !ok {
		return fmt.Errorf("wgpu: readback %d: %w", id, gpucore.ErrUnknownResource)
	}
	if dst.Width != b.desc.Width || dst.Height != b.desc.Height {
		return fmt.Errorf("wgpu: readback %v into %dx%d image", b.desc, dst.Width, dst.Height)
	}

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "petal_staging", Size: b.size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create staging buffer: %v: %w", err, gpucore.ErrOutOfMemory)
	}
	defer d.device.DestroyBuffer(staging)

	err = d.submitLocked("petal_readback", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(b.buf, staging, []hal.BufferCopy{{SrcOffset: 0, DstOffset: 0, Size: b.size}})
	})
	if err != nil {
		return err
	}
	raw := make([]byte, b.size)
	if err := d.queue.ReadBuffer(staging, 0, raw); err != nil {
		return fmt.Errorf("wgpu: readback: %w", err)
	}

	view := &pixel.Image{Width: dst.Width, Height: dst.Height, Format: b.desc.Format, Alpha: dst.Alpha, Pix: unpackFloats(raw)}
	if dst.Format != b.desc.Format {
		view = view.Convert(dst.Format, dst.Alpha)
	}
	copy(dst.Pix, view.Pix)
	return nil
}

// submitLocked records one command buffer with record, submits it and
// waits for completion.
func (d *Device) submitLocked(label string, record func(hal.CommandEncoder)) error {
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	record(encoder)
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)
	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return d.loseLocked(fmt.Errorf("wgpu: submit: %w", err))
	}
	ok, err := d.device.Wait(fence, 1, fenceTimeout)
	if err != nil || !ok {
		return d.loseLocked(fmt.Errorf("wgpu: wait for GPU: ok=%v err=%v", ok, err))
	}
	return nil
}

func (d *Device) loseLocked(err error) error {
	d.lost = true
	d.logger.Warn("wgpu: device lost", "err", err)
	return fmt.Errorf("%w: %v", gpucore.ErrDeviceLost, err)
}

// Dispatch implements gpucore.Device.
func (d *Device) Dispatch(ctx context.Context, disp *gpucore.Dispatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return err
	}

	p, ok := d.programs[disp.Program]
	if !ok {
		return fmt.Errorf("wgpu: dispatch %q: program %d: %w", disp.Label, disp.Program, gpucore.ErrUnknownResource)
	}
	out, ok := d.targets[disp.Output]
	if !ok {
		return fmt.Errorf("wgpu: dispatch %q: output %d: %w", disp.Label, disp.Output, gpucore.ErrUnknownResource)
	}
	if len(disp.Inputs) != p.src.NumInputs() {
		return fmt.Errorf("wgpu: dispatch %q: %d inputs bound, program reads %d", disp.Label, len(disp.Inputs), p.src.NumInputs())
	}
	ins := make([]*buffer, len(disp.Inputs))
	for i, id := range disp.Inputs {
		b, ok := d.targets[id]
		if !ok {
			return fmt.Errorf("wgpu: dispatch %q: input %d: %w", disp.Label, id, gpucore.ErrUnknownResource)
		}
		ins[i] = b
	}

	b, err := d.bindLocked(p, ins, out, disp.Uniforms)
	if err != nil {
		return err
	}
	defer b.destroy(d.device)

	w, h := uint32(out.desc.Width), uint32(out.desc.Height) //nolint:gosec // dimensions are validated
	d.logger.Debug("wgpu: dispatch", "label", disp.Label, "width", w, "height", h)
	return d.submitLocked("petal_dispatch", func(enc hal.CommandEncoder) {
		pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: disp.Label})
		pass.SetPipeline(p.pipeline)
		pass.SetBindGroup(0, b.group, nil)
		pass.Dispatch((w+7)/8, (h+7)/8, 1)
		pass.End()
	})
}

func packFloats(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func unpackFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func packParams(w, h, sw, sh int) []byte {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint32(out[0:], uint32(w))   //nolint:gosec // dimensions are validated
	binary.LittleEndian.PutUint32(out[4:], uint32(h))   //nolint:gosec // dimensions are validated
	binary.LittleEndian.PutUint32(out[8:], uint32(sw))  //nolint:gosec // dimensions are validated
	binary.LittleEndian.PutUint32(out[12:], uint32(sh)) //nolint:gosec // dimensions are validated
	return out
}
