// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/gogpu/petal/cache"
	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/graph"
	"github.com/gogpu/petal/internal/logx"
	"github.com/gogpu/petal/pixel"
	"github.com/gogpu/petal/plan"
)

// Executor runs plans on one device, drawing targets and programs from a
// shared cache. It is safe for concurrent use if the device supports
// concurrent submission.
type Executor struct {
	dev    gpucore.Device
	cache  *cache.Cache
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
	inst   instruments

	lost atomic.Bool
}

// New creates an executor for dev. c must manage targets and programs of
// the same device.
func New(dev gpucore.Device, c *cache.Cache, opts ...Option) *Executor {
	e := &Executor{
		dev:    dev,
		cache:  c,
		logger: logx.L(),
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Lost reports whether the executor observed a device loss.
func (e *Executor) Lost() bool { return e.lost.Load() }

// Result holds the images produced by one Run.
type Result struct {
	// InvocationID identifies the run in logs and traces.
	InvocationID uuid.UUID

	// Images maps every requested output node to its image. Each entry is
	// a distinct image even when requests share a node.
	Images map[graph.NodeID]*pixel.Image

	// Passes is the number of passes dispatched.
	Passes int
}

// Image returns the image computed for id, or nil.
func (r *Result) Image(id graph.NodeID) *pixel.Image { return r.Images[id] }

// Run executes p with the given leaf images. The plan is consumed even if
// Run fails after it started; leaf validation and context errors leave
// it unclaimed.
func (e *Executor) Run(ctx context.Context, p *plan.Plan, leaves map[graph.NodeID]*pixel.Image) (*Result, error) {
	if e.lost.Load() {
		return nil, &DeviceLostError{Op: "run", Err: gpucore.ErrDeviceLost}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateLeaves(p, leaves); err != nil {
		return nil, err
	}
	if !p.Claim() {
		return nil, ErrPlanConsumed
	}

	e.inst.init(e.meter, e.logger)
	inv := &invocation{
		e:      e,
		p:      p,
		id:     uuid.New(),
		leaves: leaves,
		pooled: make(map[plan.SlotID]*cache.Resource),
		direct: make(map[plan.SlotID]gpucore.ResourceID),
	}

	ctx, span := e.tracer.Start(ctx, "render.Run", trace.WithAttributes(
		attribute.String("petal.invocation", inv.id.String()),
		attribute.Int("petal.passes", len(p.Passes)),
		attribute.Int("petal.slots", len(p.Slots)),
		attribute.Int("petal.outputs", len(p.Outputs)),
	))
	defer span.End()

	start := time.Now()
	images, err := inv.run(ctx)
	inv.releaseAll()
	e.inst.run(ctx, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debug("render: run failed", "invocation", inv.id, "error", err)
		return nil, err
	}

	e.logger.Debug("render: run complete", "invocation", inv.id,
		"passes", len(p.Passes), "duration", time.Since(start))
	return &Result{InvocationID: inv.id, Images: images, Passes: len(p.Passes)}, nil
}

func validateLeaves(p *plan.Plan, leaves map[graph.NodeID]*pixel.Image) error {
	for _, b := range p.Leaves {
		img := leaves[b.Node]
		if img == nil {
			return missingLeaf(b.Node)
		}
		want := p.Slot(b.Slot).Desc
		if got := img.Descriptor(); got != want {
			return fmt.Errorf("%w: %v bound %v, want %v", ErrLeafMismatch, b.Node, got, want)
		}
	}
	return nil
}

// invocation tracks the targets held by one Run.
type invocation struct {
	e      *Executor
	p      *plan.Plan
	id     uuid.UUID
	leaves map[graph.NodeID]*pixel.Image

	// pooled holds leaf and intermediate targets checked out of the cache,
	// direct holds output targets allocated on the device.
	pooled map[plan.SlotID]*cache.Resource
	direct map[plan.SlotID]gpucore.ResourceID
}

func (inv *invocation) run(ctx context.Context) (map[graph.NodeID]*pixel.Image, error) {
	for i := range inv.p.Passes {
		if err := inv.pass(ctx, &inv.p.Passes[i]); err != nil {
			return nil, err
		}
	}
	return inv.readback()
}

func (inv *invocation) pass(ctx context.Context, ps *plan.Pass) (err error) {
	e := inv.e
	label := ps.Label()
	ctx, span := e.tracer.Start(ctx, "render.Pass", trace.WithAttributes(
		attribute.Int("petal.pass", ps.Index),
		attribute.String("petal.program", label),
		attribute.Int("petal.stages", len(ps.Program.Stages)),
		attribute.Int("petal.inputs", len(ps.Inputs)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	start := time.Now()

	ins := make([]gpucore.ResourceID, len(ps.Inputs))
	for i, s := range ps.Inputs {
		id, err := inv.input(ctx, s)
		if err != nil {
			return err
		}
		ins[i] = id
	}
	out, err := inv.output(ctx, ps.Output)
	if err != nil {
		return err
	}

	var prog *cache.Program
	err = inv.retry(ctx, "compile "+label, gpucore.TargetDescriptor{}, func() error {
		var err error
		prog, err = e.cache.AcquireProgram(ps.Program)
		return err
	})
	if err != nil {
		return inv.fail("compile "+label, err)
	}

	desc := inv.p.Slot(ps.Output).Desc
	d := &gpucore.Dispatch{
		Label:    label,
		Program:  prog.ID(),
		Inputs:   ins,
		Output:   out,
		Width:    desc.Width,
		Height:   desc.Height,
		Uniforms: ps.Uniforms,
	}
	// The plan runs to completion once started.
	dctx := context.WithoutCancel(ctx)
	err = inv.retry(ctx, "dispatch "+label, gpucore.TargetDescriptor{}, func() error {
		return e.dev.Dispatch(dctx, d)
	})
	if err != nil {
		return inv.fail("dispatch "+label, err)
	}

	for _, s := range ps.Release {
		inv.release(s)
	}

	elapsed := time.Since(start)
	e.inst.pass(ctx, label, elapsed)
	e.logger.Debug("render: pass", "invocation", inv.id, "index", ps.Index,
		"program", label, "duration", elapsed)
	return nil
}

// input returns the target of slot s, uploading the leaf image the first
// time a leaf slot is read.
func (inv *invocation) input(ctx context.Context, s plan.SlotID) (gpucore.ResourceID, error) {
	if id, ok := inv.held(s); ok {
		return id, nil
	}
	slot := inv.p.Slot(s)
	if slot.Role != plan.SlotLeaf {
		return 0, fmt.Errorf("render: slot s%d read before it was written", s)
	}

	r, err := inv.acquire(ctx, slot)
	if err != nil {
		return 0, err
	}
	if err := inv.e.dev.Upload(r.ID(), inv.leaves[slot.Node]); err != nil {
		return 0, inv.fail(fmt.Sprintf("upload %v", slot.Node), err)
	}
	return r.ID(), nil
}

// output returns a fresh target for the slot written by a pass.
func (inv *invocation) output(ctx context.Context, s plan.SlotID) (gpucore.ResourceID, error) {
	if _, ok := inv.held(s); ok {
		return 0, fmt.Errorf("render: slot s%d written twice", s)
	}
	slot := inv.p.Slot(s)
	if slot.Role != plan.SlotOutput {
		r, err := inv.acquire(ctx, slot)
		if err != nil {
			return 0, err
		}
		return r.ID(), nil
	}

	desc := slot.Target()
	var id gpucore.ResourceID
	err := inv.retry(ctx, "allocate", desc, func() error {
		var err error
		id, err = inv.e.dev.Allocate(desc)
		return err
	})
	if err != nil {
		return 0, inv.fail("allocate", err)
	}
	inv.direct[s] = id
	return id, nil
}

func (inv *invocation) acquire(ctx context.Context, slot plan.Slot) (*cache.Resource, error) {
	desc := slot.Target()
	var r *cache.Resource
	err := inv.retry(ctx, "acquire", desc, func() error {
		var err error
		r, err = inv.e.cache.Acquire(desc)
		return err
	})
	if err != nil {
		return nil, inv.fail("acquire", err)
	}
	inv.pooled[slot.ID] = r
	return r, nil
}

func (inv *invocation) held(s plan.SlotID) (gpucore.ResourceID, bool) {
	if r, ok := inv.pooled[s]; ok {
		return r.ID(), true
	}
	id, ok := inv.direct[s]
	return id, ok
}

// retry runs f, trimming the idle pool and running it once more if it
// fails with gpucore.ErrOutOfMemory.
func (inv *invocation) retry(ctx context.Context, op string, desc gpucore.TargetDescriptor, f func() error) error {
	err := f()
	if !errors.Is(err, gpucore.ErrOutOfMemory) {
		return err
	}
	n := inv.e.cache.Trim()
	inv.e.inst.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("petal.op", op)))
	inv.e.logger.Warn("render: out of memory, retrying after trim",
		"invocation", inv.id, "op", op, "evicted", n)

	if err = f(); errors.Is(err, gpucore.ErrOutOfMemory) {
		return &OutOfMemoryError{Op: op, Target: desc, Err: err}
	}
	return err
}

// fail turns a device error into the error Run reports.
func (inv *invocation) fail(op string, err error) error {
	var (
		lost *DeviceLostError
		oom  *OutOfMemoryError
	)
	switch {
	case errors.As(err, &lost), errors.As(err, &oom):
		return err
	case errors.Is(err, gpucore.ErrDeviceLost):
		if inv.e.lost.CompareAndSwap(false, true) {
			inv.e.logger.Warn("render: device lost", "invocation", inv.id, "op", op, "error", err)
		}
		return &DeviceLostError{Op: op, Err: err}
	case errors.Is(err, gpucore.ErrOutOfMemory):
		return &OutOfMemoryError{Op: op, Err: err}
	}
	return fmt.Errorf("render: %s: %w", op, err)
}

func (inv *invocation) release(s plan.SlotID) {
	r, ok := inv.pooled[s]
	if !ok {
		return
	}
	delete(inv.pooled, s)
	if err := inv.e.cache.Release(r); err != nil {
		inv.e.logger.Warn("render: release failed", "slot", int(s), "error", err)
	}
}

// releaseAll returns every pooled target to the cache and frees every
// output target.
func (inv *invocation) releaseAll() {
	for s := range inv.pooled {
		inv.release(s)
	}
	for s, id := range inv.direct {
		inv.e.dev.Free(id)
		delete(inv.direct, s)
	}
}

func (inv *invocation) readback() (map[graph.NodeID]*pixel.Image, error) {
	images := make(map[graph.NodeID]*pixel.Image, len(inv.p.Outputs))
	bySlot := make(map[plan.SlotID]*pixel.Image, len(inv.p.Outputs))
	for _, b := range inv.p.Outputs {
		if img, ok := bySlot[b.Slot]; ok {
			images[b.Node] = img.Clone()
			continue
		}
		slot := inv.p.Slot(b.Slot)

		var img *pixel.Image
		if slot.Role == plan.SlotLeaf {
			img = inv.leaves[slot.Node].Convert(slot.Desc.Format, slot.Desc.Alpha)
		} else if id, ok := inv.held(b.Slot); ok {
			img = pixel.NewImage(slot.Desc)
			if err := inv.e.dev.Readback(id, img); err != nil {
				return nil, inv.fail(fmt.Sprintf("readback %v", b.Node), err)
			}
		} else {
			return nil, fmt.Errorf("render: output %v was never written", b.Node)
		}
		bySlot[b.Slot] = img
		images[b.Node] = img
	}
	return images, nil
}

// errorKind names the failure class of err for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, gpucore.ErrDeviceLost):
		return "device_lost"
	case errors.Is(err, gpucore.ErrOutOfMemory):
		return "out_of_memory"
	case errors.Is(err, cache.ErrProgramCompilation):
		return "compile"
	}
	return "other"
}
