//go:build !nogpu

package wgpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/shader"
)

// pipeline is a compiled program.
type pipeline struct {
	src        gpucore.ProgramSource
	module     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

func (p *pipeline) destroy(dev hal.Device) {
	if p.pipeline != nil {
		dev.DestroyComputePipeline(p.pipeline)
	}
	if p.pipeLayout != nil {
		dev.DestroyPipelineLayout(p.pipeLayout)
	}
	if p.bindLayout != nil {
		dev.DestroyBindGroupLayout(p.bindLayout)
	}
	if p.module != nil {
		dev.DestroyShaderModule(p.module)
	}
}

// compileSPIRV generates WGSL for src and compiles it to SPIR-V words.
func compileSPIRV(src gpucore.ProgramSource) ([]uint32, error) {
	wgsl, err := shader.Generate(src)
	if err != nil {
		return nil, err
	}
	spirvBytes, err := naga.Compile(wgsl)
	if err != nil {
		return nil, fmt.Errorf("wgpu: naga: %w", err)
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return words, nil
}

// Compile implements gpucore.Device.
func (d *Device) Compile(src gpucore.ProgramSource) (gpucore.ProgramID, error) {
	words, err := compileSPIRV(src)
	if err != nil {
		return gpucore.InvalidID, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return gpucore.InvalidID, err
	}

	p := &pipeline{src: src}
	if err := d.buildLocked(p, words); err != nil {
		p.destroy(d.device)
		return gpucore.InvalidID, err
	}
	d.next++
	id := gpucore.ProgramID(d.next)
	d.programs[id] = p
	d.logger.Debug("wgpu: program compiled", "key", src.Key().String(), "spirv_words", len(words))
	return id, nil
}

func (d *Device) buildLocked(p *pipeline, words []uint32) error {
	label := p.src.Key().String()
	var err error
	p.module, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create shader module: %w", err)
	}

	entries := []gputypes.BindGroupLayoutEntry{
		{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform, MinBindingSize: shader.ParamsSize}},
		{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
	}
	n := p.src.NumInputs()
	for i := 0; i < n; i++ {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding: uint32(2 + i), Visibility: gputypes.ShaderStageCompute, //nolint:gosec // small
			Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		})
	}
	entries = append(entries, gputypes.BindGroupLayoutEntry{
		Binding: uint32(shader.OutputBinding(p.src)), Visibility: gputypes.ShaderStageCompute, //nolint:gosec // small
		Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
	})

	p.bindLayout, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{Label: label, Entries: entries})
	if err != nil {
		return fmt.Errorf("wgpu: create bind group layout: %w", err)
	}
	p.pipeLayout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: label, BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create pipeline layout: %w", err)
	}
	p.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: label, Layout: p.pipeLayout,
		Compute: hal.ComputeState{Module: p.module, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create compute pipeline: %w", err)
	}
	return nil
}

// DestroyProgram implements gpucore.Device.
func (d *Device) DestroyProgram(id gpucore.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.programs[id]
	if !ok || d.device == nil {
		return
	}
	p.destroy(d.device)
	delete(d.programs, id)
}

// binding holds the per-dispatch buffers and bind group.
type binding struct {
	params   hal.Buffer
	uniforms hal.Buffer
	group    hal.BindGroup
}

func (b *binding) destroy(dev hal.Device) {
	if b.group != nil {
		dev.DestroyBindGroup(b.group)
	}
	if b.uniforms != nil {
		dev.DestroyBuffer(b.uniforms)
	}
	if b.params != nil {
		dev.DestroyBuffer(b.params)
	}
}

func (d *Device) bindLocked(p *pipeline, ins []*buffer, out *buffer, stages [][]float32) (*binding, error) {
	b := &binding{}
	fail := func(what string, err error) (*binding, error) {
		b.destroy(d.device)
		return nil, fmt.Errorf("wgpu: %s: %v: %w", what, err, gpucore.ErrOutOfMemory)
	}

	var err error
	b.params, err = d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "petal_params", Size: shader.ParamsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fail("create params buffer", err)
	}
	d.queue.WriteBuffer(b.params, 0, packParams(out.desc.Width, out.desc.Height, ins[0].desc.Width, ins[0].desc.Height))

	uniforms := packFloats(shader.PackUniforms(stages))
	b.uniforms, err = d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "petal_uniforms", Size: uint64(len(uniforms)),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fail("create uniform buffer", err)
	}
	d.queue.WriteBuffer(b.uniforms, 0, uniforms)

	entries := []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.BufferBinding{Buffer: b.params.NativeHandle(), Offset: 0, Size: shader.ParamsSize}},
		{Binding: 1, Resource: gputypes.BufferBinding{Buffer: b.uniforms.NativeHandle(), Offset: 0, Size: uint64(len(uniforms))}},
	}
	for i, in := range ins {
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(2 + i), //nolint:gosec // small
			Resource: gputypes.BufferBinding{Buffer: in.buf.NativeHandle(), Offset: 0, Size: in.size},
		})
	}
	entries = append(entries, gputypes.BindGroupEntry{
		Binding:  uint32(2 + len(ins)), //nolint:gosec // small
		Resource: gputypes.BufferBinding{Buffer: out.buf.NativeHandle(), Offset: 0, Size: out.size},
	})

	b.group, err = d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "petal_bind", Layout: p.bindLayout, Entries: entries,
	})
	if err != nil {
		b.destroy(d.device)
		return nil, fmt.Errorf("wgpu: create bind group: %w", err)
	}
	return b, nil
}
