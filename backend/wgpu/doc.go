// Package wgpu implements gpucore.Device with compute shaders on the
// gogpu/wgpu HAL.
//
// Every render target is a storage buffer of vec4<f32> pixels holding the
// stored channel values of the target's format. A program is the WGSL
// produced by the shader package, compiled to SPIR-V with naga and built
// into a compute pipeline with one bind group:
//
//	binding 0          Params uniform (output and source extent)
//	binding 1          stage uniforms (read-only storage)
//	binding 2..2+n-1   input targets (read-only storage)
//	binding 2+n        output target (storage)
//
// Each Dispatch records one compute pass, submits it and waits on a
// fence, so the device serializes submissions and reports
// ConcurrentSubmission false.
//
// # Device sharing
//
// New opens its own Vulkan device. NewFromProvider shares the device of a
// host application through gpucontext.DeviceProvider; the provider must
// also expose HalDevice() and HalQueue().
package wgpu
