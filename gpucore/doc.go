// Package gpucore defines the device boundary petal submits work through.
//
// A [Device] owns render targets and compiled programs and runs one
// dispatch at a time per call. The engine never sees backend handles: it
// works with opaque [ResourceID] and [ProgramID] values, and each
// implementation keeps the mapping to its own objects.
//
// Two implementations ship with petal:
//   - backend/software evaluates programs on the CPU
//   - backend/wgpu runs WGSL compute shaders through gogpu/wgpu HAL
//
// Both sit behind the same interface:
//
//	+-----------+      +-----------------+
//	|  render   | ---> |  gpucore.Device |
//	| (Executor)|      +--------+--------+
//	+-----------+               |
//	              +-------------+-------------+
//	              |                           |
//	     +--------v--------+        +---------v--------+
//	     | backend/software|        |   backend/wgpu   |
//	     |   (CPU, tests)  |        | (hal.Device, SPIR-V)|
//	     +-----------------+        +------------------+
//
// # Programs
//
// A [ProgramSource] describes a pass: its kind, the ordered stages fused
// into it, the alpha convention of each input and the storage format of
// the output. Two sources with equal [ProgramKey] compile to the same
// program and differ only in the uniforms passed with each [Dispatch].
//
// # Errors
//
// Implementations report resource exhaustion with [ErrOutOfMemory] and an
// unrecoverable device with [ErrDeviceLost], wrapped as needed.
package gpucore
