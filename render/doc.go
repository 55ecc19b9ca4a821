// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package render executes compiled plans on a device.
//
// An Executor walks the passes of a plan in order. Leaf images are
// uploaded the first time a pass reads them, intermediate targets come
// from the shared cache and go back to it as soon as their last reader
// has run, and requested outputs live in directly allocated targets that
// are read back once every pass has completed.
//
// # Failure handling
//
// An allocation or dispatch that fails with gpucore.ErrOutOfMemory trims
// the idle pool and is retried once. A second failure surfaces as an
// *OutOfMemoryError. A lost device surfaces as a *DeviceLostError and
// the executor refuses every later Run. Whatever the failure, every
// target the invocation holds is released before Run returns.
//
// The context is checked once, before the first pass. A plan that has
// started runs to completion or to its first error.
package render
