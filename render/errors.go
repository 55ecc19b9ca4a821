// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"errors"
	"fmt"

	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/graph"
)

// Sentinel errors for plan execution.
var (
	// ErrMissingLeaf is returned when a leaf of the plan has no bound image.
	ErrMissingLeaf = errors.New("render: missing leaf image")

	// ErrLeafMismatch is returned when a bound image does not match the
	// leaf's descriptor.
	ErrLeafMismatch = errors.New("render: leaf image does not match descriptor")

	// ErrPlanConsumed is returned when a plan is run a second time.
	ErrPlanConsumed = errors.New("render: plan already ran")
)

// DeviceLostError reports that the device became unusable during an
// invocation. It matches gpucore.ErrDeviceLost.
type DeviceLostError struct {
	// Op names the step that observed the loss.
	Op  string
	Err error
}

func (e *DeviceLostError) Error() string {
	return fmt.Sprintf("render: device lost during %s: %v", e.Op, e.Err)
}

// Unwrap returns the device error.
func (e *DeviceLostError) Unwrap() error { return e.Err }

// Is reports whether target is gpucore.ErrDeviceLost.
func (e *DeviceLostError) Is(target error) bool { return target == gpucore.ErrDeviceLost }

// OutOfMemoryError reports a step that exhausted device memory even after
// the idle pool was trimmed. It matches gpucore.ErrOutOfMemory.
type OutOfMemoryError struct {
	Op string
	// Target is the descriptor being allocated, zero for dispatches.
	Target gpucore.TargetDescriptor
	Err    error
}

func (e *OutOfMemoryError) Error() string {
	if e.Target.Width > 0 {
		return fmt.Sprintf("render: out of memory during %s (%v): %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("render: out of memory during %s: %v", e.Op, e.Err)
}

// Unwrap returns the device error.
func (e *OutOfMemoryError) Unwrap() error { return e.Err }

// Is reports whether target is gpucore.ErrOutOfMemory.
func (e *OutOfMemoryError) Is(target error) bool { return target == gpucore.ErrOutOfMemory }

func missingLeaf(id graph.NodeID) error {
	return fmt.Errorf("%w: %v", ErrMissingLeaf, id)
}
