package petal

import (
	"errors"

	"github.com/gogpu/petal/cache"
	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/graph"
	"github.com/gogpu/petal/op"
	"github.com/gogpu/petal/plan"
	"github.com/gogpu/petal/render"
)

// Sentinels of the sub-packages, re-exported so callers can match every
// failure with errors.Is against this package alone.
var (
	ErrGraphCycle         = graph.ErrGraphCycle
	ErrArityMismatch      = graph.ErrArityMismatch
	ErrUnknownNode        = graph.ErrUnknownNode
	ErrUndefined          = graph.ErrUndefined
	ErrInvalidParameter   = op.ErrInvalidParameter
	ErrCycleDetected      = plan.ErrCycleDetected
	ErrNoOutputs          = plan.ErrNoOutputs
	ErrProgramCompilation = cache.ErrProgramCompilation
	ErrDeviceLost         = gpucore.ErrDeviceLost
	ErrOutOfMemory        = gpucore.ErrOutOfMemory
	ErrMissingLeaf        = render.ErrMissingLeaf
	ErrLeafMismatch       = render.ErrLeafMismatch
	ErrPlanConsumed       = render.ErrPlanConsumed
)

// ErrClosed is returned by a Context after Close.
var ErrClosed = errors.New("petal: context closed")
