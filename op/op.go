// Package op defines the closed set of image operations petal can place in
// a graph.
//
// Every operation belongs to one of four kinds. Pixel and blend operations
// are pointwise and may share a pass with neighbours; resample and compute
// operations always get a pass of their own. The interface is sealed so the
// coalescer and the backends can switch over kinds exhaustively.
package op

import (
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/petal/pixel"
)

// Kind is the capability class of an operation.
type Kind uint8

const (
	// KindPixel is a single-input pointwise shader.
	KindPixel Kind = iota

	// KindBlend is a multi-input pointwise shader. Input 0 is the backdrop.
	KindBlend

	// KindResample is a geometric resampling of one input.
	KindResample

	// KindCompute is a neighbourhood kernel over one input.
	KindCompute
)

// Coalescable reports whether operations of this kind may share a pass.
func (k Kind) Coalescable() bool {
	return k == KindPixel || k == KindBlend
}

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindPixel:
		return "pixel"
	case KindBlend:
		return "blend"
	case KindResample:
		return "resample"
	case KindCompute:
		return "compute"
	default:
		return "unknown"
	}
}

// Operation is an image operation with its parameters bound.
//
// Operation values are immutable. Code identifies the program that
// evaluates the operation; two operations with equal Code share a compiled
// program and differ only in Uniforms.
type Operation interface {
	// Kind returns the capability class.
	Kind() Kind

	// Code returns the program code, e.g. "brightness" or "blend.multiply".
	Code() string

	// Arity returns the number of image inputs.
	Arity() int

	// Validate checks parameters against the operation's domain.
	Validate() error

	// Output returns the output descriptor for the given input descriptors.
	// len(inputs) equals Arity.
	Output(inputs []pixel.Descriptor) (pixel.Descriptor, error)

	// Uniforms returns the packed parameter values passed to the program.
	Uniforms() []float32

	operation()
}

// ErrInvalidParameter is matched by every ParameterError.
var ErrInvalidParameter = errors.New("op: invalid parameter")

// ParameterError reports an operation parameter outside its domain.
type ParameterError struct {
	Op     string
	Param  string
	Value  any
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("op: %s: invalid %s %v: %s", e.Op, e.Param, e.Value, e.Reason)
}

// Is reports whether target is ErrInvalidParameter.
func (e *ParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

func paramErr(op, param string, value any, reason string) error {
	return &ParameterError{Op: op, Param: param, Value: value, Reason: reason}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func checkRange(op, param string, v, lo, hi float64) error {
	if !finite(v) || v < lo || v > hi {
		return paramErr(op, param, v, fmt.Sprintf("must be in [%g, %g]", lo, hi))
	}
	return nil
}

// primaryOutput returns the primary input's descriptor, as used by every
// operation that keeps the input shape.
func primaryOutput(inputs []pixel.Descriptor) pixel.Descriptor {
	return inputs[0]
}
