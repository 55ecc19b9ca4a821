package gpucore

import (
	"fmt"
	"strings"

	"github.com/gogpu/petal/op"
	"github.com/gogpu/petal/pixel"
)

// Stage is one operation fused into a program.
type Stage struct {
	// Code is the operation's program code.
	Code string

	// Extra is the number of secondary inputs the stage reads.
	Extra int

	// Alpha is the alpha convention of the stage's result. The result is
	// quantized to the program's Format in this convention before the next
	// stage reads it.
	Alpha pixel.AlphaType
}

// ProgramSource describes the program of one pass.
type ProgramSource struct {
	// Kind is KindBlend if any stage blends, KindPixel for other fused
	// chains, and the operation's own kind for single-stage passes.
	Kind op.Kind

	// Stages lists the fused operations in evaluation order.
	Stages []Stage

	// Inputs holds the alpha convention of each bound input, in dispatch
	// order.
	Inputs []pixel.AlphaType

	// Format is the storage format of the output and of every fused
	// intermediate.
	Format pixel.Format
}

// NumInputs returns the number of inputs the program binds.
func (s ProgramSource) NumInputs() int {
	n := 1
	for _, st := range s.Stages {
		n += st.Extra
	}
	return n
}

// Alpha returns the alpha convention of the program's output.
func (s ProgramSource) Alpha() pixel.AlphaType {
	if len(s.Stages) == 0 {
		return pixel.AlphaStraight
	}
	return s.Stages[len(s.Stages)-1].Alpha
}

// Validate checks that the source is well formed.
func (s ProgramSource) Validate() error {
	if len(s.Stages) == 0 {
		return fmt.Errorf("gpucore: program has no stages")
	}
	if !s.Format.IsValid() {
		return fmt.Errorf("gpucore: program format %v", s.Format)
	}
	if len(s.Inputs) != s.NumInputs() {
		return fmt.Errorf("gpucore: program binds %d inputs, stages read %d", len(s.Inputs), s.NumInputs())
	}
	if len(s.Stages) > 1 && !s.Kind.Coalescable() {
		return fmt.Errorf("gpucore: %v program cannot fuse %d stages", s.Kind, len(s.Stages))
	}
	return nil
}

// Key derives the cache key of the program.
func (s ProgramSource) Key() ProgramKey {
	var b strings.Builder
	for i, in := range s.Inputs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(in.String())
	}
	b.WriteString(">")
	for i, st := range s.Stages {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(st.Code)
		b.WriteByte(':')
		b.WriteString(st.Alpha.String())
	}
	return ProgramKey{Kind: s.Kind, Sequence: b.String(), Format: s.Format}
}

// ProgramKey identifies a compiled program. It is comparable.
type ProgramKey struct {
	Kind     op.Kind
	Sequence string
	Format   pixel.Format
}

func (k ProgramKey) String() string {
	return fmt.Sprintf("%v[%s]@%v", k.Kind, k.Sequence, k.Format)
}
