// Package plan compiles an image graph into an ordered, liveness
// annotated list of passes.
//
// Compile deduplicates structurally equal nodes, orders the remaining ones
// topologically, fuses pointwise chains with package coalesce and assigns
// every value a slot. A slot is released to the cache right after the
// last pass that reads it unless it holds a requested output.
package plan

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/graph"
	"github.com/gogpu/petal/pixel"
)

// SlotID indexes Plan.Slots.
type SlotID int

// SlotRole tells the executor where a slot's target comes from.
type SlotRole uint8

const (
	// SlotLeaf holds an uploaded input image.
	SlotLeaf SlotRole = iota

	// SlotIntermediate holds a pass result read by later passes. Its target
	// comes from the cache.
	SlotIntermediate

	// SlotOutput holds a requested result. Its target is allocated directly
	// and read back at the end.
	SlotOutput
)

func (r SlotRole) String() string {
	switch r {
	case SlotLeaf:
		return "leaf"
	case SlotIntermediate:
		return "intermediate"
	case SlotOutput:
		return "output"
	default:
		return "unknown"
	}
}

// Slot is a value produced or consumed by passes.
type Slot struct {
	ID   SlotID
	Node graph.NodeID
	Desc pixel.Descriptor
	Role SlotRole
}

// Target returns the descriptor of the render target backing the slot.
func (s Slot) Target() gpucore.TargetDescriptor {
	switch s.Role {
	case SlotLeaf:
		return gpucore.TargetFor(s.Desc, gpucore.UsageLeaf)
	case SlotOutput:
		return gpucore.TargetFor(s.Desc, gpucore.UsageOutput)
	default:
		return gpucore.TargetFor(s.Desc, gpucore.UsageIntermediate)
	}
}

// Pass is one dispatch.
type Pass struct {
	Index int

	// Nodes lists the fused graph nodes in stage order.
	Nodes []graph.NodeID

	// Inputs are the bound input slots in dispatch order.
	Inputs []SlotID

	// Output is the slot the pass writes.
	Output SlotID

	Program  gpucore.ProgramSource
	Uniforms [][]float32

	// Release lists the slots whose last reader is this pass.
	Release []SlotID
}

// Label returns the fused stage codes joined by '|'.
func (p *Pass) Label() string {
	codes := make([]string, len(p.Program.Stages))
	for i, st := range p.Program.Stages {
		codes[i] = st.Code
	}
	return strings.Join(codes, "|")
}

// Binding maps a graph node to the slot holding its value.
type Binding struct {
	Node graph.NodeID
	Slot SlotID
}

// Plan is a compiled graph. A plan belongs to one invocation: the
// executor claims it and refuses to run it twice.
type Plan struct {
	Passes []Pass
	Slots  []Slot

	// Leaves lists the leaf nodes the caller must bind, in node order.
	Leaves []Binding

	// Outputs lists the requested outputs in request order. Requests that
	// resolve to the same node share a slot.
	Outputs []Binding

	// MaxLive is the peak number of simultaneously live slots when the
	// passes run in order.
	MaxLive int

	// Nodes is the number of distinct nodes after deduplication.
	Nodes int

	claimed atomic.Bool
}

// Claim marks the plan as consumed. It reports false if it already was.
func (p *Plan) Claim() bool { return p.claimed.CompareAndSwap(false, true) }

// Claimed reports whether the plan has been consumed.
func (p *Plan) Claimed() bool { return p.claimed.Load() }

// Slot returns the slot with id.
func (p *Plan) Slot(id SlotID) Slot { return p.Slots[id] }

// String returns a human readable dump of the plan.
func (p *Plan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "plan: %d passes, %d slots, %d nodes, max live %d\n", len(p.Passes), len(p.Slots), p.Nodes, p.MaxLive)
	for _, s := range p.Slots {
		fmt.Fprintf(&b, "  s%d %-12s %v %v\n", s.ID, s.Role, s.Node, s.Desc)
	}
	for i := range p.Passes {
		ps := &p.Passes[i]
		fmt.Fprintf(&b, "  pass %d: %s %v -> s%d", ps.Index, ps.Label(), slotList(ps.Inputs), ps.Output)
		if len(ps.Release) > 0 {
			fmt.Fprintf(&b, " release %v", slotList(ps.Release))
		}
		b.WriteByte('\n')
	}
	for _, o := range p.Outputs {
		fmt.Fprintf(&b, "  output %v = s%d\n", o.Node, o.Slot)
	}
	return b.String()
}

func slotList(ids []SlotID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("s%d", id)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
