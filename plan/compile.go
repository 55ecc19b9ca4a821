package plan

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gogpu/petal/coalesce"
	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/graph"
	"github.com/gogpu/petal/internal/logx"
	"github.com/gogpu/petal/pixel"
)

// ErrNoOutputs is returned by Compile when no outputs are requested.
var ErrNoOutputs = errors.New("plan: no outputs requested")

// Compile builds the execution plan computing outputs.
func Compile(ctx context.Context, g *graph.Graph, outputs []graph.NodeID, opts ...Option) (*Plan, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	_, span := o.tracer.Start(ctx, "plan.Compile", trace.WithAttributes(
		attribute.Int("petal.outputs", len(outputs)),
		attribute.Bool("petal.coalescing", o.coalesce.Enabled),
	))
	defer span.End()

	p, err := compile(g, outputs, o)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("petal.nodes", p.Nodes),
		attribute.Int("petal.passes", len(p.Passes)),
		attribute.Int("petal.max_live", p.MaxLive),
	)
	logx.L().Debug("plan: compiled", "nodes", p.Nodes, "passes", len(p.Passes), "max_live", p.MaxLive)
	return p, nil
}

func compile(g *graph.Graph, outputs []graph.NodeID, o options) (*Plan, error) {
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}

	nodes, err := collect(g, outputs)
	if err != nil {
		return nil, err
	}
	order, err := TopoSort(outputs, func(id graph.NodeID) []graph.NodeID {
		return nodes[id].Inputs()
	})
	if err != nil {
		return nil, err
	}

	canon := dedupe(order, nodes)
	canonOf := func(id graph.NodeID) graph.NodeID { return canon[id] }

	info := coalesce.Info{
		Uses:    make(map[graph.NodeID]int),
		Outputs: make(map[graph.NodeID]bool),
		Canon:   canonOf,
	}
	var kept []*graph.Node
	for _, id := range order {
		if canon[id] != id {
			continue
		}
		n := nodes[id]
		kept = append(kept, n)
		for i := 0; i < n.NumInputs(); i++ {
			info.Uses[canon[n.Input(i)]]++
		}
	}
	for _, out := range outputs {
		info.Outputs[canon[out]] = true
	}

	groups := coalesce.Groups(kept, info, o.coalesce)

	b := builder{plan: &Plan{Nodes: len(kept)}, slotOf: make(map[graph.NodeID]SlotID)}
	for _, n := range kept {
		if n.IsLeaf() {
			id := b.addSlot(n.ID(), n.Descriptor(), SlotLeaf)
			b.plan.Leaves = append(b.plan.Leaves, Binding{Node: n.ID(), Slot: id})
		}
	}
	for _, gr := range groups {
		b.addPass(gr, info.Outputs[gr.Tail().ID()])
	}
	for _, out := range outputs {
		b.plan.Outputs = append(b.plan.Outputs, Binding{Node: out, Slot: b.slotOf[canon[out]]})
	}
	b.liveness()
	return b.plan, nil
}

// collect looks up every node reachable from outputs.
func collect(g *graph.Graph, outputs []graph.NodeID) (map[graph.NodeID]*graph.Node, error) {
	nodes := make(map[graph.NodeID]*graph.Node)
	stack := append([]graph.NodeID(nil), outputs...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := nodes[id]; ok {
			continue
		}
		n, err := g.Lookup(id)
		if err != nil {
			return nil, err
		}
		if !n.IsDefined() {
			return nil, fmt.Errorf("%w: %v", graph.ErrUndefined, id)
		}
		nodes[id] = n
		stack = append(stack, n.Inputs()...)
	}
	return nodes, nil
}

// dedupe maps every node to the first structurally equal node in order.
func dedupe(order []graph.NodeID, nodes map[graph.NodeID]*graph.Node) map[graph.NodeID]graph.NodeID {
	canon := make(map[graph.NodeID]graph.NodeID, len(order))
	buckets := make(map[graph.Identity][]*graph.Node)
	canonOf := func(id graph.NodeID) graph.NodeID { return canon[id] }

	for _, id := range order {
		n := nodes[id]
		canon[id] = id
		for _, c := range buckets[n.Identity()] {
			if graph.Equal(n, c, canonOf) {
				canon[id] = c.ID()
				break
			}
		}
		if canon[id] == id {
			buckets[n.Identity()] = append(buckets[n.Identity()], n)
		}
	}
	return canon
}

type builder struct {
	plan   *Plan
	slotOf map[graph.NodeID]SlotID
}

func (b *builder) addSlot(node graph.NodeID, desc pixel.Descriptor, role SlotRole) SlotID {
	id := SlotID(len(b.plan.Slots))
	b.plan.Slots = append(b.plan.Slots, Slot{ID: id, Node: node, Desc: desc, Role: role})
	b.slotOf[node] = id
	return id
}

func (b *builder) addPass(gr *coalesce.Group, isOutput bool) {
	tail := gr.Tail()
	src := gpucore.ProgramSource{
		Kind:   gr.Kind(),
		Format: tail.Descriptor().Format,
	}
	pass := Pass{Index: len(b.plan.Passes)}
	for _, n := range gr.Nodes {
		pass.Nodes = append(pass.Nodes, n.ID())
		src.Stages = append(src.Stages, gpucore.Stage{
			Code:  n.Op().Code(),
			Extra: n.Op().Arity() - 1,
			Alpha: n.Descriptor().Alpha,
		})
		pass.Uniforms = append(pass.Uniforms, n.Op().Uniforms())
	}
	for _, in := range gr.Inputs() {
		slot := b.slotOf[in]
		pass.Inputs = append(pass.Inputs, slot)
		src.Inputs = append(src.Inputs, b.plan.Slots[slot].Desc.Alpha)
	}
	pass.Program = src

	role := SlotIntermediate
	if isOutput {
		role = SlotOutput
	}
	pass.Output = b.addSlot(tail.ID(), tail.Descriptor(), role)
	b.plan.Passes = append(b.plan.Passes, pass)
}

// liveness fills the release lists and simulates the live slot peak.
func (b *builder) liveness() {
	p := b.plan
	lastUse := make(map[SlotID]int)
	for i := range p.Passes {
		for _, s := range p.Passes[i].Inputs {
			lastUse[s] = i
		}
	}
	for i := range p.Slots {
		s := &p.Slots[i]
		if s.Role == SlotOutput {
			continue
		}
		if last, ok := lastUse[s.ID]; ok {
			p.Passes[last].Release = append(p.Passes[last].Release, s.ID)
		}
	}

	live := make(map[SlotID]bool)
	for i := range p.Passes {
		ps := &p.Passes[i]
		for _, s := range ps.Inputs {
			live[s] = true
		}
		live[ps.Output] = true
		if len(live) > p.MaxLive {
			p.MaxLive = len(live)
		}
		for _, s := range ps.Release {
			delete(live, s)
		}
	}
}
