// Package coalesce merges chains of pointwise operations into single
// passes.
//
// The rule is conservative: a node joins the pass that
// produces its primary input only if that input has no other consumer and
// is not requested as an output. Every fused intermediate is round-tripped
// through its storage format by the program, so a coalesced plan produces
// exactly the pixels of an uncoalesced one.
package coalesce

import (
	"slices"

	"github.com/gogpu/petal/graph"
	"github.com/gogpu/petal/op"
)

// DefaultMaxChain bounds the number of stages fused into one pass.
const DefaultMaxChain = 16

// Options controls coalescing.
type Options struct {
	// Enabled turns coalescing on. When false every node is its own pass.
	Enabled bool

	// MaxChain is the longest chain fused into one pass. Zero means
	// DefaultMaxChain.
	MaxChain int
}

// Info describes the compiled subgraph around the nodes being grouped.
type Info struct {
	// Uses counts the consuming edges of each node. A node read twice by
	// one blend counts twice.
	Uses map[graph.NodeID]int

	// Outputs marks the requested outputs.
	Outputs map[graph.NodeID]bool

	// Canon maps an input handle to the node that represents it after
	// common-subexpression elimination. nil means the identity.
	Canon func(graph.NodeID) graph.NodeID
}

func (in Info) canon(id graph.NodeID) graph.NodeID {
	if in.Canon == nil {
		return id
	}
	return in.Canon(id)
}

// Group is a run of nodes evaluated by one pass. Nodes[i+1] reads
// Nodes[i] as its primary input.
type Group struct {
	Nodes []*graph.Node

	// inputs holds the canonical input handles in dispatch order.
	inputs []graph.NodeID
}

// Head returns the first node of the group.
func (g *Group) Head() *graph.Node { return g.Nodes[0] }

// Tail returns the node whose result the pass stores.
func (g *Group) Tail() *graph.Node { return g.Nodes[len(g.Nodes)-1] }

// Len returns the number of fused stages.
func (g *Group) Len() int { return len(g.Nodes) }

// Kind returns KindBlend if any stage blends, KindPixel for other fused
// chains and the single operation's own kind otherwise.
func (g *Group) Kind() op.Kind {
	if len(g.Nodes) == 1 {
		return g.Nodes[0].Op().Kind()
	}
	for _, n := range g.Nodes {
		if n.Op().Kind() == op.KindBlend {
			return op.KindBlend
		}
	}
	return op.KindPixel
}

// Inputs returns the handles the pass binds: the head's primary input,
// then the secondary inputs of each stage in stage order.
func (g *Group) Inputs() []graph.NodeID { return slices.Clone(g.inputs) }

// Groups partitions order into passes. order must be topologically sorted
// and hold only canonical nodes; leaves are skipped. Groups are returned
// in the order of their tails, which is a valid execution order.
func Groups(order []*graph.Node, info Info, opts Options) []*Group {
	maxChain := opts.MaxChain
	if maxChain <= 0 {
		maxChain = DefaultMaxChain
	}

	var (
		groups  []*Group
		tailPos []int
		byTail  = make(map[graph.NodeID]int)
		nodes   = make(map[graph.NodeID]*graph.Node, len(order))
	)
	for _, n := range order {
		nodes[n.ID()] = n
	}

	for pos, n := range order {
		if n.IsLeaf() {
			continue
		}
		primary := info.canon(n.Input(0))

		if gi, ok := byTail[primary]; ok && opts.Enabled &&
			canJoin(n, nodes[primary], info) && groups[gi].Len() < maxChain {
			g := groups[gi]
			g.Nodes = append(g.Nodes, n)
			for i := 1; i < n.NumInputs(); i++ {
				g.inputs = append(g.inputs, info.canon(n.Input(i)))
			}
			delete(byTail, primary)
			byTail[n.ID()] = gi
			tailPos[gi] = pos
			continue
		}

		g := &Group{Nodes: []*graph.Node{n}}
		for i := 0; i < n.NumInputs(); i++ {
			g.inputs = append(g.inputs, info.canon(n.Input(i)))
		}
		byTail[n.ID()] = len(groups)
		groups = append(groups, g)
		tailPos = append(tailPos, pos)
	}

	idx := make([]int, len(groups))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int { return tailPos[a] - tailPos[b] })
	out := make([]*Group, len(groups))
	for i, gi := range idx {
		out[i] = groups[gi]
	}
	return out
}

// canJoin reports whether n may be fused after p, the current tail of a
// group.
func canJoin(n, p *graph.Node, info Info) bool {
	if p == nil || p.IsLeaf() {
		return false
	}
	if !n.Op().Kind().Coalescable() || !p.Op().Kind().Coalescable() {
		return false
	}
	if info.Uses[p.ID()] != 1 || info.Outputs[p.ID()] {
		return false
	}
	return n.Descriptor().Format == p.Descriptor().Format
}
