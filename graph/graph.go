// Package graph holds the image node DAG.
//
// A Graph is an append-only arena. Nodes are addressed by NodeID handles
// and store the handles of their inputs, so sharing an intermediate result
// between several consumers needs no reference counting. A node never
// changes once it is defined; its Identity is a structural hash that lets
// the compiler recognise equal subgraphs.
//
// Construction validates arity, parameters and input shapes immediately
// and never touches a device.
package graph

import (
	"fmt"
	"sync"

	"github.com/gogpu/petal/op"
	"github.com/gogpu/petal/pixel"
)

// NodeID is a stable handle to a node within one Graph.
type NodeID uint32

// InvalidNode is never returned for a valid node.
const InvalidNode NodeID = 0

func (id NodeID) String() string { return fmt.Sprintf("n%d", uint32(id)) }

type nodeState uint8

const (
	stateLeaf nodeState = iota
	stateDeclared
	stateDefined
)

// Node is an immutable image node.
type Node struct {
	id       NodeID
	state    nodeState
	op       op.Operation
	inputs   []NodeID
	desc     pixel.Descriptor
	identity Identity
	depth    int
	// forward is set when a placeholder was reachable at definition time.
	forward bool
}

// ID returns the node handle.
func (n *Node) ID() NodeID { return n.id }

// Op returns the operation, or nil for leaves and undefined placeholders.
func (n *Node) Op() op.Operation { return n.op }

// NumInputs returns the number of inputs.
func (n *Node) NumInputs() int { return len(n.inputs) }

// Input returns input i.
func (n *Node) Input(i int) NodeID { return n.inputs[i] }

// Inputs returns a copy of the input handles.
func (n *Node) Inputs() []NodeID { return append([]NodeID(nil), n.inputs...) }

// Descriptor returns the output descriptor.
func (n *Node) Descriptor() pixel.Descriptor { return n.desc }

// Identity returns the structural hash.
func (n *Node) Identity() Identity { return n.identity }

// Depth returns the longest path to a leaf or placeholder.
func (n *Node) Depth() int { return n.depth }

// IsLeaf reports whether the node wraps an externally supplied image.
func (n *Node) IsLeaf() bool { return n.state == stateLeaf }

// IsDefined reports whether the node can be evaluated.
func (n *Node) IsDefined() bool { return n.state != stateDeclared }

// Label returns a short human readable description.
func (n *Node) Label() string {
	switch n.state {
	case stateLeaf:
		return "leaf"
	case stateDeclared:
		return "declared"
	default:
		return n.op.Code()
	}
}

// Graph is an arena of image nodes. It is safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	nodes []*Node // index 0 is unused so the zero NodeID stays invalid
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make([]*Node, 1, 64)}
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes) - 1
}

// Leaf adds a leaf node whose image is bound at render time.
func (g *Graph) Leaf(desc pixel.Descriptor) (NodeID, error) {
	if err := desc.Validate(); err != nil {
		return InvalidNode, fmt.Errorf("graph: leaf: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, &Node{
		id:       id,
		state:    stateLeaf,
		desc:     desc,
		identity: leafIdentity(id, desc),
	})
	return id, nil
}

// Node adds a composite node applying o to inputs.
func (g *Graph) Node(o op.Operation, inputs ...NodeID) (NodeID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.build(InvalidNode, o, inputs)
	if err != nil {
		return InvalidNode, err
	}
	n.id = NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	return n.id, nil
}

// MustNode is like Node but panics on error. Intended for tests and
// statically known graphs.
func (g *Graph) MustNode(o op.Operation, inputs ...NodeID) NodeID {
	id, err := g.Node(o, inputs...)
	if err != nil {
		panic(err)
	}
	return id
}

// Declare reserves a placeholder node with a known output descriptor.
// Consumers may reference it before it is given an operation by Define.
func (g *Graph) Declare(desc pixel.Descriptor) (NodeID, error) {
	if err := desc.Validate(); err != nil {
		return InvalidNode, fmt.Errorf("graph: declare: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, &Node{
		id:       id,
		state:    stateDeclared,
		desc:     desc,
		identity: placeholderIdentity(id),
	})
	return id, nil
}

// Define gives a declared node its operation and inputs. It fails with a
// CycleError if any input transitively depends on id.
func (g *Graph) Define(id NodeID, o op.Operation, inputs ...NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur, err := g.lookupLocked(id)
	if err != nil {
		return err
	}
	if cur.state != stateDeclared {
		return fmt.Errorf("%w: %v", ErrAlreadyDefined, id)
	}

	n, err := g.build(id, o, inputs)
	if err != nil {
		return err
	}
	if n.desc != cur.desc {
		return fmt.Errorf("%w: %v declared %v, operation produces %v", ErrDescriptorMismatch, id, cur.desc, n.desc)
	}
	n.id = id
	// Replace rather than mutate so readers holding the old pointer keep a
	// consistent snapshot.
	g.nodes[id] = n
	return nil
}

// build validates o and inputs and returns the new node without an id.
// self is the node being defined, or InvalidNode for a fresh node.
func (g *Graph) build(self NodeID, o op.Operation, inputs []NodeID) (*Node, error) {
	if o == nil {
		return nil, ErrNilOperation
	}
	if len(inputs) != o.Arity() {
		return nil, &ArityError{Op: o.Code(), Want: o.Arity(), Got: len(inputs)}
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	descs := make([]pixel.Descriptor, len(inputs))
	ids := make([]Identity, len(inputs))
	n := &Node{
		state:  stateDefined,
		op:     o,
		inputs: append([]NodeID(nil), inputs...),
	}
	for i, in := range inputs {
		if self != InvalidNode && in == self {
			return nil, &CycleError{Node: self, Path: []NodeID{self}}
		}
		src, err := g.lookupLocked(in)
		if err != nil {
			return nil, err
		}
		descs[i] = src.desc
		ids[i] = src.identity
		if src.depth+1 > n.depth {
			n.depth = src.depth + 1
		}
		if src.state == stateDeclared || src.forward {
			n.forward = true
		}
	}

	if self != InvalidNode && n.forward {
		if path := g.pathTo(self, inputs); path != nil {
			return nil, &CycleError{Node: self, Path: path}
		}
	}

	desc, err := o.Output(descs)
	if err != nil {
		return nil, err
	}
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("graph: %s output: %w", o.Code(), err)
	}
	n.desc = desc
	n.identity = nodeIdentity(o, ids, desc)
	return n, nil
}

// pathTo searches the inputs of defined nodes, starting at from, for target.
// It returns the path from the first input to target, or nil. Only nodes
// that reach a placeholder are explored.
func (g *Graph) pathTo(target NodeID, from []NodeID) []NodeID {
	visited := make(map[NodeID]bool)
	var walk func(id NodeID) []NodeID
	walk = func(id NodeID) []NodeID {
		if id == target {
			return []NodeID{id}
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		n := g.nodes[id]
		if !n.forward {
			return nil
		}
		for _, in := range n.inputs {
			if p := walk(in); p != nil {
				return append([]NodeID{id}, p...)
			}
		}
		return nil
	}
	for _, in := range from {
		if p := walk(in); p != nil {
			return p
		}
	}
	return nil
}

// Lookup returns the node for id.
func (g *Graph) Lookup(id NodeID) (*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lookupLocked(id)
}

func (g *Graph) lookupLocked(id NodeID) (*Node, error) {
	if id == InvalidNode || int(id) >= len(g.nodes) {
		return nil, fmt.Errorf("%w: %v", ErrUnknownNode, id)
	}
	return g.nodes[id], nil
}

// Descriptor returns the output descriptor of id.
func (g *Graph) Descriptor(id NodeID) (pixel.Descriptor, error) {
	n, err := g.Lookup(id)
	if err != nil {
		return pixel.Descriptor{}, err
	}
	return n.desc, nil
}
