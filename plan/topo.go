package plan

import (
	"container/heap"
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/petal/graph"
)

// ErrCycleDetected is matched by every CycleDetectedError.
var ErrCycleDetected = errors.New("plan: cycle detected")

// CycleDetectedError reports nodes that could not be ordered.
type CycleDetectedError struct {
	// Nodes lists the unordered nodes in ascending id order.
	Nodes []graph.NodeID
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("plan: cycle detected among %d nodes %v", len(e.Nodes), e.Nodes)
}

// Is reports whether target is ErrCycleDetected.
func (e *CycleDetectedError) Is(target error) bool { return target == ErrCycleDetected }

type idMinHeap []graph.NodeID

func (h idMinHeap) Len() int           { return len(h) }
func (h idMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idMinHeap) Push(x any)        { *h = append(*h, x.(graph.NodeID)) }
func (h *idMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopoSort orders every node reachable from roots so that each node comes
// after its inputs. inputs returns the inputs of a node.
//
// Determinism: the ready queue is a min-heap by node id, so equal graphs
// always produce the same order.
func TopoSort(roots []graph.NodeID, inputs func(graph.NodeID) []graph.NodeID) ([]graph.NodeID, error) {
	// Collect the reachable set.
	seen := make(map[graph.NodeID]bool)
	stack := slices.Clone(roots)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, inputs(id)...)
	}

	indegree := make(map[graph.NodeID]int, len(seen))
	consumers := make(map[graph.NodeID][]graph.NodeID, len(seen))
	for id := range seen {
		in := inputs(id)
		indegree[id] = len(in)
		for _, src := range in {
			consumers[src] = append(consumers[src], id)
		}
	}

	ready := &idMinHeap{}
	heap.Init(ready)
	for id, d := range indegree {
		if d == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]graph.NodeID, 0, len(seen))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(graph.NodeID)
		order = append(order, id)
		for _, c := range consumers[id] {
			indegree[c]--
			if indegree[c] == 0 {
				heap.Push(ready, c)
			}
		}
	}

	if len(order) != len(seen) {
		var rest []graph.NodeID
		for id, d := range indegree {
			if d > 0 {
				rest = append(rest, id)
			}
		}
		slices.Sort(rest)
		return nil, &CycleDetectedError{Nodes: rest}
	}
	return order, nil
}
