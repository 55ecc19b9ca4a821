package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for graph construction.
var (
	// ErrGraphCycle is matched by every CycleError.
	ErrGraphCycle = errors.New("graph: cycle")

	// ErrArityMismatch is matched by every ArityError.
	ErrArityMismatch = errors.New("graph: arity mismatch")

	// ErrUnknownNode is returned for a handle that does not belong to the graph.
	ErrUnknownNode = errors.New("graph: unknown node")

	// ErrUndefined is returned when a declared node is used before Define.
	ErrUndefined = errors.New("graph: node declared but not defined")

	// ErrAlreadyDefined is returned by Define on a node that is already defined.
	ErrAlreadyDefined = errors.New("graph: node already defined")

	// ErrNilOperation is returned when a composite node has no operation.
	ErrNilOperation = errors.New("graph: nil operation")

	// ErrDescriptorMismatch is returned by Define when the operation's output
	// does not match the declared descriptor.
	ErrDescriptorMismatch = errors.New("graph: output does not match declared descriptor")
)

// CycleError reports a node that would (transitively) consume itself.
type CycleError struct {
	Node NodeID
	// Path lists the nodes from the offending input back to Node.
	Path []NodeID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = id.String()
	}
	return fmt.Sprintf("graph: cycle: %v depends on itself via [%s]", e.Node, strings.Join(parts, " -> "))
}

// Is reports whether target is ErrGraphCycle.
func (e *CycleError) Is(target error) bool { return target == ErrGraphCycle }

// ArityError reports a wrong number of inputs for an operation.
type ArityError struct {
	Op   string
	Want int
	Got  int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("graph: %s takes %d inputs, got %d", e.Op, e.Want, e.Got)
}

// Is reports whether target is ErrArityMismatch.
func (e *ArityError) Is(target error) bool { return target == ErrArityMismatch }
