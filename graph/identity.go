package graph

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"math"

	"github.com/gogpu/petal/op"
	"github.com/gogpu/petal/pixel"
)

// Identity is a structural hash of a node. Equal identities are a strong
// hint, not a proof, that two nodes compute the same image; the compiler
// confirms with Equal before merging.
type Identity uint64

type hasher struct {
	buf [8]byte
	h   hash.Hash64
}

func newHasher(tag string) *hasher {
	h := &hasher{h: fnv.New64a()}
	h.str(tag)
	return h
}

func (h *hasher) u64(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	_, _ = h.h.Write(h.buf[:])
}

func (h *hasher) str(s string) {
	h.u64(uint64(len(s)))
	_, _ = h.h.Write([]byte(s))
}

func (h *hasher) desc(d pixel.Descriptor) {
	h.u64(uint64(d.Width))
	h.u64(uint64(d.Height))
	h.u64(uint64(d.Format)<<8 | uint64(d.Alpha))
}

func (h *hasher) sum() Identity { return Identity(h.h.Sum64()) }

func leafIdentity(id NodeID, d pixel.Descriptor) Identity {
	h := newHasher("leaf")
	h.u64(uint64(id))
	h.desc(d)
	return h.sum()
}

func placeholderIdentity(id NodeID) Identity {
	h := newHasher("placeholder")
	h.u64(uint64(id))
	return h.sum()
}

func nodeIdentity(o op.Operation, inputs []Identity, d pixel.Descriptor) Identity {
	h := newHasher("node")
	h.str(o.Code())
	u := o.Uniforms()
	h.u64(uint64(len(u)))
	for _, v := range u {
		h.u64(uint64(math.Float32bits(v)))
	}
	h.u64(uint64(len(inputs)))
	for _, in := range inputs {
		h.u64(uint64(in))
	}
	h.desc(d)
	return h.sum()
}

// Equal reports whether a and b compute the same image: both are the same
// leaf, or both apply the same program with bit-identical uniforms to
// inputs that are equal under canon. canon maps a node to its canonical
// representative and may be the identity function.
func Equal(a, b *Node, canon func(NodeID) NodeID) bool {
	if a.id == b.id {
		return true
	}
	if a.state != stateDefined || b.state != stateDefined {
		return false
	}
	if a.identity != b.identity || a.desc != b.desc || len(a.inputs) != len(b.inputs) {
		return false
	}
	if a.op.Code() != b.op.Code() {
		return false
	}
	ua, ub := a.op.Uniforms(), b.op.Uniforms()
	if len(ua) != len(ub) {
		return false
	}
	for i := range ua {
		if math.Float32bits(ua[i]) != math.Float32bits(ub[i]) {
			return false
		}
	}
	for i := range a.inputs {
		if canon(a.inputs[i]) != canon(b.inputs[i]) {
			return false
		}
	}
	return true
}
