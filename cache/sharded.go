// Package cache pools render targets and compiled programs for reuse
// across passes and invocations.
//
// Idle targets are kept in per-descriptor LIFO stacks spread over 16
// shards, so concurrent renders touching different descriptors rarely
// contend. Device allocation and free never run under a shard lock.
package cache

import (
	"errors"
	"hash/fnv"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/internal/logx"
)

// Default configuration constants.
const (
	// ShardCount is the number of idle pool shards.
	// Must be a power of 2 for fast modulo via bitwise AND.
	ShardCount = 16

	// shardMask is used for fast shard selection (ShardCount - 1).
	shardMask = ShardCount - 1
)

// ErrNotCheckedOut is returned when releasing a resource that is not
// currently checked out of the cache.
var ErrNotCheckedOut = errors.New("cache: resource not checked out")

// Allocator is the part of a device the cache manages objects through.
type Allocator interface {
	Allocate(desc gpucore.TargetDescriptor) (gpucore.ResourceID, error)
	Free(id gpucore.ResourceID)
	Compile(src gpucore.ProgramSource) (gpucore.ProgramID, error)
	DestroyProgram(id gpucore.ProgramID)
}

// Resource is a pooled render target. A resource is held by at most one
// caller between Acquire and Release.
type Resource struct {
	id    gpucore.ResourceID
	desc  gpucore.TargetDescriptor
	owner *Cache

	checkedOut atomic.Bool
	released   uint64 // release sequence, guarded by the shard lock
}

// ID returns the device handle.
func (r *Resource) ID() gpucore.ResourceID { return r.id }

// Descriptor returns the target descriptor.
func (r *Resource) Descriptor() gpucore.TargetDescriptor { return r.desc }

// Cache pools render targets by descriptor and compiled programs by key.
// It is safe for concurrent use.
type Cache struct {
	alloc  Allocator
	logger *slog.Logger
	shards [ShardCount]*shard
	seq    atomic.Uint64

	programs programCache

	allocations atomic.Uint64
	reuses      atomic.Uint64
	releases    atomic.Uint64
	evictions   atomic.Uint64
	checkedOut  atomic.Int64
	peak        atomic.Int64
}

// shard is a single partition of the idle pool.
type shard struct {
	mu    sync.Mutex
	idle  map[gpucore.TargetDescriptor][]*Resource
	count int
	bytes int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. By default the package-wide petal logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates an empty cache over alloc.
func New(alloc Allocator, opts ...Option) *Cache {
	c := &Cache{
		alloc:    alloc,
		logger:   logx.L(),
		programs: programCache{entries: make(map[gpucore.ProgramKey]*Program)},
	}
	for i := range c.shards {
		c.shards[i] = &shard{idle: make(map[gpucore.TargetDescriptor][]*Resource)}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// descHash computes the FNV-1a hash of a descriptor for shard selection.
func descHash(d gpucore.TargetDescriptor) uint64 {
	var buf [16]byte
	putU32 := func(off int, v uint32) {
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
		buf[off+2] = byte(v >> 16)
		buf[off+3] = byte(v >> 24)
	}
	putU32(0, uint32(d.Width))
	putU32(4, uint32(d.Height))
	putU32(8, uint32(d.Format))
	putU32(12, uint32(d.Usage))
	h := fnv.New64a()
	_, _ = h.Write(buf[:]) // fnv.Write never returns an error
	return h.Sum64()
}

// getShard returns the shard for a given descriptor.
func (c *Cache) getShard(d gpucore.TargetDescriptor) *shard {
	return c.shards[descHash(d)&shardMask]
}

// Acquire checks out a target matching desc. The most recently released
// idle target is reused if one exists; otherwise a new one is allocated.
func (c *Cache) Acquire(desc gpucore.TargetDescriptor) (*Resource, error) {
	s := c.getShard(desc)

	s.mu.Lock()
	stack := s.idle[desc]
	var r *Resource
	if n := len(stack); n > 0 {
		r = stack[n-1]
		stack[n-1] = nil
		s.idle[desc] = stack[:n-1]
		s.count--
		s.bytes -= desc.Bytes()
	}
	s.mu.Unlock()

	if r != nil {
		c.reuses.Add(1)
	} else {
		id, err := c.alloc.Allocate(desc)
		if err != nil {
			return nil, err
		}
		c.allocations.Add(1)
		r = &Resource{id: id, desc: desc, owner: c}
	}

	r.checkedOut.Store(true)
	c.noteCheckout()
	return r, nil
}

func (c *Cache) noteCheckout() {
	n := c.checkedOut.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

// Release returns r to its descriptor's idle stack.
func (c *Cache) Release(r *Resource) error {
	if r == nil || r.owner != c || !r.checkedOut.CompareAndSwap(true, false) {
		return ErrNotCheckedOut
	}
	c.checkedOut.Add(-1)
	c.releases.Add(1)

	s := c.getShard(r.desc)
	s.mu.Lock()
	r.released = c.seq.Add(1)
	s.idle[r.desc] = append(s.idle[r.desc], r)
	s.count++
	s.bytes += r.desc.Bytes()
	s.mu.Unlock()
	return nil
}

// Trim evicts every idle target and returns how many were freed.
func (c *Cache) Trim() int {
	var victims []*Resource
	for _, s := range c.shards {
		s.mu.Lock()
		for d, stack := range s.idle {
			victims = append(victims, stack...)
			delete(s.idle, d)
		}
		s.count = 0
		s.bytes = 0
		s.mu.Unlock()
	}
	c.free(victims)
	return len(victims)
}

// TrimTo evicts the oldest released idle targets until the idle pool
// holds at most maxIdleBytes. It returns how many targets were freed.
func (c *Cache) TrimTo(maxIdleBytes int64) int {
	type candidate struct {
		r   *Resource
		seq uint64
	}
	var (
		all   []candidate
		total int64
	)
	for _, s := range c.shards {
		s.mu.Lock()
		for _, stack := range s.idle {
			for _, r := range stack {
				all = append(all, candidate{r: r, seq: r.released})
			}
		}
		total += s.bytes
		s.mu.Unlock()
	}
	if total <= maxIdleBytes {
		return 0
	}
	slices.SortFunc(all, func(a, b candidate) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	var victims []*Resource
	for _, cand := range all {
		if total <= maxIdleBytes {
			break
		}
		// The target may have been acquired since the snapshot.
		if c.removeIdle(cand.r) {
			victims = append(victims, cand.r)
			total -= cand.r.desc.Bytes()
		}
	}
	c.free(victims)
	return len(victims)
}

// removeIdle takes r out of its idle stack. It reports false if r is no
// longer idle.
func (c *Cache) removeIdle(r *Resource) bool {
	s := c.getShard(r.desc)
	s.mu.Lock()
	defer s.mu.Unlock()

	stack := s.idle[r.desc]
	i := slices.Index(stack, r)
	if i < 0 {
		return false
	}
	stack = slices.Delete(stack, i, i+1)
	if len(stack) == 0 {
		delete(s.idle, r.desc)
	} else {
		s.idle[r.desc] = stack
	}
	s.count--
	s.bytes -= r.desc.Bytes()
	return true
}

func (c *Cache) free(victims []*Resource) {
	if len(victims) == 0 {
		return
	}
	var bytes int64
	for _, r := range victims {
		c.alloc.Free(r.id)
		bytes += r.desc.Bytes()
	}
	c.evictions.Add(uint64(len(victims)))
	c.logger.Debug("cache: evicted idle targets", "count", len(victims), "bytes", bytes)
}

// Purge evicts every idle target and destroys every compiled program.
// Targets that are checked out are not affected.
func (c *Cache) Purge() {
	n := c.Trim()
	p := c.programs.purge(c.alloc)
	c.logger.Debug("cache: purged", "targets", n, "programs", p)
}

// Idle returns the number of idle targets and their total size in bytes.
func (c *Cache) Idle() (count int, bytes int64) {
	for _, s := range c.shards {
		s.mu.Lock()
		count += s.count
		bytes += s.bytes
		s.mu.Unlock()
	}
	return count, bytes
}

// ShardLen returns the number of idle targets in each shard.
// Useful for debugging load distribution.
func (c *Cache) ShardLen() [ShardCount]int {
	var lens [ShardCount]int
	for i, s := range c.shards {
		s.mu.Lock()
		lens[i] = s.count
		s.mu.Unlock()
	}
	return lens
}
