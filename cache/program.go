package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/gogpu/petal/gpucore"
)

// ErrProgramCompilation is matched by every CompileError.
var ErrProgramCompilation = errors.New("cache: program compilation failed")

// CompileError reports a program the device failed to compile.
type CompileError struct {
	Key gpucore.ProgramKey
	Err error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("cache: compile %v: %v", e.Key, e.Err)
}

// Unwrap returns the device error.
func (e *CompileError) Unwrap() error { return e.Err }

// Is reports whether target is ErrProgramCompilation.
func (e *CompileError) Is(target error) bool { return target == ErrProgramCompilation }

// Program is a compiled program owned by the cache.
type Program struct {
	id  gpucore.ProgramID
	key gpucore.ProgramKey
}

// ID returns the device handle.
func (p *Program) ID() gpucore.ProgramID { return p.id }

// Key returns the cache key the program was compiled for.
func (p *Program) Key() gpucore.ProgramKey { return p.key }

// programCache stores compiled programs indexed by key.
//
// Lookups take the read lock only. Misses are funnelled through a
// singleflight group so concurrent callers compile a key once; failures
// are returned to every waiter and never stored.
type programCache struct {
	mu      sync.RWMutex
	entries map[gpucore.ProgramKey]*Program
	flight  singleflight.Group

	hits     atomic.Uint64
	misses   atomic.Uint64
	failures atomic.Uint64
}

func (pc *programCache) lookup(key gpucore.ProgramKey) (*Program, bool) {
	pc.mu.RLock()
	p, ok := pc.entries[key]
	pc.mu.RUnlock()
	return p, ok
}

// AcquireProgram returns the compiled program for src, compiling it on
// first use.
func (c *Cache) AcquireProgram(src gpucore.ProgramSource) (*Program, error) {
	pc := &c.programs
	key := src.Key()

	// Fast path: read lock
	if p, ok := pc.lookup(key); ok {
		pc.hits.Add(1)
		return p, nil
	}

	v, err, _ := pc.flight.Do(key.String(), func() (any, error) {
		// Double-check: a previous flight may have finished between the
		// fast path and Do.
		if p, ok := pc.lookup(key); ok {
			return p, nil
		}
		pc.misses.Add(1)

		if err := src.Validate(); err != nil {
			pc.failures.Add(1)
			return nil, &CompileError{Key: key, Err: err}
		}
		id, err := c.alloc.Compile(src)
		if err != nil {
			pc.failures.Add(1)
			c.logger.Warn("cache: program compilation failed", "key", key.String(), "error", err)
			return nil, &CompileError{Key: key, Err: err}
		}

		p := &Program{id: id, key: key}
		pc.mu.Lock()
		pc.entries[key] = p
		pc.mu.Unlock()
		c.logger.Debug("cache: compiled program", "key", key.String())
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Program), nil
}

// Programs returns the number of compiled programs.
func (c *Cache) Programs() int {
	c.programs.mu.RLock()
	defer c.programs.mu.RUnlock()
	return len(c.programs.entries)
}

// purge destroys every program and returns how many there were.
func (pc *programCache) purge(alloc Allocator) int {
	pc.mu.Lock()
	old := pc.entries
	pc.entries = make(map[gpucore.ProgramKey]*Program)
	pc.mu.Unlock()

	for _, p := range old {
		alloc.DestroyProgram(p.id)
	}
	return len(old)
}
