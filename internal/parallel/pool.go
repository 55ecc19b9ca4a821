// Package parallel splits row ranges across a fixed set of worker goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// MinRows is the smallest band handed to a worker. Ranges shorter than
// twice this run on the calling goroutine.
const MinRows = 16

// Pool runs row bands on a fixed set of workers.
//
// A nil *Pool is valid and runs everything inline. Pool is safe for
// concurrent use; bands from concurrent Rows calls share the workers.
type Pool struct {
	workers int
	queue   chan band
	wg      sync.WaitGroup

	// mu guards closed and keeps Close from closing queue under a sender.
	mu     sync.RWMutex
	closed bool
}

type band struct {
	lo, hi int
	fn     func(lo, hi int)
	done   *sync.WaitGroup
}

// NewPool starts a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		workers: workers,
		queue:   make(chan band, workers*4),
	}
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for b := range p.queue {
		b.fn(b.lo, b.hi)
		b.done.Done()
	}
}

// Workers returns the number of worker goroutines, or 1 for a nil pool.
func (p *Pool) Workers() int {
	if p == nil {
		return 1
	}
	return p.workers
}

// Rows calls fn over disjoint half-open bands covering [0, n) and returns
// once every band has finished. fn must only write state owned by its band.
func (p *Pool) Rows(n int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	bands := p.bands(n)
	if bands <= 1 {
		fn(0, n)
		return
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		fn(0, n)
		return
	}
	var done sync.WaitGroup
	done.Add(bands)
	size := (n + bands - 1) / bands
	for lo := 0; lo < n; lo += size {
		p.queue <- band{lo: lo, hi: min(lo+size, n), fn: fn, done: &done}
	}
	p.mu.RUnlock()
	done.Wait()
}

func (p *Pool) bands(n int) int {
	if p == nil || p.workers <= 1 {
		return 1
	}
	b := min(p.workers, n/MinRows)
	// Round so that ceil(n/b) sized bands produce exactly b of them.
	if b > 1 {
		size := (n + b - 1) / b
		b = (n + size - 1) / size
	}
	return max(b, 1)
}

// Close stops the workers after queued bands drain. Rows calls after Close
// run inline. Close is idempotent.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}
