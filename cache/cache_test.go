package cache

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/op"
	"github.com/gogpu/petal/pixel"
)

// fakeAlloc is a device stand-in that counts calls.
type fakeAlloc struct {
	next       atomic.Uint64
	allocs     atomic.Int64
	frees      atomic.Int64
	compiles   atomic.Int64
	destroyed  atomic.Int64
	allocErr   error
	compileErr func(n int64) error
	gate       chan struct{}
}

func (f *fakeAlloc) Allocate(gpucore.TargetDescriptor) (gpucore.ResourceID, error) {
	if f.allocErr != nil {
		return 0, f.allocErr
	}
	f.allocs.Add(1)
	return gpucore.ResourceID(f.next.Add(1)), nil
}

func (f *fakeAlloc) Free(gpucore.ResourceID) { f.frees.Add(1) }

func (f *fakeAlloc) Compile(gpucore.ProgramSource) (gpucore.ProgramID, error) {
	if f.gate != nil {
		<-f.gate
	}
	n := f.compiles.Add(1)
	if f.compileErr != nil {
		if err := f.compileErr(n); err != nil {
			return 0, err
		}
	}
	return gpucore.ProgramID(f.next.Add(1)), nil
}

func (f *fakeAlloc) DestroyProgram(gpucore.ProgramID) { f.destroyed.Add(1) }

func target(w, h int) gpucore.TargetDescriptor {
	return gpucore.TargetDescriptor{Width: w, Height: h, Format: pixel.FormatRGBA8Unorm, Usage: gpucore.UsageIntermediate}
}

func mustAcquire(t *testing.T, c *Cache, d gpucore.TargetDescriptor) *Resource {
	t.Helper()
	r, err := c.Acquire(d)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	return r
}

func mustRelease(t *testing.T, c *Cache, r *Resource) {
	t.Helper()
	if err := c.Release(r); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}

// =============================================================================
// Targets
// =============================================================================

func TestAcquireReleaseReuses(t *testing.T) {
	dev := &fakeAlloc{}
	c := New(dev)
	d := target(64, 64)

	const n = 8
	held := make([]*Resource, n)
	for i := range held {
		held[i] = mustAcquire(t, c, d)
	}
	for _, r := range held {
		mustRelease(t, c, r)
	}
	before := dev.allocs.Load()
	for i := range held {
		held[i] = mustAcquire(t, c, d)
	}

	if got := dev.allocs.Load() - before; got != 0 {
		t.Errorf("second round allocated %d targets, want 0", got)
	}
	s := c.Stats()
	if s.Allocations != n || s.Reuses != n {
		t.Errorf("Stats = %+v, want %d allocations and %d reuses", s, n, n)
	}
	if s.HitRate() != 0.5 {
		t.Errorf("HitRate() = %v, want 0.5", s.HitRate())
	}
}

func TestAcquireIsLIFO(t *testing.T) {
	c := New(&fakeAlloc{})
	d := target(8, 8)
	a := mustAcquire(t, c, d)
	b := mustAcquire(t, c, d)
	mustRelease(t, c, a)
	mustRelease(t, c, b)

	if got := mustAcquire(t, c, d); got != b {
		t.Errorf("Acquire() = %v, want most recently released %v", got.ID(), b.ID())
	}
}

func TestAcquireKeyedByDescriptor(t *testing.T) {
	dev := &fakeAlloc{}
	c := New(dev)
	r := mustAcquire(t, c, target(8, 8))
	mustRelease(t, c, r)

	other := target(8, 8)
	other.Usage = gpucore.UsageLeaf
	if got := mustAcquire(t, c, other); got == r {
		t.Error("descriptor with different usage reused the idle target")
	}
	if dev.allocs.Load() != 2 {
		t.Errorf("allocations = %d, want 2", dev.allocs.Load())
	}
}

func TestReleaseNotCheckedOut(t *testing.T) {
	c := New(&fakeAlloc{})
	r := mustAcquire(t, c, target(4, 4))
	mustRelease(t, c, r)

	if err := c.Release(r); !errors.Is(err, ErrNotCheckedOut) {
		t.Errorf("double Release() error = %v, want ErrNotCheckedOut", err)
	}
	if err := c.Release(nil); !errors.Is(err, ErrNotCheckedOut) {
		t.Errorf("Release(nil) error = %v, want ErrNotCheckedOut", err)
	}

	foreign := mustAcquire(t, New(&fakeAlloc{}), target(4, 4))
	if err := c.Release(foreign); !errors.Is(err, ErrNotCheckedOut) {
		t.Errorf("foreign Release() error = %v, want ErrNotCheckedOut", err)
	}
	if n, _ := c.Idle(); n != 1 {
		t.Errorf("Idle() = %d, want 1", n)
	}
}

func TestAcquireAllocationError(t *testing.T) {
	c := New(&fakeAlloc{allocErr: gpucore.ErrOutOfMemory})
	_, err := c.Acquire(target(4, 4))
	if !errors.Is(err, gpucore.ErrOutOfMemory) {
		t.Fatalf("Acquire() error = %v, want ErrOutOfMemory", err)
	}
	if s := c.Stats(); s.CheckedOut != 0 || s.Allocations != 0 {
		t.Errorf("failed Acquire() changed stats: %+v", s)
	}
}

func TestTrim(t *testing.T) {
	dev := &fakeAlloc{}
	c := New(dev)
	var held []*Resource
	for i := 1; i <= 4; i++ {
		held = append(held, mustAcquire(t, c, target(i, i)))
	}
	keep := held[3]
	for _, r := range held[:3] {
		mustRelease(t, c, r)
	}

	if got := c.Trim(); got != 3 {
		t.Errorf("Trim() = %d, want 3", got)
	}
	if dev.frees.Load() != 3 {
		t.Errorf("device frees = %d, want 3", dev.frees.Load())
	}
	if n, b := c.Idle(); n != 0 || b != 0 {
		t.Errorf("Idle() = %d, %d after Trim", n, b)
	}
	// Checked out targets survive a trim.
	mustRelease(t, c, keep)
}

func TestTrimToEvictsOldestFirst(t *testing.T) {
	c := New(&fakeAlloc{})
	d := target(10, 10) // 400 bytes
	rs := []*Resource{mustAcquire(t, c, d), mustAcquire(t, c, d), mustAcquire(t, c, d)}
	for _, r := range rs {
		mustRelease(t, c, r)
	}

	if got := c.TrimTo(d.Bytes()); got != 2 {
		t.Fatalf("TrimTo() = %d, want 2", got)
	}
	if got := mustAcquire(t, c, d); got != rs[2] {
		t.Errorf("survivor = %v, want newest %v", got.ID(), rs[2].ID())
	}
	if got := c.TrimTo(1 << 20); got != 0 {
		t.Errorf("TrimTo(large) = %d, want 0", got)
	}
}

func TestShardLen(t *testing.T) {
	c := New(&fakeAlloc{})
	var rs []*Resource
	for i := 1; i <= 32; i++ {
		rs = append(rs, mustAcquire(t, c, target(i, i)))
	}
	for _, r := range rs {
		mustRelease(t, c, r)
	}

	lens := c.ShardLen()
	total, used := 0, 0
	for _, l := range lens {
		total += l
		if l > 0 {
			used++
		}
	}
	if idle, _ := c.Idle(); total != idle || total != 32 {
		t.Errorf("shard lengths sum %d, Idle() %d, want 32", total, idle)
	}
	if used < 2 {
		t.Errorf("32 descriptors landed in %d shard(s)", used)
	}
	if got := lens[descHash(target(1, 1))&shardMask]; got == 0 {
		t.Error("shard of target(1, 1) is empty")
	}
}

func TestPeakCheckedOut(t *testing.T) {
	c := New(&fakeAlloc{})
	d := target(4, 4)
	a, b, x := mustAcquire(t, c, d), mustAcquire(t, c, d), mustAcquire(t, c, d)
	mustRelease(t, c, a)
	mustRelease(t, c, b)

	s := c.Stats()
	if s.CheckedOut != 1 || s.PeakCheckedOut != 3 {
		t.Errorf("CheckedOut = %d, Peak = %d; want 1, 3", s.CheckedOut, s.PeakCheckedOut)
	}
	c.ResetPeak()
	if got := c.Stats().PeakCheckedOut; got != 1 {
		t.Errorf("Peak after reset = %d, want 1", got)
	}
	mustRelease(t, c, x)
}

func TestConcurrentAcquireExclusive(t *testing.T) {
	c := New(&fakeAlloc{})
	d := target(16, 16)

	var (
		mu   sync.Mutex
		held = make(map[*Resource]bool)
		wg   sync.WaitGroup
		dup  atomic.Bool
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r, err := c.Acquire(d)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				if held[r] {
					dup.Store(true)
				}
				held[r] = true
				mu.Unlock()

				mu.Lock()
				delete(held, r)
				mu.Unlock()
				if err := c.Release(r); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if dup.Load() {
		t.Error("a target was handed out twice")
	}
	if s := c.Stats(); s.CheckedOut != 0 || s.PeakCheckedOut > 8 {
		t.Errorf("Stats = %+v", s)
	}
}

// =============================================================================
// Programs
// =============================================================================

func source(code string) gpucore.ProgramSource {
	return gpucore.ProgramSource{
		Kind:   op.KindPixel,
		Stages: []gpucore.Stage{{Code: code}},
		Inputs: []pixel.AlphaType{pixel.AlphaStraight},
		Format: pixel.FormatRGBA8Unorm,
	}
}

func TestAcquireProgramCompilesOnce(t *testing.T) {
	dev := &fakeAlloc{}
	c := New(dev)
	p1, err := c.AcquireProgram(source("invert"))
	if err != nil {
		t.Fatalf("AcquireProgram() error = %v", err)
	}
	p2, _ := c.AcquireProgram(source("invert"))
	if p1 != p2 {
		t.Error("equal sources returned different programs")
	}
	if _, err := c.AcquireProgram(source("brightness")); err != nil {
		t.Fatal(err)
	}
	if dev.compiles.Load() != 2 {
		t.Errorf("compiles = %d, want 2", dev.compiles.Load())
	}
	s := c.Stats()
	if s.ProgramHits != 1 || s.ProgramMisses != 2 || s.Programs != 2 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestAcquireProgramConcurrentMiss(t *testing.T) {
	dev := &fakeAlloc{gate: make(chan struct{})}
	c := New(dev)

	const workers = 16
	var wg sync.WaitGroup
	results := make([]*Program, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.AcquireProgram(source("gamma"))
			if err != nil {
				t.Error(err)
			}
			results[i] = p
		}(i)
	}
	close(dev.gate)
	wg.Wait()

	if dev.compiles.Load() != 1 {
		t.Errorf("compiles = %d, want 1", dev.compiles.Load())
	}
	for i, p := range results {
		if p != results[0] {
			t.Errorf("results[%d] differs", i)
		}
	}
}

func TestAcquireProgramFailureNotCached(t *testing.T) {
	boom := errors.New("shader rejected")
	dev := &fakeAlloc{compileErr: func(n int64) error {
		if n == 1 {
			return boom
		}
		return nil
	}}
	c := New(dev)

	_, err := c.AcquireProgram(source("exposure"))
	if !errors.Is(err, ErrProgramCompilation) || !errors.Is(err, boom) {
		t.Fatalf("AcquireProgram() error = %v", err)
	}
	var ce *CompileError
	if !errors.As(err, &ce) || ce.Key != source("exposure").Key() {
		t.Errorf("CompileError = %+v", ce)
	}

	if _, err := c.AcquireProgram(source("exposure")); err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if s := c.Stats(); s.ProgramFailures != 1 || s.Programs != 1 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestAcquireProgramInvalidSource(t *testing.T) {
	dev := &fakeAlloc{}
	c := New(dev)
	src := source("invert")
	src.Inputs = nil
	if _, err := c.AcquireProgram(src); !errors.Is(err, ErrProgramCompilation) {
		t.Errorf("AcquireProgram() error = %v, want ErrProgramCompilation", err)
	}
	if dev.compiles.Load() != 0 {
		t.Error("invalid source reached the device")
	}
}

func TestPurge(t *testing.T) {
	dev := &fakeAlloc{}
	c := New(dev)
	mustRelease(t, c, mustAcquire(t, c, target(4, 4)))
	_, _ = c.AcquireProgram(source("invert"))
	_, _ = c.AcquireProgram(source("gamma"))

	c.Purge()
	if dev.frees.Load() != 1 || dev.destroyed.Load() != 2 {
		t.Errorf("frees = %d, destroyed = %d; want 1, 2", dev.frees.Load(), dev.destroyed.Load())
	}
	if c.Programs() != 0 {
		t.Errorf("Programs() = %d after Purge", c.Programs())
	}
}

// =============================================================================
// Metrics
// =============================================================================

func TestCollector(t *testing.T) {
	c := New(&fakeAlloc{})
	mustRelease(t, c, mustAcquire(t, c, target(4, 4)))
	_ = mustAcquire(t, c, target(8, 8))

	col := NewCollector(c)
	if got := testutil.CollectAndCount(col); got != 11 {
		t.Errorf("CollectAndCount() = %d, want 11", got)
	}

	want := `
# HELP petal_cache_allocations_total Render targets allocated on the device.
# TYPE petal_cache_allocations_total counter
petal_cache_allocations_total 2
# HELP petal_cache_checked_out_targets Render targets currently checked out.
# TYPE petal_cache_checked_out_targets gauge
petal_cache_checked_out_targets 1
`
	if err := testutil.CollectAndCompare(col, strings.NewReader(want),
		"petal_cache_allocations_total", "petal_cache_checked_out_targets"); err != nil {
		t.Error(err)
	}
}
