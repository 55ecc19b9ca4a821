package cache

// Stats is a snapshot of cache counters.
type Stats struct {
	// Allocations counts targets created on the device.
	Allocations uint64
	// Reuses counts acquisitions served from the idle pool.
	Reuses uint64
	// Releases counts targets returned to the idle pool.
	Releases uint64
	// Evictions counts idle targets freed by Trim, TrimTo or Purge.
	Evictions uint64

	ProgramHits     uint64
	ProgramMisses   uint64
	ProgramFailures uint64
	Programs        int

	Idle      int
	IdleBytes int64

	// CheckedOut is the number of targets currently held by callers.
	CheckedOut int64
	// PeakCheckedOut is the high-water mark of CheckedOut since creation
	// or the last ResetPeak.
	PeakCheckedOut int64
}

// HitRate returns the fraction of target acquisitions served from the
// idle pool.
func (s Stats) HitRate() float64 {
	total := s.Allocations + s.Reuses
	if total == 0 {
		return 0
	}
	return float64(s.Reuses) / float64(total)
}

// Stats returns current cache statistics.
// Counters are read atomically and may not be perfectly synchronized.
func (c *Cache) Stats() Stats {
	idle, idleBytes := c.Idle()
	return Stats{
		Allocations:     c.allocations.Load(),
		Reuses:          c.reuses.Load(),
		Releases:        c.releases.Load(),
		Evictions:       c.evictions.Load(),
		ProgramHits:     c.programs.hits.Load(),
		ProgramMisses:   c.programs.misses.Load(),
		ProgramFailures: c.programs.failures.Load(),
		Programs:        c.Programs(),
		Idle:            idle,
		IdleBytes:       idleBytes,
		CheckedOut:      c.checkedOut.Load(),
		PeakCheckedOut:  c.peak.Load(),
	}
}

// ResetPeak restarts the checked-out high-water mark at the current count.
func (c *Cache) ResetPeak() {
	c.peak.Store(c.checkedOut.Load())
}
