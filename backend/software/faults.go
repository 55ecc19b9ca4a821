package software

import (
	"errors"
	"fmt"

	"github.com/gogpu/petal/gpucore"
)

// Call names a device entry point for fault injection.
type Call uint8

const (
	CallAllocate Call = iota
	CallCompile
	CallUpload
	CallReadback
	CallDispatch
)

func (c Call) String() string {
	switch c {
	case CallAllocate:
		return "allocate"
	case CallCompile:
		return "compile"
	case CallUpload:
		return "upload"
	case CallReadback:
		return "readback"
	case CallDispatch:
		return "dispatch"
	default:
		return "unknown"
	}
}

// FailNext makes the next call of kind c fail with err. An error matching
// gpucore.ErrDeviceLost also marks the device lost.
func (d *Device) FailNext(c Call, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[c] = err
}

// Lose marks the device lost. Every later call fails with
// gpucore.ErrDeviceLost.
func (d *Device) Lose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
}

// checkLocked returns the error a call of kind c must fail with, if any.
func (d *Device) checkLocked(c Call) error {
	if d.lost {
		return fmt.Errorf("software: %v: %w", c, gpucore.ErrDeviceLost)
	}
	err, ok := d.faults[c]
	if !ok {
		return nil
	}
	delete(d.faults, c)
	if errors.Is(err, gpucore.ErrDeviceLost) {
		d.lost = true
		d.logger.Warn("software: device lost", "call", c.String())
	}
	return fmt.Errorf("software: %v: %w", c, err)
}
