package backend

import (
	"errors"
	"io"

	"github.com/gogpu/petal/gpucore"
)

// Backend name constants.
const (
	// Software is the name of the CPU reference device.
	Software = "software"

	// WGPU is the name of the compute device on gogpu/wgpu HAL.
	WGPU = "wgpu"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or no registered backend could be opened.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Factory opens a device. Factories may fail, for example when no GPU
// adapter is present.
type Factory func() (gpucore.Device, error)

// Close releases dev if it holds resources beyond its targets and programs.
func Close(dev gpucore.Device) error {
	if c, ok := dev.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
