package software

import (
	"github.com/gogpu/petal/backend"
	"github.com/gogpu/petal/gpucore"
)

// init registers the software backend on package import.
func init() {
	backend.Register(backend.Software, func() (gpucore.Device, error) {
		return New(WithWorkers(0)), nil
	})
}
