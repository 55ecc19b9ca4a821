//go:build !nogpu

package wgpu

import (
	"github.com/gogpu/petal/backend"
	"github.com/gogpu/petal/gpucore"
)

func init() {
	backend.Register(backend.WGPU, func() (gpucore.Device, error) {
		d, err := New()
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}
