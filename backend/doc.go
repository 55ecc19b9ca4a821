// Package backend is the registry of petal devices.
//
// Device implementations register a Factory from an init function, so
// importing a backend package makes it available by name:
//
//	import (
//		_ "github.com/gogpu/petal/backend/software"
//		_ "github.com/gogpu/petal/backend/wgpu"
//	)
//
// # Backend Selection
//
// Use OpenDefault to get the best device that opens on this machine, or
// Open to request one by name:
//
//	dev, err := backend.OpenDefault()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer backend.Close(dev)
//
// # Available Backends
//
//   - "software": CPU reference device (always available)
//   - "wgpu": compute shaders on gogpu/wgpu HAL (needs a Vulkan adapter)
package backend
