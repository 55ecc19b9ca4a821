// Package petal is a GPU image processing engine.
//
// # Overview
//
// Callers describe an image computation as a graph of nodes: leaves wrap
// externally supplied images and every other node applies one operation
// (a color adjustment, a blend, a resample, a convolution) to its inputs.
// Nothing runs until the graph is rendered. Rendering compiles the graph
// into a plan, fusing chains of pointwise operations into single passes,
// and executes the plan on a device while reusing render targets through
// a shared cache.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/petal"
//	    "github.com/gogpu/petal/backend"
//	    _ "github.com/gogpu/petal/backend/software"
//	    "github.com/gogpu/petal/graph"
//	    "github.com/gogpu/petal/op"
//	)
//
//	dev, _ := backend.OpenDefault()
//	ctx, _ := petal.NewContext(dev)
//	defer ctx.Close()
//
//	g := graph.New()
//	leaf, _ := g.Leaf(img.Descriptor())
//	out := g.MustNode(op.NewContrast(1.2), g.MustNode(op.NewBrightness(0.1), leaf))
//
//	res, _ := ctx.Render(context.Background(), g, []graph.NodeID{out},
//	    map[graph.NodeID]*pixel.Image{leaf: img})
//
// # Architecture
//
// The library is organized into:
//   - graph: the node arena and structural identities
//   - op: the closed set of operations and their reference math
//   - coalesce and plan: pass fusion and compilation
//   - cache and render: target pooling and plan execution
//   - gpucore and backend: the device boundary and its implementations
//
// A Context ties one device to one cache. Any number of goroutines may
// build graphs and render through the same Context.
package petal

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0-alpha.1"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
