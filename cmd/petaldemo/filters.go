package main

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/gogpu/petal/graph"
	"github.com/gogpu/petal/op"
	"github.com/gogpu/petal/pixel"
)

// step appends one operation to the node at in.
type step func(g *graph.Graph, in graph.NodeID) (graph.NodeID, error)

// filter describes a named entry of the -filters flag.
type filter struct {
	// arg reports whether the filter takes a numeric argument.
	arg  bool
	make func(v float64, in pixel.Descriptor) (op.Operation, error)
}

var filters = map[string]filter{
	"brightness": {true, func(v float64, _ pixel.Descriptor) (op.Operation, error) { return op.NewBrightness(float32(v)), nil }},
	"contrast": {true, func(v float64, _ pixel.Descriptor) (op.Operation, error) {
		return op.NewContrastAround(float32(v), 0.5), nil
	}},
	"exposure":   {true, func(v float64, _ pixel.Descriptor) (op.Operation, error) { return op.Exposure{EV: float32(v)}, nil }},
	"gamma":      {true, func(v float64, _ pixel.Descriptor) (op.Operation, error) { return op.Gamma{Gamma: float32(v)}, nil }},
	"opacity":    {true, func(v float64, _ pixel.Descriptor) (op.Operation, error) { return op.Opacity{Amount: float32(v)}, nil }},
	"saturation": {true, func(v float64, _ pixel.Descriptor) (op.Operation, error) { return op.Saturation(float32(v)), nil }},
	"hue":        {true, func(v float64, _ pixel.Descriptor) (op.Operation, error) { return op.HueRotate(float32(v)), nil }},
	"blur":       {true, func(v float64, _ pixel.Descriptor) (op.Operation, error) { return op.GaussianBlur{Radius: v}, nil }},
	"box":        {true, func(v float64, _ pixel.Descriptor) (op.Operation, error) { return op.BoxBlur{Radius: int(v)}, nil }},
	"sharpen":    {true, func(v float64, _ pixel.Descriptor) (op.Operation, error) { return op.Sharpen(float32(v)), nil }},
	"scale": {true, func(v float64, in pixel.Descriptor) (op.Operation, error) {
		w, h := int(float64(in.Width)*v+0.5), int(float64(in.Height)*v+0.5)
		if w < 1 || h < 1 {
			return nil, fmt.Errorf("scale %v of %dx%d is empty", v, in.Width, in.Height)
		}
		return op.Scale(in, w, h, op.FilterCatmullRom), nil
	}},
	"crop": {true, func(v float64, in pixel.Descriptor) (op.Operation, error) {
		// Keeps the centered fraction v of each side.
		w, h := int(float64(in.Width)*v), int(float64(in.Height)*v)
		x, y := (in.Width-w)/2, (in.Height-h)/2
		return op.Crop(image.Rect(x, y, x+w, y+h)), nil
	}},
	"invert":    {false, func(float64, pixel.Descriptor) (op.Operation, error) { return op.Invert{}, nil }},
	"grayscale": {false, func(float64, pixel.Descriptor) (op.Operation, error) { return op.Grayscale(), nil }},
	"sepia":     {false, func(float64, pixel.Descriptor) (op.Operation, error) { return op.Sepia(), nil }},
}

// parseChain parses a comma separated list like "brightness=0.1,sepia,blur=2".
func parseChain(s string) ([]step, error) {
	var steps []step
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, raw, hasArg := strings.Cut(item, "=")
		f, ok := filters[name]
		if !ok {
			return nil, fmt.Errorf("unknown filter %q", name)
		}
		if f.arg != hasArg {
			if f.arg {
				return nil, fmt.Errorf("filter %q needs a value", name)
			}
			return nil, fmt.Errorf("filter %q takes no value", name)
		}
		var v float64
		if hasArg {
			var err error
			if v, err = strconv.ParseFloat(raw, 64); err != nil {
				return nil, fmt.Errorf("filter %q: %w", name, err)
			}
		}
		steps = append(steps, func(g *graph.Graph, in graph.NodeID) (graph.NodeID, error) {
			d, err := g.Descriptor(in)
			if err != nil {
				return graph.InvalidNode, err
			}
			o, err := f.make(v, d)
			if err != nil {
				return graph.InvalidNode, err
			}
			return g.Node(o, in)
		})
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("empty filter chain")
	}
	return steps, nil
}

// build applies steps to a new leaf of desc.
func build(desc pixel.Descriptor, steps []step) (g *graph.Graph, leaf, out graph.NodeID, err error) {
	g = graph.New()
	if leaf, err = g.Leaf(desc); err != nil {
		return nil, 0, 0, err
	}
	out = leaf
	for _, s := range steps {
		if out, err = s(g, out); err != nil {
			return nil, 0, 0, err
		}
	}
	return g, leaf, out, nil
}
