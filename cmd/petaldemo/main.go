// Command petaldemo applies a filter chain to a PNG image.
//
// Usage:
//
//	petaldemo -input photo.png -filters "brightness=0.1,contrast=1.2,blur=2" -output out.png
//
// Without -input a synthetic gradient is filtered instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/gogpu/petal"
	"github.com/gogpu/petal/backend"
	_ "github.com/gogpu/petal/backend/software"
	_ "github.com/gogpu/petal/backend/wgpu"
	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/graph"
	"github.com/gogpu/petal/pixel"
)

func main() {
	var (
		input      = flag.String("input", "", "input PNG (default: synthetic gradient)")
		output     = flag.String("output", "petal.png", "output file")
		width      = flag.Int("width", 512, "gradient width")
		height     = flag.Int("height", 384, "gradient height")
		chain      = flag.String("filters", "brightness=0.05,contrast=1.2,saturation=1.3,blur=1.5", "comma separated filter chain")
		device     = flag.String("backend", "", "backend name (default: best available)")
		configPath = flag.String("config", "", "YAML config file")
		noCoalesce = flag.Bool("nocoalesce", false, "run every operation as its own pass")
		showPlan   = flag.Bool("plan", false, "print the compiled plan")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	petal.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(*input, *output, *width, *height, *chain, *device, *configPath, *noCoalesce, *showPlan); err != nil {
		log.Fatalf("petaldemo: %v", err)
	}
}

func run(input, output string, width, height int, chain, device, configPath string, noCoalesce, showPlan bool) error {
	steps, err := parseChain(chain)
	if err != nil {
		return err
	}

	cfg := petal.DefaultConfig()
	if configPath != "" {
		if cfg, err = petal.LoadConfig(configPath); err != nil {
			return err
		}
	}

	src, err := loadSource(input, width, height)
	if err != nil {
		return err
	}

	dev, err := openDevice(device)
	if err != nil {
		return err
	}
	defer backend.Close(dev)

	opts := []petal.Option{petal.WithConfig(cfg)}
	if noCoalesce {
		opts = append(opts, petal.WithCoalescing(false))
	}
	pc, err := petal.NewContext(dev, opts...)
	if err != nil {
		return err
	}
	defer pc.Close()

	g, leaf, out, err := build(src.Descriptor(), steps)
	if err != nil {
		return err
	}
	ctx := context.Background()
	p, err := pc.Compile(ctx, g, []graph.NodeID{out})
	if err != nil {
		return err
	}
	if showPlan {
		fmt.Print(p)
	}
	res, err := pc.Run(ctx, p, map[graph.NodeID]*pixel.Image{leaf: src})
	if err != nil {
		return err
	}

	if err := savePNG(output, res.Image(out)); err != nil {
		return err
	}
	st := pc.Stats()
	log.Printf("saved %s (%d passes on %s, %d targets allocated)", output, res.Passes,
		dev.Capabilities().Name, st.Cache.Allocations)
	return nil
}

func openDevice(name string) (gpucore.Device, error) {
	if name == "" {
		return backend.OpenDefault()
	}
	dev, err := backend.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w (available: %s)", err, strings.Join(backend.Available(), ", "))
	}
	return dev, nil
}

func loadSource(path string, width, height int) (*pixel.Image, error) {
	if path == "" {
		return gradient(width, height), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return pixel.FromImage(img, pixel.FormatRGBA8Unorm, pixel.AlphaStraight), nil
}

func gradient(w, h int) *pixel.Image {
	img := pixel.NewImage(pixel.Descriptor{Width: w, Height: h, Format: pixel.FormatRGBA8Unorm})
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			t, s := float32(x)/float32(w), float32(y)/float32(h)
			img.SetPixel(x, y, pixel.Color{R: 0.1 + 0.8*t, G: 0.2 + 0.5*s, B: 0.9 - 0.6*t, A: 1})
		}
	}
	return img
}

func savePNG(path string, img *pixel.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img.ToNRGBA()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
