//go:build !nogpu

package wgpu

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/gogpu/petal/backend/software"
	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/op"
	"github.com/gogpu/petal/pixel"
)

// openDevice returns a GPU device or skips the test when none is present.
func openDevice(t *testing.T) *Device {
	t.Helper()
	d, err := New()
	if err != nil {
		t.Skipf("GPU not available: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestPackFloats(t *testing.T) {
	in := []float32{0, 1, -2.5, float32(math.Inf(1)), 0.1}
	out := unpackFloats(packFloats(in))
	for i := range in {
		if math.Float32bits(in[i]) != math.Float32bits(out[i]) {
			t.Errorf("float %d: got %v, want %v", i, out[i], in[i])
		}
	}
}

func TestPackParams(t *testing.T) {
	b := packParams(3, 4, 5, 6)
	if len(b) != 16 || b[0] != 3 || b[4] != 4 || b[8] != 5 || b[12] != 6 {
		t.Errorf("packParams = %v", b)
	}
}

func TestCompileSPIRV(t *testing.T) {
	src := gpucore.ProgramSource{
		Kind:   op.KindPixel,
		Stages: []gpucore.Stage{{Code: "brightness"}, {Code: "invert"}},
		Inputs: []pixel.AlphaType{pixel.AlphaStraight},
		Format: pixel.FormatRGBA8Unorm,
	}
	words, err := compileSPIRV(src)
	if err != nil {
		t.Fatalf("compileSPIRV() error = %v", err)
	}
	const spirvMagic = 0x07230203
	if len(words) == 0 || words[0] != spirvMagic {
		t.Errorf("SPIR-V header = %#x, want %#x", words[0], spirvMagic)
	}
}

func TestClosedDeviceIsLost(t *testing.T) {
	d := newDevice(nil)
	_, err := d.Allocate(gpucore.TargetDescriptor{Width: 1, Height: 1, Format: pixel.FormatRGBA8Unorm})
	if !errors.Is(err, gpucore.ErrDeviceLost) {
		t.Errorf("Allocate() on closed device error = %v, want ErrDeviceLost", err)
	}
}

// =============================================================================
// GPU tests (skip without an adapter)
// =============================================================================

func TestUploadReadback(t *testing.T) {
	d := openDevice(t)
	desc := pixel.Descriptor{Width: 3, Height: 2, Format: pixel.FormatRGBA8Unorm}
	img := pixel.NewImage(desc)
	img.SetPixel(1, 1, pixel.Color{R: 0.2, G: 0.4, B: 0.6, A: 0.8})

	id, err := d.Allocate(gpucore.TargetFor(desc, gpucore.UsageLeaf))
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	defer d.Free(id)
	if err := d.Upload(id, img); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	out := pixel.NewImage(desc)
	if err := d.Readback(id, out); err != nil {
		t.Fatalf("Readback() error = %v", err)
	}
	if diff := pixel.MaxDiff(img, out); diff != 0 {
		t.Errorf("round trip max diff = %g", diff)
	}
}

func TestPointwiseMatchesSoftware(t *testing.T) {
	d := openDevice(t)
	ref := software.New()
	desc := pixel.Descriptor{Width: 8, Height: 8, Format: pixel.FormatRGBA8Unorm}
	img := pixel.NewImage(desc)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetPixel(x, y, pixel.Color{R: float32(x) / 7, G: float32(y) / 7, B: 0.5, A: 1})
		}
	}
	src := gpucore.ProgramSource{
		Kind:   op.KindPixel,
		Stages: []gpucore.Stage{{Code: "brightness"}, {Code: "contrast"}},
		Inputs: []pixel.AlphaType{pixel.AlphaStraight},
		Format: desc.Format,
	}
	u := [][]float32{{0.1}, {1.2, 0}}

	gpu := dispatchOnce(t, d, src, img, u)
	cpu := dispatchOnce(t, ref, src, img, u)
	if diff := pixel.MaxDiff(gpu, cpu); diff > 1.0/255+1e-6 {
		t.Errorf("GPU vs software max diff = %g", diff)
	}
}

func dispatchOnce(t *testing.T, d gpucore.Device, src gpucore.ProgramSource, img *pixel.Image, u [][]float32) *pixel.Image {
	t.Helper()
	prog, err := d.Compile(src)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	defer d.DestroyProgram(prog)
	desc := img.Descriptor()
	in, err := d.Allocate(gpucore.TargetFor(desc, gpucore.UsageLeaf))
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	defer d.Free(in)
	out, err := d.Allocate(gpucore.TargetFor(desc, gpucore.UsageOutput))
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	defer d.Free(out)
	if err := d.Upload(in, img); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	err = d.Dispatch(context.Background(), &gpucore.Dispatch{
		Program: prog, Inputs: []gpucore.ResourceID{in}, Output: out,
		Width: desc.Width, Height: desc.Height, Uniforms: u,
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	res := pixel.NewImage(desc)
	if err := d.Readback(out, res); err != nil {
		t.Fatalf("Readback() error = %v", err)
	}
	return res
}
