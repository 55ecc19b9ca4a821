package software

import (
	"fmt"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/internal/parallel"
	"github.com/gogpu/petal/op"
	"github.com/gogpu/petal/pixel"
)

// kernel executes a program, splitting rows over pool where it can.
type kernel func(pool *parallel.Pool, ins []*target, out *target, u [][]float32) error

type program struct {
	src   gpucore.ProgramSource
	label string
	run   kernel
}

// Compile implements gpucore.Device.
func (d *Device) Compile(src gpucore.ProgramSource) (gpucore.ProgramID, error) {
	d.mu.Lock()
	err := d.checkLocked(CallCompile)
	d.mu.Unlock()
	if err != nil {
		return gpucore.InvalidID, err
	}
	if err := src.Validate(); err != nil {
		return gpucore.InvalidID, err
	}

	p := &program{src: src, label: label(src)}
	switch src.Kind {
	case op.KindPixel, op.KindBlend:
		p.run, err = pointwise(src)
	case op.KindResample:
		p.run, err = resample(src)
	case op.KindCompute:
		p.run, err = compute(src)
	default:
		err = fmt.Errorf("software: unknown program kind %v", src.Kind)
	}
	if err != nil {
		return gpucore.InvalidID, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	id := gpucore.ProgramID(d.next)
	d.programs[id] = p
	d.stats.Compiles++
	return id, nil
}

// DestroyProgram implements gpucore.Device.
func (d *Device) DestroyProgram(id gpucore.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.programs[id]; ok {
		delete(d.programs, id)
		d.stats.Destroys++
	}
}

func label(src gpucore.ProgramSource) string {
	codes := make([]string, len(src.Stages))
	for i, st := range src.Stages {
		codes[i] = st.Code
	}
	return strings.Join(codes, "|")
}

// =============================================================================
// Pointwise
// =============================================================================

func pointwise(src gpucore.ProgramSource) (kernel, error) {
	funcs := make([]op.PointFunc, len(src.Stages))
	for i, st := range src.Stages {
		f, ok := op.Pointwise(st.Code)
		if !ok {
			return nil, fmt.Errorf("software: no pointwise kernel for %q", st.Code)
		}
		if op.Extra(st.Code) != st.Extra {
			return nil, fmt.Errorf("software: %q reads %d secondary inputs, stage declares %d", st.Code, op.Extra(st.Code), st.Extra)
		}
		funcs[i] = f
	}
	format := src.Format
	last := len(src.Stages) - 1

	return func(pool *parallel.Pool, ins []*target, out *target, u [][]float32) error {
		for i, t := range ins {
			if t.desc.Width != out.desc.Width || t.desc.Height != out.desc.Height {
				return fmt.Errorf("software: pointwise input %d is %v, output %v", i, t.desc, out.desc)
			}
		}
		w := out.desc.Width
		pool.Rows(out.desc.Height, func(y0, y1 int) {
			extra := make([]pixel.Color, 0, len(ins))
			for px := y0 * w; px < y1*w; px++ {
				o := px * 4
				c := pixel.Decode(stored(ins[0].pix, o), src.Inputs[0])
				next := 1
				for i, st := range src.Stages {
					extra = extra[:0]
					for k := 0; k < st.Extra; k++ {
						extra = append(extra, pixel.Decode(stored(ins[next].pix, o), src.Inputs[next]))
						next++
					}
					c = funcs[i](u[i], c, extra)
					if i < last {
						c = pixel.RoundTrip(c, format, st.Alpha)
					}
				}
				s := pixel.Encode(c, format, src.Stages[last].Alpha)
				copy(out.pix[o:o+4], s[:])
			}
		})
		return nil
	}, nil
}

func stored(pix []float32, o int) pixel.Stored {
	return pixel.Stored{pix[o], pix[o+1], pix[o+2], pix[o+3]}
}

// =============================================================================
// Resample
// =============================================================================

var interpolators = map[string]draw.Interpolator{
	"resample." + op.FilterNearest.String():    draw.NearestNeighbor,
	"resample." + op.FilterBilinear.String():   draw.BiLinear,
	"resample." + op.FilterCatmullRom.String(): draw.CatmullRom,
}

func resample(src gpucore.ProgramSource) (kernel, error) {
	st := src.Stages[0]
	interp, ok := interpolators[st.Code]
	if !ok {
		return nil, fmt.Errorf("software: no resample kernel for %q", st.Code)
	}
	inAlpha := src.Inputs[0]

	return func(pool *parallel.Pool, ins []*target, out *target, u [][]float32) error {
		if len(u[0]) < 6 {
			return fmt.Errorf("software: %s: need 6 uniforms, got %d", st.Code, len(u[0]))
		}
		var m f64.Aff3
		for i := range m {
			m[i] = float64(u[0][i])
		}
		in := ins[0].view(inAlpha)
		dst := out.view(st.Alpha)
		clear(dst.Pix)
		interp.Transform(dst, m, in, in.Bounds(), draw.Src, nil)
		return nil
	}, nil
}

// =============================================================================
// Compute
// =============================================================================

func compute(src gpucore.ProgramSource) (kernel, error) {
	st := src.Stages[0]
	inAlpha := src.Inputs[0]

	switch st.Code {
	case "convolve":
		return func(pool *parallel.Pool, ins []*target, out *target, u [][]float32) error {
			if len(u[0]) < 2 {
				return fmt.Errorf("software: convolve: missing uniforms")
			}
			size := int(u[0][0])
			if 2+size*size > len(u[0]) {
				return fmt.Errorf("software: convolve: %d weights for size %d", len(u[0])-2, size)
			}
			convolve(pool, ins[0].view(inAlpha), out.view(st.Alpha), size, u[0][2:2+size*size], u[0][1])
			return nil
		}, nil
	case "blur.separable":
		return func(pool *parallel.Pool, ins []*target, out *target, u [][]float32) error {
			separable(pool, ins[0].view(inAlpha), out.view(st.Alpha), op.UnpackKernel(u[0]))
			return nil
		}, nil
	}
	return nil, fmt.Errorf("software: no compute kernel for %q", st.Code)
}

type premul [4]float32

func premultiplied(c pixel.Color) premul {
	return premul{c.R * c.A, c.G * c.A, c.B * c.A, c.A}
}

// color clamps p to a valid premultiplied color and returns it straight.
func (p premul) color() pixel.Color {
	a := pixel.Clamp01(p[3])
	if a <= 0 {
		return pixel.Color{}
	}
	ch := func(v float32) float32 { return min(pixel.Clamp01(v), a) / a }
	return pixel.Color{R: ch(p[0]), G: ch(p[1]), B: ch(p[2]), A: a}
}

func convolve(pool *parallel.Pool, in, out *pixel.Image, size int, weights []float32, bias float32) {
	r := size / 2
	pool.Rows(out.Height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < out.Width; x++ {
				var acc premul
				for ky := 0; ky < size; ky++ {
					for kx := 0; kx < size; kx++ {
						w := weights[ky*size+kx]
						p := premultiplied(in.PixelClamped(x+kx-r, y+ky-r))
						for i := range acc {
							acc[i] += w * p[i]
						}
					}
				}
				for i := 0; i < 3; i++ {
					acc[i] += bias * acc[3]
				}
				out.SetPixel(x, y, acc.color())
			}
		}
	})
}

// separable runs a horizontal then a vertical pass over premultiplied
// colors without intermediate quantization.
func separable(pool *parallel.Pool, in, out *pixel.Image, taps []float32) {
	w, h := in.Width, in.Height
	r := len(taps) / 2
	tmp := make([]premul, w*h)
	pool.Rows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				var acc premul
				for k, kw := range taps {
					p := premultiplied(in.PixelClamped(x+k-r, y))
					for i := range acc {
						acc[i] += kw * p[i]
					}
				}
				tmp[y*w+x] = acc
			}
		}
	})
	pool.Rows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				var acc premul
				for k, kw := range taps {
					sy := min(max(y+k-r, 0), h-1)
					p := tmp[sy*w+x]
					for i := range acc {
						acc[i] += kw * p[i]
					}
				}
				out.SetPixel(x, y, acc.color())
			}
		}
	})
}
