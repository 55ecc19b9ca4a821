// Package shader generates WGSL compute shaders for petal programs.
//
// Every program uses the same binding layout:
//
//	@binding(0)        uniform Params {width, height, src_width, src_height}
//	@binding(1)        read-only storage array<f32>: stage uniforms
//	@binding(2..2+n-1) read-only storage array<vec4<f32>>: inputs
//	@binding(2+n)      read-write storage array<vec4<f32>>: output
//
// Pixels are stored as one vec4<f32> per pixel holding the quantized
// values of the target's format in the target's alpha convention. The
// uniform array starts with one offset per stage followed by the packed
// stage parameters.
package shader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/op"
	"github.com/gogpu/petal/pixel"
)

// WorkgroupSize is the edge length of the square compute workgroup.
const WorkgroupSize = 8

// ParamsSize is the size in bytes of the Params uniform block.
const ParamsSize = 16

// ErrUnsupported is returned for a program the generator cannot express.
var ErrUnsupported = errors.New("shader: unsupported program")

// Bindings returns the number of bindings a program uses.
func Bindings(src gpucore.ProgramSource) int {
	return 3 + src.NumInputs()
}

// OutputBinding returns the binding index of the output buffer.
func OutputBinding(src gpucore.ProgramSource) int {
	return 2 + src.NumInputs()
}

// PackUniforms lays out per-stage uniforms as the program reads them: one
// offset per stage, then every stage's values.
func PackUniforms(stages [][]float32) []float32 {
	n := len(stages)
	total := n
	for _, u := range stages {
		total += len(u)
	}
	out := make([]float32, n, max(total, 1))
	off := n
	for i, u := range stages {
		out[i] = float32(off)
		out = append(out, u...)
		off += len(u)
	}
	if len(out) == 0 {
		// Zero sized storage bindings are invalid.
		out = append(out, 0)
	}
	return out
}

// Generate returns the WGSL source of src.
func Generate(src gpucore.ProgramSource) (string, error) {
	if err := src.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	var b strings.Builder
	b.WriteString(header)
	writeBindings(&b, src)
	writeFormat(&b, src.Format)

	switch src.Kind {
	case op.KindPixel, op.KindBlend:
		if err := writePointwise(&b, src); err != nil {
			return "", err
		}
	case op.KindResample:
		if err := writeResample(&b, src); err != nil {
			return "", err
		}
	case op.KindCompute:
		if err := writeCompute(&b, src); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: kind %v", ErrUnsupported, src.Kind)
	}
	return b.String(), nil
}

func writeBindings(b *strings.Builder, src gpucore.ProgramSource) {
	n := src.NumInputs()
	for i := 0; i < n; i++ {
		fmt.Fprintf(b, "@group(0) @binding(%d) var<storage, read> in%d: array<vec4<f32>>;\n", 2+i, i)
	}
	fmt.Fprintf(b, "@group(0) @binding(%d) var<storage, read_write> dst: array<vec4<f32>>;\n\n", 2+n)
}

// writeFormat emits quantize, encode and decode for the target format.
func writeFormat(b *strings.Builder, f pixel.Format) {
	switch {
	case f.IsFloat():
		b.WriteString("fn quantize(v: f32) -> f32 { return v; }\n")
	default:
		b.WriteString("fn quantize(v: f32) -> f32 { return floor(clamp(v, 0.0, 1.0) * 255.0 + 0.5) / 255.0; }\n")
	}
	b.WriteString(alphaHelpers)

	switch {
	case f == pixel.FormatR8Unorm:
		b.WriteString(`fn encode(c: vec4<f32>, alpha: u32) -> vec4<f32> {
    return vec4<f32>(quantize(c.r), 0.0, 0.0, 1.0);
}
`)
	case !f.HasAlpha():
		b.WriteString(`fn encode(c: vec4<f32>, alpha: u32) -> vec4<f32> {
    return quantize4(vec4<f32>(c.rgb, 1.0));
}
`)
	default:
		b.WriteString(`fn encode(c: vec4<f32>, alpha: u32) -> vec4<f32> {
    var s = c;
    if alpha == ALPHA_OPAQUE {
        s.a = 1.0;
    }
    if alpha == ALPHA_PREMULTIPLIED {
        s = vec4<f32>(s.rgb * s.a, s.a);
    }
    return quantize4(s);
}
`)
	}
	b.WriteString(`fn roundtrip(c: vec4<f32>, alpha: u32) -> vec4<f32> {
    return decode(encode(c, alpha), alpha);
}

`)
}

func alphaConst(a pixel.AlphaType) string {
	switch a {
	case pixel.AlphaPremultiplied:
		return "ALPHA_PREMULTIPLIED"
	case pixel.AlphaOpaque:
		return "ALPHA_OPAQUE"
	default:
		return "ALPHA_STRAIGHT"
	}
}

// stageName returns the WGSL function name of a program code.
func stageName(code string) string {
	return "stage_" + strings.ReplaceAll(code, ".", "_")
}
