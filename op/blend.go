package op

import (
	"math"

	"github.com/gogpu/petal/pixel"
)

// BlendMode selects the W3C separable blend function B(Cb, Cs).
type BlendMode uint8

// Blend modes follow W3C Compositing and Blending Level 1.
const (
	BlendNormal     BlendMode = iota // Cs
	BlendMultiply                    // Cb * Cs
	BlendScreen                      // 1 - (1-Cb)*(1-Cs)
	BlendOverlay                     // HardLight with swapped layers
	BlendDarken                      // min(Cb, Cs)
	BlendLighten                     // max(Cb, Cs)
	BlendColorDodge                  // Cb / (1 - Cs)
	BlendColorBurn                   // 1 - (1 - Cb) / Cs
	BlendHardLight                   // Multiply or Screen depending on source
	BlendSoftLight                   // soft version of HardLight
	BlendDifference                  // |Cb - Cs|
	BlendExclusion                   // Cb + Cs - 2*Cb*Cs
	BlendAdd                         // min(1, Cb + Cs)

	blendModeCount
)

var blendModeNames = [blendModeCount]string{
	"normal", "multiply", "screen", "overlay", "darken", "lighten",
	"colordodge", "colorburn", "hardlight", "softlight", "difference",
	"exclusion", "add",
}

// String returns the mode name used in program codes.
func (m BlendMode) String() string {
	if m >= blendModeCount {
		return "unknown"
	}
	return blendModeNames[m]
}

// ParseBlendMode parses a mode name.
func ParseBlendMode(s string) (BlendMode, bool) {
	for i, n := range blendModeNames {
		if n == s {
			return BlendMode(i), true
		}
	}
	return 0, false
}

// Blend composites input 1 (source) over input 0 (backdrop) with a blend
// mode. Intensity mixes the result with the untouched backdrop.
//
// Input 0 is the primary input: a Blend coalesces with the operations
// producing its backdrop, while the source is always materialized.
type Blend struct {
	Mode      BlendMode
	Intensity float32
}

// NewBlend creates a blend at full intensity.
func NewBlend(mode BlendMode) Blend { return Blend{Mode: mode, Intensity: 1} }

func (Blend) Kind() Kind     { return KindBlend }
func (Blend) Arity() int     { return 2 }
func (Blend) operation()     {}
func (o Blend) Code() string { return "blend." + o.Mode.String() }

func (o Blend) Uniforms() []float32 { return []float32{o.Intensity} }

func (o Blend) Validate() error {
	if o.Mode >= blendModeCount {
		return paramErr("blend", "mode", o.Mode, "unknown blend mode")
	}
	return checkRange("blend", "intensity", float64(o.Intensity), 0, 1)
}

func (o Blend) Output(in []pixel.Descriptor) (pixel.Descriptor, error) {
	if !in[0].SameSize(in[1]) {
		return pixel.Descriptor{}, paramErr("blend", "inputs", in[1], "source size must match backdrop "+in[0].String())
	}
	return primaryOutput(in), nil
}

var _ Operation = Blend{}

// blendChannel returns B(cb, cs) for one straight channel.
func blendChannel(mode BlendMode, cb, cs float32) float32 {
	switch mode {
	case BlendMultiply:
		return cb * cs
	case BlendScreen:
		return cb + cs - cb*cs
	case BlendOverlay:
		return hardLight(cs, cb)
	case BlendDarken:
		return min(cb, cs)
	case BlendLighten:
		return max(cb, cs)
	case BlendColorDodge:
		switch {
		case cb == 0:
			return 0
		case cs >= 1:
			return 1
		default:
			return min(1, cb/(1-cs))
		}
	case BlendColorBurn:
		switch {
		case cb >= 1:
			return 1
		case cs <= 0:
			return 0
		default:
			return 1 - min(1, (1-cb)/cs)
		}
	case BlendHardLight:
		return hardLight(cb, cs)
	case BlendSoftLight:
		return softLight(cb, cs)
	case BlendDifference:
		if cb > cs {
			return cb - cs
		}
		return cs - cb
	case BlendExclusion:
		return cb + cs - 2*cb*cs
	case BlendAdd:
		return min(1, cb+cs)
	default:
		return cs
	}
}

func hardLight(cb, cs float32) float32 {
	if cs <= 0.5 {
		return cb * 2 * cs
	}
	s := 2*cs - 1
	return cb + s - cb*s
}

func softLight(cb, cs float32) float32 {
	if cs <= 0.5 {
		return cb - (1-2*cs)*cb*(1-cb)
	}
	var d float32
	if cb <= 0.25 {
		d = ((16*cb-12)*cb + 4) * cb
	} else {
		d = float32(math.Sqrt(float64(cb)))
	}
	return cb + (2*cs-1)*(d-cb)
}

// blendPixel composites straight source s over straight backdrop b:
//
//	Cs' = (1 - ab)*Cs + ab*B(Cb, Cs)
//	ao  = as + ab*(1 - as)
//	co  = as*Cs' + (1 - as)*ab*Cb
func blendPixel(mode BlendMode, b, s pixel.Color) pixel.Color {
	ao := s.A + b.A*(1-s.A)
	if ao <= 0 {
		return pixel.Color{}
	}
	ch := func(cb, cs float32) float32 {
		mixed := (1-b.A)*cs + b.A*blendChannel(mode, cb, cs)
		return (s.A*mixed + (1-s.A)*b.A*cb) / ao
	}
	return pixel.Color{
		R: ch(b.R, s.R),
		G: ch(b.G, s.G),
		B: ch(b.B, s.B),
		A: ao,
	}
}
