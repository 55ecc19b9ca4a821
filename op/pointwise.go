package op

import (
	"math"

	"github.com/gogpu/petal/pixel"
)

// PointFunc evaluates one pointwise stage. u holds the stage uniforms, c is
// the primary input and extra holds secondary inputs in order. All colors
// are straight alpha.
type PointFunc func(u []float32, c pixel.Color, extra []pixel.Color) pixel.Color

// pointFuncs maps program codes of pixel and blend operations to their
// reference implementation.
var pointFuncs = map[string]PointFunc{
	"brightness":  evalBrightness,
	"contrast":    evalContrast,
	"exposure":    evalExposure,
	"gamma":       evalGamma,
	"invert":      evalInvert,
	"opacity":     evalOpacity,
	"colormatrix": evalColorMatrix,
	"convert":     evalConvert,
}

func init() {
	for m := BlendMode(0); m < blendModeCount; m++ {
		mode := m
		pointFuncs[Blend{Mode: mode}.Code()] = func(u []float32, c pixel.Color, extra []pixel.Color) pixel.Color {
			out := blendPixel(mode, c, extra[0])
			if u[0] >= 1 {
				return out.Clamp()
			}
			return c.Lerp(out, u[0]).Clamp()
		}
	}
}

// Pointwise returns the reference function for a pixel or blend code.
func Pointwise(code string) (PointFunc, bool) {
	f, ok := pointFuncs[code]
	return f, ok
}

// Extra returns the number of secondary inputs a pointwise code reads.
func Extra(code string) int {
	if len(code) > 6 && code[:6] == "blend." {
		return 1
	}
	return 0
}

func mapRGB(c pixel.Color, f func(float32) float32) pixel.Color {
	return pixel.Color{R: pixel.Clamp01(f(c.R)), G: pixel.Clamp01(f(c.G)), B: pixel.Clamp01(f(c.B)), A: c.A}
}

func evalBrightness(u []float32, c pixel.Color, _ []pixel.Color) pixel.Color {
	amount := u[0]
	return mapRGB(c, func(v float32) float32 { return v + amount })
}

func evalContrast(u []float32, c pixel.Color, _ []pixel.Color) pixel.Color {
	amount, pivot := u[0], u[1]
	// Explicit conversion keeps the multiply and add unfused.
	return mapRGB(c, func(v float32) float32 { return float32((v-pivot)*amount) + pivot })
}

func evalExposure(u []float32, c pixel.Color, _ []pixel.Color) pixel.Color {
	gain := u[0]
	return mapRGB(c, func(v float32) float32 { return v * gain })
}

func evalGamma(u []float32, c pixel.Color, _ []pixel.Color) pixel.Color {
	inv := float64(u[0])
	return mapRGB(c, func(v float32) float32 {
		if v <= 0 {
			return 0
		}
		return float32(math.Pow(float64(v), inv))
	})
}

func evalInvert(_ []float32, c pixel.Color, _ []pixel.Color) pixel.Color {
	return mapRGB(c, func(v float32) float32 { return 1 - v })
}

func evalOpacity(u []float32, c pixel.Color, _ []pixel.Color) pixel.Color {
	c.A = pixel.Clamp01(c.A * u[0])
	return c
}

func evalColorMatrix(m []float32, c pixel.Color, _ []pixel.Color) pixel.Color {
	return pixel.Color{
		R: m[0]*c.R + m[1]*c.G + m[2]*c.B + m[3]*c.A + m[4],
		G: m[5]*c.R + m[6]*c.G + m[7]*c.B + m[8]*c.A + m[9],
		B: m[10]*c.R + m[11]*c.G + m[12]*c.B + m[13]*c.A + m[14],
		A: m[15]*c.R + m[16]*c.G + m[17]*c.B + m[18]*c.A + m[19],
	}.Clamp()
}

func evalConvert(_ []float32, c pixel.Color, _ []pixel.Color) pixel.Color {
	return c
}
