package op

import (
	"math"

	"github.com/gogpu/petal/pixel"
)

// ColorMatrix applies a 4x5 color transformation matrix.
//
//	[R']   [a00 a01 a02 a03 a04]   [R]
//	[G'] = [a10 a11 a12 a13 a14] * [G]
//	[B']   [a20 a21 a22 a23 a24]   [B]
//	[A']   [a30 a31 a32 a33 a34]   [A]
//	                               [1]
//
// The fifth column is a bias in normalized [0, 1] units. The matrix runs on
// straight-alpha colors and every result channel is clamped to [0, 1].
type ColorMatrix struct {
	// Matrix is the 4x5 matrix in row-major order.
	Matrix [20]float32
}

// IdentityMatrix passes colors through unchanged.
func IdentityMatrix() ColorMatrix {
	return ColorMatrix{Matrix: [20]float32{
		1, 0, 0, 0, 0,
		0, 1, 0, 0, 0,
		0, 0, 1, 0, 0,
		0, 0, 0, 1, 0,
	}}
}

// Saturation blends between luminance (0) and the original color (1).
// factor: 0.0 = grayscale, 1.0 = unchanged, 2.0 = oversaturated
func Saturation(factor float32) ColorMatrix {
	// Rec. 709 luminance weights
	const (
		lumR = 0.2126
		lumG = 0.7152
		lumB = 0.0722
	)
	inv := 1 - factor
	return ColorMatrix{Matrix: [20]float32{
		lumR*inv + factor, lumG * inv, lumB * inv, 0, 0,
		lumR * inv, lumG*inv + factor, lumB * inv, 0, 0,
		lumR * inv, lumG * inv, lumB*inv + factor, 0, 0,
		0, 0, 0, 1, 0,
	}}
}

// Grayscale converts to Rec. 709 luminance.
func Grayscale() ColorMatrix {
	return Saturation(0)
}

// Sepia applies a sepia tone.
func Sepia() ColorMatrix {
	return ColorMatrix{Matrix: [20]float32{
		0.393, 0.769, 0.189, 0, 0,
		0.349, 0.686, 0.168, 0, 0,
		0.272, 0.534, 0.131, 0, 0,
		0, 0, 0, 1, 0,
	}}
}

// HueRotate rotates hue by the given angle in degrees.
func HueRotate(degrees float32) ColorMatrix {
	rad := float64(degrees) * math.Pi / 180
	cos := float32(math.Cos(rad))
	sin := float32(math.Sin(rad))

	const (
		lumR = 0.213
		lumG = 0.715
		lumB = 0.072
	)
	return ColorMatrix{Matrix: [20]float32{
		lumR + cos*(1-lumR) + sin*(-lumR), lumG + cos*(-lumG) + sin*(-lumG), lumB + cos*(-lumB) + sin*(1-lumB), 0, 0,
		lumR + cos*(-lumR) + sin*(0.143), lumG + cos*(1-lumG) + sin*(0.140), lumB + cos*(-lumB) + sin*(-0.283), 0, 0,
		lumR + cos*(-lumR) + sin*(-(1 - lumR)), lumG + cos*(-lumG) + sin*(lumG), lumB + cos*(1-lumB) + sin*(lumB), 0, 0,
		0, 0, 0, 1, 0,
	}}
}

// Tint blends the image towards c by c.A.
func Tint(c pixel.Color) ColorMatrix {
	f := c.A
	inv := 1 - f
	return ColorMatrix{Matrix: [20]float32{
		inv, 0, 0, 0, c.R * f,
		0, inv, 0, 0, c.G * f,
		0, 0, inv, 0, c.B * f,
		0, 0, 0, 1, 0,
	}}
}

// Then returns the matrix that applies m first, then n.
func (m ColorMatrix) Then(n ColorMatrix) ColorMatrix {
	a := &n.Matrix
	b := &m.Matrix
	var r ColorMatrix
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += a[row*5+k] * b[k*5+col]
			}
			r.Matrix[row*5+col] = sum
		}
		r.Matrix[row*5+4] = a[row*5+0]*b[4] + a[row*5+1]*b[9] +
			a[row*5+2]*b[14] + a[row*5+3]*b[19] + a[row*5+4]
	}
	return r
}

func (ColorMatrix) Kind() Kind   { return KindPixel }
func (ColorMatrix) Code() string { return "colormatrix" }
func (ColorMatrix) Arity() int   { return 1 }
func (ColorMatrix) operation()   {}

func (m ColorMatrix) Uniforms() []float32 {
	u := make([]float32, len(m.Matrix))
	copy(u, m.Matrix[:])
	return u
}

func (m ColorMatrix) Validate() error {
	for i, v := range m.Matrix {
		if !finite(float64(v)) {
			return paramErr("colormatrix", "matrix", i, "entries must be finite")
		}
	}
	return nil
}

func (m ColorMatrix) Output(in []pixel.Descriptor) (pixel.Descriptor, error) {
	return primaryOutput(in), nil
}

var _ Operation = ColorMatrix{}
