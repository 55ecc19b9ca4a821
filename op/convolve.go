package op

import (
	"fmt"
	"math"

	"github.com/gogpu/petal/pixel"
)

// MaxKernelSize bounds convolution kernels in both directions.
const MaxKernelSize = 15

// MaxBlurRadius bounds blur radii.
const MaxBlurRadius = 64

// Convolution applies a Size x Size kernel with clamp-to-edge sampling.
// Weights are row-major; Bias is added after weighting. The kernel runs on
// premultiplied colors so transparent pixels do not bleed color.
type Convolution struct {
	Size    int
	Weights []float32
	Bias    float32
}

// Sharpen creates a 3x3 sharpening kernel of the given strength.
func Sharpen(amount float32) Convolution {
	return Convolution{
		Size: 3,
		Weights: []float32{
			0, -amount, 0,
			-amount, 1 + 4*amount, -amount,
			0, -amount, 0,
		},
	}
}

func (Convolution) Kind() Kind   { return KindCompute }
func (Convolution) Code() string { return "convolve" }
func (Convolution) Arity() int   { return 1 }
func (Convolution) operation()   {}

// Uniforms packs size, bias and the weights.
func (o Convolution) Uniforms() []float32 {
	u := make([]float32, 0, 2+len(o.Weights))
	u = append(u, float32(o.Size), o.Bias)
	return append(u, o.Weights...)
}

func (o Convolution) Validate() error {
	if o.Size < 1 || o.Size > MaxKernelSize || o.Size%2 == 0 {
		return paramErr("convolve", "size", o.Size, fmt.Sprintf("must be odd and in [1, %d]", MaxKernelSize))
	}
	if len(o.Weights) != o.Size*o.Size {
		return paramErr("convolve", "weights", len(o.Weights), fmt.Sprintf("need %d weights", o.Size*o.Size))
	}
	for _, w := range o.Weights {
		if !finite(float64(w)) {
			return paramErr("convolve", "weights", w, "must be finite")
		}
	}
	return checkRange("convolve", "bias", float64(o.Bias), -1, 1)
}

func (o Convolution) Output(in []pixel.Descriptor) (pixel.Descriptor, error) {
	return primaryOutput(in), nil
}

// GaussianBlur blurs with a separable Gaussian of standard deviation Radius.
type GaussianBlur struct {
	Radius float64
}

func (GaussianBlur) Kind() Kind   { return KindCompute }
func (GaussianBlur) Code() string { return "blur.separable" }
func (GaussianBlur) Arity() int   { return 1 }
func (GaussianBlur) operation()   {}

// Uniforms packs the kernel length followed by the 1D kernel.
func (o GaussianBlur) Uniforms() []float32 {
	return packKernel(GaussianKernel(o.Radius))
}

func (o GaussianBlur) Validate() error {
	return checkRange("blur", "radius", o.Radius, 0, MaxBlurRadius)
}

func (o GaussianBlur) Output(in []pixel.Descriptor) (pixel.Descriptor, error) {
	return primaryOutput(in), nil
}

// BoxBlur blurs with a separable uniform kernel of 2*Radius+1 taps.
type BoxBlur struct {
	Radius int
}

func (BoxBlur) Kind() Kind   { return KindCompute }
func (BoxBlur) Code() string { return "blur.separable" }
func (BoxBlur) Arity() int   { return 1 }
func (BoxBlur) operation()   {}

// Uniforms packs the kernel length followed by the 1D kernel.
func (o BoxBlur) Uniforms() []float32 {
	return packKernel(BoxKernel(o.Radius))
}

func (o BoxBlur) Validate() error {
	if o.Radius < 0 || o.Radius > MaxBlurRadius {
		return paramErr("blur", "radius", o.Radius, fmt.Sprintf("must be in [0, %d]", MaxBlurRadius))
	}
	return nil
}

func (o BoxBlur) Output(in []pixel.Descriptor) (pixel.Descriptor, error) {
	return primaryOutput(in), nil
}

var (
	_ Operation = Convolution{}
	_ Operation = GaussianBlur{}
	_ Operation = BoxBlur{}
)

func packKernel(k []float32) []float32 {
	u := make([]float32, 0, 1+len(k))
	u = append(u, float32(len(k)))
	return append(u, k...)
}

// UnpackKernel splits separable blur uniforms into the 1D kernel.
func UnpackKernel(u []float32) []float32 {
	if len(u) == 0 {
		return []float32{1}
	}
	n := int(u[0])
	if n <= 0 || 1+n > len(u) {
		return []float32{1}
	}
	return u[1 : 1+n]
}

// GaussianKernel generates a 1D Gaussian kernel for the given radius.
// The kernel is normalized so all values sum to 1.0.
//
// The kernel size is computed as 2 * ceil(radius * 3) + 1, which covers
// 99.7% of the Gaussian distribution (3 standard deviations).
//
// For radius <= 0, returns a single-element kernel [1.0] (identity).
func GaussianKernel(radius float64) []float32 {
	if radius <= 0 {
		return []float32{1.0}
	}

	sigma := radius
	halfSize := int(math.Ceil(sigma * 3))
	size := halfSize*2 + 1

	kernel := make([]float32, size)

	// G(x) = exp(-x²/(2σ²)); the constant factor cancels in normalization.
	twoSigmaSq := 2 * sigma * sigma
	sum := float64(0)

	for i := 0; i < size; i++ {
		x := float64(i - halfSize)
		val := math.Exp(-(x * x) / twoSigmaSq)
		kernel[i] = float32(val)
		sum += val
	}

	if sum > 0 {
		invSum := float32(1.0 / sum)
		for i := range kernel {
			kernel[i] *= invSum
		}
	}

	return kernel
}

// BoxKernel generates a 1D box (uniform) kernel for the given radius.
// All values are equal: 1/(2*radius+1).
func BoxKernel(radius int) []float32 {
	if radius <= 0 {
		return []float32{1.0}
	}

	size := radius*2 + 1
	kernel := make([]float32, size)
	val := float32(1.0) / float32(size)

	for i := range kernel {
		kernel[i] = val
	}

	return kernel
}

// KernelSize returns the Gaussian kernel length for a radius.
func KernelSize(radius float64) int {
	if radius <= 0 {
		return 1
	}
	return int(math.Ceil(radius*3))*2 + 1
}
