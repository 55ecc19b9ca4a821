package op

import (
	"image"

	"golang.org/x/image/math/f64"

	"github.com/gogpu/petal/pixel"
)

// Filter selects the resampling interpolator.
type Filter uint8

const (
	// FilterNearest picks the closest source pixel.
	FilterNearest Filter = iota

	// FilterBilinear interpolates the four closest source pixels.
	FilterBilinear

	// FilterCatmullRom uses a Catmull-Rom cubic kernel.
	FilterCatmullRom

	filterCount
)

// String returns the filter name used in program codes.
func (f Filter) String() string {
	switch f {
	case FilterNearest:
		return "nearest"
	case FilterBilinear:
		return "bilinear"
	case FilterCatmullRom:
		return "catmullrom"
	default:
		return "unknown"
	}
}

// ParseFilter parses a filter name.
func ParseFilter(s string) (Filter, bool) {
	for f := FilterNearest; f < filterCount; f++ {
		if f.String() == s {
			return f, true
		}
	}
	return 0, false
}

// Resample maps its input through an affine transform into a Width x
// Height target. Transform maps source coordinates to destination
// coordinates (the x/image/draw convention). Destination pixels whose
// source position falls outside the input are transparent.
type Resample struct {
	Width     int
	Height    int
	Transform f64.Aff3
	Filter    Filter
}

// Scale resizes an input of size in to w x h.
func Scale(in pixel.Descriptor, w, h int, f Filter) Resample {
	sx := float64(w) / float64(in.Width)
	sy := float64(h) / float64(in.Height)
	return Resample{
		Width:     w,
		Height:    h,
		Transform: f64.Aff3{sx, 0, 0, 0, sy, 0},
		Filter:    f,
	}
}

// Crop extracts r from its input.
func Crop(r image.Rectangle) Resample {
	return Resample{
		Width:     r.Dx(),
		Height:    r.Dy(),
		Transform: f64.Aff3{1, 0, float64(-r.Min.X), 0, 1, float64(-r.Min.Y)},
		Filter:    FilterNearest,
	}
}

// Affine creates a resample with an explicit transform.
func Affine(m f64.Aff3, w, h int, f Filter) Resample {
	return Resample{Width: w, Height: h, Transform: m, Filter: f}
}

func (Resample) Kind() Kind     { return KindResample }
func (Resample) Arity() int     { return 1 }
func (Resample) operation()     {}
func (o Resample) Code() string { return "resample." + o.Filter.String() }

// Uniforms packs the source-to-destination matrix followed by its inverse.
func (o Resample) Uniforms() []float32 {
	inv := Invert3(o.Transform)
	u := make([]float32, 0, 12)
	for _, v := range o.Transform {
		u = append(u, float32(v))
	}
	for _, v := range inv {
		u = append(u, float32(v))
	}
	return u
}

func (o Resample) Validate() error {
	if o.Width <= 0 || o.Width > pixel.MaxDimension {
		return paramErr("resample", "width", o.Width, "out of range")
	}
	if o.Height <= 0 || o.Height > pixel.MaxDimension {
		return paramErr("resample", "height", o.Height, "out of range")
	}
	if o.Filter >= filterCount {
		return paramErr("resample", "filter", o.Filter, "unknown filter")
	}
	for _, v := range o.Transform {
		if !finite(v) {
			return paramErr("resample", "transform", o.Transform, "entries must be finite")
		}
	}
	if det(o.Transform) == 0 {
		return paramErr("resample", "transform", o.Transform, "matrix is singular")
	}
	return nil
}

func (o Resample) Output(in []pixel.Descriptor) (pixel.Descriptor, error) {
	d := primaryOutput(in)
	d.Width = o.Width
	d.Height = o.Height
	return d, nil
}

var _ Operation = Resample{}

func det(m f64.Aff3) float64 {
	return m[0]*m[4] - m[1]*m[3]
}

// Invert3 returns the inverse of an invertible affine matrix.
func Invert3(m f64.Aff3) f64.Aff3 {
	d := det(m)
	if d == 0 {
		return f64.Aff3{}
	}
	inv := 1 / d
	a := m[4] * inv
	b := -m[1] * inv
	c := -m[3] * inv
	e := m[0] * inv
	return f64.Aff3{
		a, b, -(a*m[2] + b*m[5]),
		c, e, -(c*m[2] + e*m[5]),
	}
}
