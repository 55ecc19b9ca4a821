package op

import (
	"math"

	"github.com/gogpu/petal/pixel"
)

// Brightness adds Amount to the color channels.
// Amount: -1 = black, 0 = unchanged, 1 = white.
type Brightness struct {
	Amount float32
}

// NewBrightness creates a brightness adjustment.
func NewBrightness(amount float32) Brightness { return Brightness{Amount: amount} }

func (Brightness) Kind() Kind            { return KindPixel }
func (Brightness) Code() string          { return "brightness" }
func (Brightness) Arity() int            { return 1 }
func (Brightness) operation()            {}
func (o Brightness) Uniforms() []float32 { return []float32{o.Amount} }

func (o Brightness) Validate() error {
	return checkRange("brightness", "amount", float64(o.Amount), -1, 1)
}

func (o Brightness) Output(in []pixel.Descriptor) (pixel.Descriptor, error) {
	return primaryOutput(in), nil
}

// Contrast scales the distance of each color channel from Pivot.
//
//	out = (in - Pivot) * Amount + Pivot
//
// The zero Pivot makes Contrast a plain channel gain; use 0.5 for the
// classic mid-grey pivot.
type Contrast struct {
	Amount float32
	Pivot  float32
}

// NewContrast creates a contrast gain around zero.
func NewContrast(amount float32) Contrast { return Contrast{Amount: amount} }

// NewContrastAround creates a contrast adjustment around pivot.
func NewContrastAround(amount, pivot float32) Contrast {
	return Contrast{Amount: amount, Pivot: pivot}
}

func (Contrast) Kind() Kind            { return KindPixel }
func (Contrast) Code() string          { return "contrast" }
func (Contrast) Arity() int            { return 1 }
func (Contrast) operation()            {}
func (o Contrast) Uniforms() []float32 { return []float32{o.Amount, o.Pivot} }

func (o Contrast) Validate() error {
	if err := checkRange("contrast", "amount", float64(o.Amount), 0, 16); err != nil {
		return err
	}
	return checkRange("contrast", "pivot", float64(o.Pivot), 0, 1)
}

func (o Contrast) Output(in []pixel.Descriptor) (pixel.Descriptor, error) {
	return primaryOutput(in), nil
}

// Exposure multiplies color channels by 2^EV.
type Exposure struct {
	EV float32
}

func (Exposure) Kind() Kind            { return KindPixel }
func (Exposure) Code() string          { return "exposure" }
func (Exposure) Arity() int            { return 1 }
func (Exposure) operation()            {}
func (o Exposure) Uniforms() []float32 { return []float32{float32(math.Exp2(float64(o.EV)))} }

func (o Exposure) Validate() error {
	return checkRange("exposure", "ev", float64(o.EV), -10, 10)
}

func (o Exposure) Output(in []pixel.Descriptor) (pixel.Descriptor, error) {
	return primaryOutput(in), nil
}

// Gamma applies out = in^(1/Gamma). Gamma above 1 brightens midtones.
type Gamma struct {
	Gamma float32
}

func (Gamma) Kind() Kind            { return KindPixel }
func (Gamma) Code() string          { return "gamma" }
func (Gamma) Arity() int            { return 1 }
func (Gamma) operation()            {}
func (o Gamma) Uniforms() []float32 { return []float32{1 / o.Gamma} }

func (o Gamma) Validate() error {
	if !finite(float64(o.Gamma)) || o.Gamma <= 0 || o.Gamma > 10 {
		return paramErr("gamma", "gamma", o.Gamma, "must be in (0, 10]")
	}
	return nil
}

func (o Gamma) Output(in []pixel.Descriptor) (pixel.Descriptor, error) {
	return primaryOutput(in), nil
}

// Invert replaces each color channel with 1 - c. Alpha is kept.
type Invert struct{}

func (Invert) Kind() Kind          { return KindPixel }
func (Invert) Code() string        { return "invert" }
func (Invert) Arity() int          { return 1 }
func (Invert) operation()          {}
func (Invert) Uniforms() []float32 { return nil }
func (Invert) Validate() error     { return nil }

func (Invert) Output(in []pixel.Descriptor) (pixel.Descriptor, error) {
	return primaryOutput(in), nil
}

// Opacity multiplies alpha by Amount.
// Amount: 0 = fully transparent, 1 = unchanged.
type Opacity struct {
	Amount float32
}

func (Opacity) Kind() Kind            { return KindPixel }
func (Opacity) Code() string          { return "opacity" }
func (Opacity) Arity() int            { return 1 }
func (Opacity) operation()            {}
func (o Opacity) Uniforms() []float32 { return []float32{o.Amount} }

func (o Opacity) Validate() error {
	return checkRange("opacity", "amount", float64(o.Amount), 0, 1)
}

func (o Opacity) Output(in []pixel.Descriptor) (pixel.Descriptor, error) {
	return primaryOutput(in), nil
}

// Convert changes the storage format or alpha type of its input without
// changing colors. A zero Format keeps the input format.
type Convert struct {
	Format pixel.Format
	Alpha  pixel.AlphaType
}

// ConvertTo creates a conversion to format f with straight alpha.
func ConvertTo(f pixel.Format) Convert { return Convert{Format: f} }

func (Convert) Kind() Kind          { return KindPixel }
func (Convert) Code() string        { return "convert" }
func (Convert) Arity() int          { return 1 }
func (Convert) operation()          {}
func (Convert) Uniforms() []float32 { return nil }

func (o Convert) Validate() error {
	if o.Format != pixel.FormatUndefined && !o.Format.IsValid() {
		return paramErr("convert", "format", o.Format, "unknown format")
	}
	if !o.Alpha.IsValid() {
		return paramErr("convert", "alpha", o.Alpha, "unknown alpha type")
	}
	return nil
}

func (o Convert) Output(in []pixel.Descriptor) (pixel.Descriptor, error) {
	d := primaryOutput(in)
	if o.Format != pixel.FormatUndefined {
		d.Format = o.Format
	}
	d.Alpha = o.Alpha
	return d, nil
}

var (
	_ Operation = Brightness{}
	_ Operation = Contrast{}
	_ Operation = Exposure{}
	_ Operation = Gamma{}
	_ Operation = Invert{}
	_ Operation = Opacity{}
	_ Operation = Convert{}
)
