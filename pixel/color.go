package pixel

// Color is a straight-alpha RGBA color with float32 channels.
// Channels are nominally in [0, 1]; float targets may hold values outside it.
type Color struct {
	R, G, B, A float32
}

// Transparent is the zero color.
var Transparent = Color{}

// Clamp01 clamps v to [0, 1]. NaN maps to 0.
func Clamp01(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v >= 0 {
		return v
	}
	return 0
}

// Clamp returns c with every channel clamped to [0, 1].
func (c Color) Clamp() Color {
	return Color{R: Clamp01(c.R), G: Clamp01(c.G), B: Clamp01(c.B), A: Clamp01(c.A)}
}

// Lerp interpolates from c to d by t.
func (c Color) Lerp(d Color, t float32) Color {
	return Color{
		R: c.R + (d.R-c.R)*t,
		G: c.G + (d.G-c.G)*t,
		B: c.B + (d.B-c.B)*t,
		A: c.A + (d.A-c.A)*t,
	}
}

// Luminance returns the Rec. 709 luma of the color channels.
func (c Color) Luminance() float32 {
	return 0.2126*c.R + 0.7152*c.G + 0.0722*c.B
}

// Stored is the four channel value a target holds for one pixel.
type Stored [4]float32

// Encode converts a straight color into the stored representation of a
// target with format f and alpha type a.
func Encode(c Color, f Format, a AlphaType) Stored {
	if a == AlphaOpaque || !f.HasAlpha() {
		c.A = 1
	}
	if f == FormatR8Unorm {
		return Stored{f.Quantize(c.R), 0, 0, 1}
	}
	if a == AlphaPremultiplied {
		c.R *= c.A
		c.G *= c.A
		c.B *= c.A
	}
	return Stored{f.Quantize(c.R), f.Quantize(c.G), f.Quantize(c.B), f.Quantize(c.A)}
}

// Decode converts a stored value back to a straight color.
func Decode(s Stored, a AlphaType) Color {
	switch a {
	case AlphaPremultiplied:
		alpha := s[3]
		if alpha <= 0 {
			return Color{}
		}
		inv := 1 / alpha
		return Color{R: s[0] * inv, G: s[1] * inv, B: s[2] * inv, A: alpha}
	case AlphaOpaque:
		return Color{R: s[0], G: s[1], B: s[2], A: 1}
	default:
		return Color{R: s[0], G: s[1], B: s[2], A: s[3]}
	}
}

// RoundTrip returns the color a pass would read back after storing c into
// a target with format f and alpha type a.
func RoundTrip(c Color, f Format, a AlphaType) Color {
	return Decode(Encode(c, f, a), a)
}
