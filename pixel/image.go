package pixel

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Image is a CPU bitmap holding stored values for a descriptor.
//
// Pix holds four float32 channels per pixel in row-major order, already
// quantized to Format and expressed in the Alpha convention. Image
// implements draw.Image so it can be used with x/image/draw scalers.
type Image struct {
	Width  int
	Height int
	Format Format
	Alpha  AlphaType
	Pix    []float32
}

var _ draw.Image = (*Image)(nil)

// NewImage allocates a transparent image for desc.
func NewImage(desc Descriptor) *Image {
	im := &Image{
		Width:  desc.Width,
		Height: desc.Height,
		Format: desc.Format,
		Alpha:  desc.Alpha,
		Pix:    make([]float32, desc.Width*desc.Height*4),
	}
	if desc.Alpha == AlphaOpaque || desc.Format == FormatR8Unorm {
		for i := 3; i < len(im.Pix); i += 4 {
			im.Pix[i] = 1
		}
	}
	return im
}

// FromImage converts a decoded image into an Image with the given format
// and alpha type. The source is normalized through x/image/draw first.
func FromImage(src image.Image, f Format, a AlphaType) *Image {
	b := src.Bounds()
	n, ok := src.(*image.NRGBA64)
	if !ok {
		n = image.NewNRGBA64(b)
		draw.Draw(n, b, src, b.Min, draw.Src)
	}
	im := NewImage(Descriptor{Width: b.Dx(), Height: b.Dy(), Format: f, Alpha: a})
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			c := n.NRGBA64At(b.Min.X+x, b.Min.Y+y)
			im.SetPixel(x, y, fromNRGBA64(c))
		}
	}
	return im
}

// Descriptor returns the image descriptor.
func (im *Image) Descriptor() Descriptor {
	return Descriptor{Width: im.Width, Height: im.Height, Format: im.Format, Alpha: im.Alpha}
}

func (im *Image) offset(x, y int) int {
	return (y*im.Width + x) * 4
}

func (im *Image) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < im.Width && y < im.Height
}

// Stored returns the stored value at (x, y).
func (im *Image) Stored(x, y int) Stored {
	i := im.offset(x, y)
	return Stored{im.Pix[i], im.Pix[i+1], im.Pix[i+2], im.Pix[i+3]}
}

// SetStored writes a stored value at (x, y) without conversion.
func (im *Image) SetStored(x, y int, s Stored) {
	i := im.offset(x, y)
	copy(im.Pix[i:i+4], s[:])
}

// Pixel returns the straight-alpha color at (x, y).
func (im *Image) Pixel(x, y int) Color {
	return Decode(im.Stored(x, y), im.Alpha)
}

// PixelClamped returns the color at (x, y) with coordinates clamped to the
// image edge.
func (im *Image) PixelClamped(x, y int) Color {
	x = clampInt(x, 0, im.Width-1)
	y = clampInt(y, 0, im.Height-1)
	return im.Pixel(x, y)
}

// SetPixel encodes c into the image at (x, y).
func (im *Image) SetPixel(x, y int, c Color) {
	im.SetStored(x, y, Encode(c, im.Format, im.Alpha))
}

// Fill sets every pixel to c.
func (im *Image) Fill(c Color) {
	s := Encode(c, im.Format, im.Alpha)
	for i := 0; i < len(im.Pix); i += 4 {
		copy(im.Pix[i:i+4], s[:])
	}
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	out := *im
	out.Pix = append([]float32(nil), im.Pix...)
	return &out
}

// Convert returns a copy re-encoded into format f and alpha type a.
func (im *Image) Convert(f Format, a AlphaType) *Image {
	if f == im.Format && a == im.Alpha {
		return im.Clone()
	}
	out := NewImage(Descriptor{Width: im.Width, Height: im.Height, Format: f, Alpha: a})
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			out.SetPixel(x, y, im.Pixel(x, y))
		}
	}
	return out
}

// ColorModel implements image.Image.
func (im *Image) ColorModel() color.Model { return color.NRGBA64Model }

// Bounds implements image.Image.
func (im *Image) Bounds() image.Rectangle { return image.Rect(0, 0, im.Width, im.Height) }

// At implements image.Image.
func (im *Image) At(x, y int) color.Color {
	if !im.inBounds(x, y) {
		return color.NRGBA64{}
	}
	return toNRGBA64(im.Pixel(x, y))
}

// Set implements draw.Image.
func (im *Image) Set(x, y int, c color.Color) {
	if !im.inBounds(x, y) {
		return
	}
	n, _ := color.NRGBA64Model.Convert(c).(color.NRGBA64)
	im.SetPixel(x, y, fromNRGBA64(n))
}

// ToNRGBA converts the image to an 8-bit straight-alpha image, for
// encoding with image/png.
func (im *Image) ToNRGBA() *image.NRGBA {
	out := image.NewNRGBA(im.Bounds())
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			c := im.Pixel(x, y).Clamp()
			i := out.PixOffset(x, y)
			out.Pix[i+0] = unorm8(c.R)
			out.Pix[i+1] = unorm8(c.G)
			out.Pix[i+2] = unorm8(c.B)
			out.Pix[i+3] = unorm8(c.A)
		}
	}
	return out
}

// MaxDiff returns the largest absolute difference between stored channel
// values of a and b, or -1 if their shapes differ.
func MaxDiff(a, b *Image) float32 {
	if a.Width != b.Width || a.Height != b.Height || len(a.Pix) != len(b.Pix) {
		return -1
	}
	var m float32
	for i := range a.Pix {
		d := a.Pix[i] - b.Pix[i]
		if d < 0 {
			d = -d
		}
		if d > m {
			m = d
		}
	}
	return m
}

func toNRGBA64(c Color) color.NRGBA64 {
	c = c.Clamp()
	return color.NRGBA64{R: unorm16(c.R), G: unorm16(c.G), B: unorm16(c.B), A: unorm16(c.A)}
}

func fromNRGBA64(c color.NRGBA64) Color {
	const inv = 1.0 / 65535
	return Color{R: float32(c.R) * inv, G: float32(c.G) * inv, B: float32(c.B) * inv, A: float32(c.A) * inv}
}

func unorm16(v float32) uint16 { return uint16(v*65535 + 0.5) }

func unorm8(v float32) uint8 { return uint8(v*255 + 0.5) }

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
