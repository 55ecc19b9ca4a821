package pixel

import (
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestFormat_BytesPerPixel(t *testing.T) {
	tests := []struct {
		format   Format
		expected int
	}{
		{FormatUndefined, 0},
		{FormatRGBA8Unorm, 4},
		{FormatBGRA8Unorm, 4},
		{FormatR8Unorm, 1},
		{FormatRGBA32Float, 16},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			if got := tt.format.BytesPerPixel(); got != tt.expected {
				t.Errorf("BytesPerPixel() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestFormat_ParseRoundTrip(t *testing.T) {
	for f := FormatRGBA8Unorm; f < formatCount; f++ {
		got, ok := ParseFormat(f.String())
		if !ok || got != f {
			t.Errorf("ParseFormat(%q) = %v, %v", f.String(), got, ok)
		}
	}
	if _, ok := ParseFormat("rgb565"); ok {
		t.Error("ParseFormat accepted an unknown format")
	}
}

func TestFormat_TextureFormat(t *testing.T) {
	if got := FormatBGRA8Unorm.TextureFormat(); got != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("TextureFormat() = %v, want BGRA8Unorm", got)
	}
	f, ok := FormatFromTexture(gputypes.TextureFormatRGBA8Unorm)
	if !ok || f != FormatRGBA8Unorm {
		t.Errorf("FormatFromTexture = %v, %v", f, ok)
	}
	if _, ok := FormatFromTexture(gputypes.TextureFormatUndefined); ok {
		t.Error("undefined texture format must not map")
	}
}

func TestQuantize(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		in     float32
		want   float32
	}{
		{"unorm exact", FormatRGBA8Unorm, 1, 1},
		{"unorm rounds", FormatRGBA8Unorm, 0.5, 128.0 / 255},
		{"unorm clamps high", FormatRGBA8Unorm, 1.7, 1},
		{"unorm clamps low", FormatRGBA8Unorm, -0.2, 0},
		{"float passes through", FormatRGBA32Float, 1.7, 1.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.Quantize(tt.in); got != tt.want {
				t.Errorf("Quantize(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestQuantize_Idempotent(t *testing.T) {
	for i := 0; i <= 1000; i++ {
		v := float32(i) / 1000
		q := FormatRGBA8Unorm.Quantize(v)
		if q2 := FormatRGBA8Unorm.Quantize(q); q2 != q {
			t.Fatalf("Quantize not idempotent at %v: %v then %v", v, q, q2)
		}
	}
}

// =============================================================================
// Encode / Decode
// =============================================================================

func TestEncode_Premultiplied(t *testing.T) {
	c := Color{R: 1, G: 0.5, B: 0, A: 0.5}
	s := Encode(c, FormatRGBA32Float, AlphaPremultiplied)
	want := Stored{0.5, 0.25, 0, 0.5}
	if s != want {
		t.Errorf("Encode = %v, want %v", s, want)
	}
	back := Decode(s, AlphaPremultiplied)
	if back != c {
		t.Errorf("Decode = %v, want %v", back, c)
	}
}

func TestEncode_Opaque(t *testing.T) {
	s := Encode(Color{R: 0.2, G: 0.4, B: 0.6, A: 0.1}, FormatRGBA32Float, AlphaOpaque)
	if s[3] != 1 {
		t.Errorf("opaque alpha stored as %v, want 1", s[3])
	}
}

func TestEncode_R8(t *testing.T) {
	s := Encode(Color{R: 0.5, G: 0.9, B: 0.9, A: 0.3}, FormatR8Unorm, AlphaStraight)
	if s[1] != 0 || s[2] != 0 || s[3] != 1 {
		t.Errorf("R8 stored %v, want only red", s)
	}
}

func TestDecode_ZeroAlphaPremultiplied(t *testing.T) {
	if got := Decode(Stored{0.3, 0.3, 0.3, 0}, AlphaPremultiplied); got != Transparent {
		t.Errorf("Decode = %v, want transparent", got)
	}
}

func TestRoundTrip_Stable(t *testing.T) {
	formats := []Format{FormatRGBA8Unorm, FormatBGRA8Unorm, FormatR8Unorm, FormatRGBA32Float}
	alphas := []AlphaType{AlphaStraight, AlphaPremultiplied, AlphaOpaque}
	c := Color{R: 0.33, G: 0.66, B: 0.91, A: 0.4}
	for _, f := range formats {
		for _, a := range alphas {
			once := RoundTrip(c, f, a)
			twice := RoundTrip(once, f, a)
			if Encode(once, f, a) != Encode(twice, f, a) {
				t.Errorf("%v/%v: stored value drifts on second round trip", f, a)
			}
		}
	}
}

// =============================================================================
// Descriptor
// =============================================================================

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		desc    Descriptor
		wantErr bool
	}{
		{"valid", Descriptor{4, 4, FormatRGBA8Unorm, AlphaStraight}, false},
		{"zero width", Descriptor{0, 4, FormatRGBA8Unorm, AlphaStraight}, true},
		{"too tall", Descriptor{4, MaxDimension + 1, FormatRGBA8Unorm, AlphaStraight}, true},
		{"undefined format", Descriptor{4, 4, FormatUndefined, AlphaStraight}, true},
		{"bad alpha", Descriptor{4, 4, FormatRGBA8Unorm, AlphaType(9)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDescriptor_Bytes(t *testing.T) {
	d := Descriptor{Width: 10, Height: 5, Format: FormatRGBA32Float}
	if got := d.Bytes(); got != 800 {
		t.Errorf("Bytes() = %d, want 800", got)
	}
}

// =============================================================================
// Image
// =============================================================================

func TestImage_SetPixelQuantizes(t *testing.T) {
	im := NewImage(Descriptor{Width: 2, Height: 2, Format: FormatRGBA8Unorm})
	im.SetPixel(1, 1, Color{R: 0.5, G: 2, B: -1, A: 1})
	got := im.Pixel(1, 1)
	want := Color{R: 128.0 / 255, G: 1, B: 0, A: 1}
	if got != want {
		t.Errorf("Pixel = %v, want %v", got, want)
	}
}

func TestImage_ImplementsImage(t *testing.T) {
	im := NewImage(Descriptor{Width: 3, Height: 2, Format: FormatRGBA8Unorm})
	im.Set(2, 1, color.NRGBA{R: 255, A: 255})
	if im.Bounds() != image.Rect(0, 0, 3, 2) {
		t.Errorf("Bounds = %v", im.Bounds())
	}
	r, _, _, a := im.At(2, 1).RGBA()
	if r != 0xffff || a != 0xffff {
		t.Errorf("At = %v, %v", r, a)
	}
	if _, _, _, a := im.At(-1, 0).RGBA(); a != 0 {
		t.Error("At outside bounds must be transparent")
	}
}

func TestFromImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(10, 10, 12, 11))
	src.SetNRGBA(10, 10, color.NRGBA{R: 255, G: 0, B: 0, A: 255})
	src.SetNRGBA(11, 10, color.NRGBA{R: 0, G: 0, B: 255, A: 128})

	im := FromImage(src, FormatRGBA8Unorm, AlphaPremultiplied)
	if im.Width != 2 || im.Height != 1 {
		t.Fatalf("size = %dx%d, want 2x1", im.Width, im.Height)
	}
	if got := im.Pixel(0, 0); got != (Color{R: 1, A: 1}) {
		t.Errorf("pixel 0 = %v", got)
	}
	if s := im.Stored(1, 0); s[3] != 128.0/255 {
		t.Errorf("stored alpha = %v, want 128/255", s[3])
	}
}

func TestImage_Convert(t *testing.T) {
	im := NewImage(Descriptor{Width: 1, Height: 1, Format: FormatRGBA32Float})
	im.SetPixel(0, 0, Color{R: 0.4, G: 0.4, B: 0.4, A: 0.5})
	out := im.Convert(FormatRGBA8Unorm, AlphaPremultiplied)
	if out.Format != FormatRGBA8Unorm || out.Alpha != AlphaPremultiplied {
		t.Fatalf("Convert descriptor = %v", out.Descriptor())
	}
	if s := out.Stored(0, 0); s[0] != FormatRGBA8Unorm.Quantize(0.2) {
		t.Errorf("stored red = %v, want quantized 0.2", s[0])
	}
}

func TestMaxDiff(t *testing.T) {
	a := NewImage(Descriptor{Width: 2, Height: 1, Format: FormatRGBA32Float})
	b := a.Clone()
	if d := MaxDiff(a, b); d != 0 {
		t.Errorf("MaxDiff of clones = %v, want 0", d)
	}
	b.SetPixel(1, 0, Color{R: 0.25})
	if d := MaxDiff(a, b); d != 0.25 {
		t.Errorf("MaxDiff = %v, want 0.25", d)
	}
	c := NewImage(Descriptor{Width: 1, Height: 1, Format: FormatRGBA32Float})
	if d := MaxDiff(a, c); d != -1 {
		t.Errorf("MaxDiff of different shapes = %v, want -1", d)
	}
}
