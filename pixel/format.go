// Package pixel defines pixel formats, alpha conventions, image
// descriptors and the CPU bitmap type shared by every petal package.
//
// All operation math runs on straight-alpha float32 colors. Values are
// converted to a target's storage representation with Encode and back with
// Decode; RoundTrip applies both and is what makes a fused pass produce the
// same bits as a sequence of separate passes.
package pixel

import (
	"math"

	"github.com/gogpu/gputypes"
)

// Format represents a render target storage format.
type Format uint8

const (
	// FormatUndefined is the zero value. Operations treat it as "same as input".
	FormatUndefined Format = iota

	// FormatRGBA8Unorm is 8-bit normalized RGBA (4 bytes per pixel).
	FormatRGBA8Unorm

	// FormatBGRA8Unorm is 8-bit normalized BGRA (4 bytes per pixel).
	// Common swapchain format; quantizes exactly like RGBA8Unorm.
	FormatBGRA8Unorm

	// FormatR8Unorm is a single 8-bit normalized channel. Alpha reads as 1.
	FormatR8Unorm

	// FormatRGBA32Float is 32-bit float RGBA (16 bytes per pixel), stored
	// without quantization or clamping.
	FormatRGBA32Float

	// formatCount is the number of formats (for internal use).
	formatCount
)

// FormatInfo contains metadata about a pixel format.
type FormatInfo struct {
	// BytesPerPixel is the number of bytes per pixel.
	BytesPerPixel int

	// Channels is the number of stored channels.
	Channels int

	// HasAlpha indicates if the format stores an alpha channel.
	HasAlpha bool

	// IsFloat indicates a floating point format.
	IsFloat bool

	// BitsPerChannel is the number of bits per stored channel.
	BitsPerChannel int
}

var formatInfoTable = [formatCount]FormatInfo{
	FormatUndefined: {},
	FormatRGBA8Unorm: {
		BytesPerPixel:  4,
		Channels:       4,
		HasAlpha:       true,
		BitsPerChannel: 8,
	},
	FormatBGRA8Unorm: {
		BytesPerPixel:  4,
		Channels:       4,
		HasAlpha:       true,
		BitsPerChannel: 8,
	},
	FormatR8Unorm: {
		BytesPerPixel:  1,
		Channels:       1,
		BitsPerChannel: 8,
	},
	FormatRGBA32Float: {
		BytesPerPixel:  16,
		Channels:       4,
		HasAlpha:       true,
		IsFloat:        true,
		BitsPerChannel: 32,
	},
}

// Info returns the FormatInfo for this format.
func (f Format) Info() FormatInfo {
	if f >= formatCount {
		return FormatInfo{}
	}
	return formatInfoTable[f]
}

// BytesPerPixel returns the number of bytes per pixel for this format.
func (f Format) BytesPerPixel() int {
	return f.Info().BytesPerPixel
}

// Channels returns the number of stored channels.
func (f Format) Channels() int {
	return f.Info().Channels
}

// HasAlpha returns true if this format stores alpha.
func (f Format) HasAlpha() bool {
	return f.Info().HasAlpha
}

// IsFloat returns true for floating point formats.
func (f Format) IsFloat() bool {
	return f.Info().IsFloat
}

// IsValid returns true if the format is a known, defined format.
func (f Format) IsValid() bool {
	return f > FormatUndefined && f < formatCount
}

// String returns a string representation of the format.
func (f Format) String() string {
	switch f {
	case FormatUndefined:
		return "undefined"
	case FormatRGBA8Unorm:
		return "rgba8unorm"
	case FormatBGRA8Unorm:
		return "bgra8unorm"
	case FormatR8Unorm:
		return "r8unorm"
	case FormatRGBA32Float:
		return "rgba32float"
	default:
		return "unknown"
	}
}

// ParseFormat parses the String form of a format.
func ParseFormat(s string) (Format, bool) {
	for f := FormatRGBA8Unorm; f < formatCount; f++ {
		if f.String() == s {
			return f, true
		}
	}
	return FormatUndefined, false
}

// ImageBytes calculates the number of bytes needed for an image.
func (f Format) ImageBytes(width, height int) int64 {
	return int64(width) * int64(height) * int64(f.BytesPerPixel())
}

// TextureFormat returns the matching WebGPU texture format.
// RGBA32Float is only used through storage buffers and maps to
// TextureFormatUndefined.
func (f Format) TextureFormat() gputypes.TextureFormat {
	switch f {
	case FormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm
	case FormatBGRA8Unorm:
		return gputypes.TextureFormatBGRA8Unorm
	case FormatR8Unorm:
		return gputypes.TextureFormatR8Unorm
	default:
		return gputypes.TextureFormatUndefined
	}
}

// FormatFromTexture maps a WebGPU texture format to a Format.
func FormatFromTexture(tf gputypes.TextureFormat) (Format, bool) {
	switch tf {
	case gputypes.TextureFormatRGBA8Unorm:
		return FormatRGBA8Unorm, true
	case gputypes.TextureFormatBGRA8Unorm:
		return FormatBGRA8Unorm, true
	case gputypes.TextureFormatR8Unorm:
		return FormatR8Unorm, true
	default:
		return FormatUndefined, false
	}
}

// Quantize rounds a single channel value to what the format can store.
func (f Format) Quantize(v float32) float32 {
	if f.IsFloat() {
		return v
	}
	return quantizeUnorm8(v)
}

func quantizeUnorm8(v float32) float32 {
	v = Clamp01(v)
	return float32(math.Round(float64(v)*255)) / 255
}

// AlphaType describes how a target stores alpha.
type AlphaType uint8

const (
	// AlphaStraight stores color independent of alpha.
	AlphaStraight AlphaType = iota

	// AlphaPremultiplied stores color multiplied by alpha.
	AlphaPremultiplied

	// AlphaOpaque declares alpha is always one; stored alpha is forced to 1.
	AlphaOpaque

	alphaCount
)

// IsValid returns true for a known alpha type.
func (a AlphaType) IsValid() bool {
	return a < alphaCount
}

// String returns a string representation of the alpha type.
func (a AlphaType) String() string {
	switch a {
	case AlphaStraight:
		return "straight"
	case AlphaPremultiplied:
		return "premultiplied"
	case AlphaOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}
