package pixel

import (
	"errors"
	"fmt"
)

// MaxDimension is the largest supported width or height.
const MaxDimension = 16384

// ErrInvalidDescriptor is returned for malformed image descriptors.
var ErrInvalidDescriptor = errors.New("pixel: invalid descriptor")

// Descriptor describes the shape of an image: size, storage format and
// alpha convention. It is comparable and used as a structural key.
type Descriptor struct {
	Width  int
	Height int
	Format Format
	Alpha  AlphaType
}

// Validate reports whether the descriptor can back a render target.
func (d Descriptor) Validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidDescriptor, d.Width, d.Height)
	}
	if d.Width > MaxDimension || d.Height > MaxDimension {
		return fmt.Errorf("%w: size %dx%d exceeds %d", ErrInvalidDescriptor, d.Width, d.Height, MaxDimension)
	}
	if !d.Format.IsValid() {
		return fmt.Errorf("%w: format %v", ErrInvalidDescriptor, d.Format)
	}
	if !d.Alpha.IsValid() {
		return fmt.Errorf("%w: alpha type %v", ErrInvalidDescriptor, d.Alpha)
	}
	return nil
}

// Bytes returns the storage size of an image with this descriptor.
func (d Descriptor) Bytes() int64 {
	return d.Format.ImageBytes(d.Width, d.Height)
}

// SameSize reports whether d and o have equal dimensions.
func (d Descriptor) SameSize(o Descriptor) bool {
	return d.Width == o.Width && d.Height == o.Height
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%dx%d %v/%v", d.Width, d.Height, d.Format, d.Alpha)
}
