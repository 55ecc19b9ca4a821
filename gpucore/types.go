package gpucore

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/petal/pixel"
)

// Resource IDs
//
// These opaque IDs represent device objects. IDs are uint64 to
// accommodate various backend handle sizes.

// ResourceID is an opaque handle to a render target.
type ResourceID uint64

// ProgramID is an opaque handle to a compiled program.
type ProgramID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// Usage is a bitmask specifying how a render target will be used.
type Usage uint32

// Usage flags.
const (
	// UsageSampled indicates the target can be read by a program.
	UsageSampled Usage = 1 << 0

	// UsageStorage indicates the target can be written by a program.
	UsageStorage Usage = 1 << 1

	// UsageCopySrc indicates the target can be read back.
	UsageCopySrc Usage = 1 << 2

	// UsageCopyDst indicates the target can be uploaded to.
	UsageCopyDst Usage = 1 << 3
)

// Usage presets.
const (
	// UsageIntermediate covers targets written by one pass and read by later ones.
	UsageIntermediate = UsageSampled | UsageStorage

	// UsageLeaf covers targets holding uploaded input images.
	UsageLeaf = UsageSampled | UsageCopyDst

	// UsageOutput covers targets that are read back to the caller.
	UsageOutput = UsageStorage | UsageCopySrc
)

// Has reports whether all flags in f are set.
func (u Usage) Has(f Usage) bool { return u&f == f }

// TargetDescriptor describes a render target. It is comparable and used
// directly as a pool key.
type TargetDescriptor struct {
	Width  int
	Height int
	Format pixel.Format
	Usage  Usage
}

// Bytes returns the storage size in the target's format.
func (d TargetDescriptor) Bytes() int64 {
	return d.Format.ImageBytes(d.Width, d.Height)
}

// Pixel returns the pixel descriptor for an image of this target's size
// and format.
func (d TargetDescriptor) Pixel(alpha pixel.AlphaType) pixel.Descriptor {
	return pixel.Descriptor{Width: d.Width, Height: d.Height, Format: d.Format, Alpha: alpha}
}

func (d TargetDescriptor) String() string {
	return fmt.Sprintf("%dx%d %v usage=%#x", d.Width, d.Height, d.Format, uint32(d.Usage))
}

// TargetFor returns the descriptor of a target holding images like p.
func TargetFor(p pixel.Descriptor, usage Usage) TargetDescriptor {
	return TargetDescriptor{Width: p.Width, Height: p.Height, Format: p.Format, Usage: usage}
}

// Dispatch is one program invocation.
type Dispatch struct {
	// Label is an optional debug label.
	Label string

	// Program is the compiled program to run.
	Program ProgramID

	// Inputs lists the bound input targets: the primary input first, then
	// the secondary inputs of each stage in stage order.
	Inputs []ResourceID

	// Output is the target written by the program.
	Output ResourceID

	// Width and Height are the output extent in pixels.
	Width  int
	Height int

	// Uniforms holds the packed parameters of each stage.
	Uniforms [][]float32
}

// Capabilities describes a device.
type Capabilities struct {
	// Name is a human readable adapter name.
	Name string

	// ConcurrentSubmission reports whether Dispatch may be called from
	// several goroutines at once.
	ConcurrentSubmission bool

	// MaxTextureSize is the largest supported target dimension.
	MaxTextureSize int
}

// Device is the submission boundary used by the executor.
//
// Allocate, Compile and Dispatch may fail with ErrOutOfMemory or
// ErrDeviceLost. Free and DestroyProgram ignore unknown handles.
type Device interface {
	// Allocate creates a render target.
	Allocate(desc TargetDescriptor) (ResourceID, error)

	// Free releases a render target.
	Free(id ResourceID)

	// Compile builds a program for src.
	Compile(src ProgramSource) (ProgramID, error)

	// DestroyProgram releases a compiled program.
	DestroyProgram(id ProgramID)

	// Upload copies img into the target. img must match the target's size.
	Upload(id ResourceID, img *pixel.Image) error

	// Readback copies the target into dst, quantizing to dst's format and
	// alpha type.
	Readback(id ResourceID, dst *pixel.Image) error

	// Dispatch runs one program.
	Dispatch(ctx context.Context, d *Dispatch) error

	// Capabilities describes the device.
	Capabilities() Capabilities
}

// PressureNotifier is implemented by devices that report memory pressure.
type PressureNotifier interface {
	// OnMemoryPressure registers fn to be called when the device runs low
	// on memory. fn must not block.
	OnMemoryPressure(fn func())
}

// Sentinel errors reported by devices.
var (
	// ErrDeviceLost indicates the device became unusable.
	ErrDeviceLost = errors.New("gpucore: device lost")

	// ErrOutOfMemory indicates an allocation or dispatch exhausted device memory.
	ErrOutOfMemory = errors.New("gpucore: out of memory")

	// ErrUnknownResource indicates a handle the device does not own.
	ErrUnknownResource = errors.New("gpucore: unknown resource")
)
