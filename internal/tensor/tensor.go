// Package tensor provides host-memory tensors for the sparsify toolkit.
//
// Unlike a full training framework, pruning only needs dense host buffers
// that criteria can mutate in place, so there is no autodiff, no
// copy-on-write sharing, and no GPU storage here. Device is kept as a tag
// so placement decisions survive in the run metadata.
package tensor

import (
	"fmt"
	"unsafe"
)

// Device tags where a tensor nominally lives.
type Device int

// Supported device tags.
const (
	CPU Device = iota
	CUDA
	Vulkan
	Metal
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case CUDA:
		return "CUDA"
	case Vulkan:
		return "Vulkan"
	case Metal:
		return "Metal"
	default:
		return "Unknown"
	}
}

// Accelerator reports whether the device is anything other than the CPU.
func (d Device) Accelerator() bool {
	return d != CPU
}

// DataType is the runtime element type of a RawTensor.
type DataType int

// Supported element types.
const (
	Float32 DataType = iota
	Int32
)

// Size returns the element size in bytes.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	default:
		return 0
	}
}

// String returns the dtype name.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}

// Shape represents tensor dimensions.
type Shape []int

// NumElements returns the total element count.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks that every dimension is positive.
func (s Shape) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("empty shape")
	}
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("dimension %d is %d, must be positive", i, dim)
		}
	}
	return nil
}

// Equal reports whether two shapes match exactly.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the shape.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// RawTensor is a dense row-major host tensor.
type RawTensor struct {
	data   []byte
	shape  Shape
	dtype  DataType
	device Device
}

// NewRaw allocates a zeroed tensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &RawTensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		dtype:  dtype,
		device: device,
	}, nil
}

// FromFloat32 wraps a float32 slice as a tensor without copying.
// The slice length must equal the shape's element count.
func FromFloat32(data []float32, shape Shape, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	raw := &RawTensor{
		shape:  shape.Clone(),
		dtype:  Float32,
		device: device,
	}
	raw.data = unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*4)
	return raw, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// DType returns the tensor's element type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the tensor's device tag.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the total element count.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// Data returns the underlying byte buffer.
func (r *RawTensor) Data() []byte {
	return r.data
}

// AsFloat32 reinterprets the buffer as float32 values.
// Panics if the dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("AsFloat32 on %s tensor", r.dtype))
	}
	if len(r.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsInt32 reinterprets the buffer as int32 values.
// Panics if the dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("AsInt32 on %s tensor", r.dtype))
	}
	if len(r.data) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// Clone returns a deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]byte, len(r.data))
	copy(data, r.data)
	return &RawTensor{
		data:   data,
		shape:  r.shape.Clone(),
		dtype:  r.dtype,
		device: r.device,
	}
}
