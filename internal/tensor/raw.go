package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// RawTensor is the low-level host tensor representation.
// It describes a region of a flat byte buffer through a shape, element strides and a
// byte offset, so views over a larger allocation can be passed without copying.
type RawTensor struct {
	data   []byte   // Backing buffer, shared by views
	shape  Shape    // Tensor dimensions
	stride []int    // Element strides (row-major for fresh tensors)
	dtype  DataType // Runtime type information
	offset int      // Byte offset of element [0,...,0]
}

// NewRaw creates a new contiguous RawTensor with the given shape and type.
// Memory is zero-initialised.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid shape")
	}

	return &RawTensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
	}, nil
}

// FromFloat32 creates a contiguous float32 tensor holding a copy of data.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	if len(data) != shape.NumElements() {
		return nil, errors.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	t, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	copy(t.AsFloat32(), data)
	return t, nil
}

// FromBytes wraps a little-endian byte buffer without copying it.
func FromBytes(data []byte, shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid shape")
	}
	if want := shape.NumElements() * dtype.Size(); len(data) != want {
		return nil, errors.Errorf("buffer has %d bytes, shape %v of %s needs %d", len(data), shape, dtype, want)
	}
	return &RawTensor{
		data:   data,
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
	}, nil
}

// View returns a tensor sharing r's buffer with a new shape, element strides and
// byte offset. The view must lie inside the buffer.
func (r *RawTensor) View(shape Shape, strides []int, byteOffset int) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid shape")
	}
	if len(strides) != len(shape) {
		return nil, errors.Errorf("view has %d strides for rank %d", len(strides), len(shape))
	}
	if byteOffset < 0 {
		return nil, errors.Errorf("negative byte offset %d", byteOffset)
	}
	last := 0
	for i, dim := range shape {
		if strides[i] < 0 {
			return nil, errors.Errorf("negative stride %d at axis %d", strides[i], i)
		}
		last += (dim - 1) * strides[i]
	}
	if end := byteOffset + (last+1)*r.dtype.Size(); end > len(r.data) {
		return nil, errors.Errorf("view ends at byte %d, buffer has %d", end, len(r.data))
	}
	return &RawTensor{
		data:   r.data,
		shape:  shape.Clone(),
		stride: append([]int(nil), strides...),
		dtype:  r.dtype,
		offset: byteOffset,
	}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's element strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// ByteOffset returns the offset of the first element in the backing buffer.
func (r *RawTensor) ByteOffset() int {
	return r.offset
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the size in bytes of the elements the tensor describes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// IsContiguous reports whether the elements are laid out densely in row-major order.
func (r *RawTensor) IsContiguous() bool {
	want := r.shape.ComputeStrides()
	for i := range want {
		if r.shape[i] != 1 && r.stride[i] != want[i] {
			return false
		}
	}
	return true
}

// Data returns the raw byte slice starting at the tensor's offset.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	return r.data[r.offset:]
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32 or the tensor is not contiguous.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	if !r.IsContiguous() {
		panic("AsFloat32 on a non-contiguous view")
	}
	data := r.data[r.offset:]
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), r.NumElements())
}

// elementOffset returns the byte position of the element at idx.
func (r *RawTensor) elementOffset(idx []int) int {
	pos := 0
	for i, v := range idx {
		pos += v * r.stride[i]
	}
	return r.offset + pos*r.dtype.Size()
}

// Float32At reads the element at idx, widening float16 storage.
func (r *RawTensor) Float32At(idx ...int) float32 {
	pos := r.elementOffset(idx)
	switch r.dtype {
	case Float32:
		return math.Float32frombits(binary.LittleEndian.Uint32(r.data[pos:]))
	case Float16:
		return float16.Frombits(binary.LittleEndian.Uint16(r.data[pos:])).Float32()
	default:
		panic(fmt.Sprintf("Float32At on %s tensor", r.dtype))
	}
}

// SetFloat32At writes v at idx, narrowing to float16 storage if needed.
func (r *RawTensor) SetFloat32At(v float32, idx ...int) {
	pos := r.elementOffset(idx)
	switch r.dtype {
	case Float32:
		binary.LittleEndian.PutUint32(r.data[pos:], math.Float32bits(v))
	case Float16:
		binary.LittleEndian.PutUint16(r.data[pos:], float16.Fromfloat32(v).Bits())
	default:
		panic(fmt.Sprintf("SetFloat32At on %s tensor", r.dtype))
	}
}

// Float32s copies the elements into a new slice in row-major order.
// Strided views and float16 storage are handled.
func (r *RawTensor) Float32s() ([]float32, error) {
	if r.dtype != Float32 && r.dtype != Float16 {
		return nil, errors.Errorf("cannot read %s tensor as float32", r.dtype)
	}
	out := make([]float32, r.NumElements())
	if r.dtype == Float32 && r.IsContiguous() {
		copy(out, r.AsFloat32())
		return out, nil
	}
	i := 0
	r.forEachIndex(func(idx []int) {
		out[i] = r.Float32At(idx...)
		i++
	})
	return out, nil
}

// Contiguous returns r itself when dense, otherwise a dense copy.
func (r *RawTensor) Contiguous() *RawTensor {
	if r.IsContiguous() && r.offset == 0 && len(r.data) == r.ByteSize() {
		return r
	}
	out := &RawTensor{
		data:   make([]byte, r.ByteSize()),
		shape:  r.shape.Clone(),
		stride: r.shape.ComputeStrides(),
		dtype:  r.dtype,
	}
	size := r.dtype.Size()
	dst := 0
	r.forEachIndex(func(idx []int) {
		src := r.elementOffset(idx)
		copy(out.data[dst:dst+size], r.data[src:src+size])
		dst += size
	})
	return out
}

// forEachIndex calls f for every index in row-major order. idx is reused between calls.
func (r *RawTensor) forEachIndex(f func(idx []int)) {
	n := r.NumElements()
	idx := make([]int, len(r.shape))
	for k := 0; k < n; k++ {
		f(idx)
		for axis := len(idx) - 1; axis >= 0; axis-- {
			idx[axis]++
			if idx[axis] < r.shape[axis] {
				break
			}
			idx[axis] = 0
		}
	}
}
