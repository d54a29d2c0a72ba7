// Package array holds the in-memory currency passed between the streaming
// core and the storage engine: a dense row-major array with an element type,
// a shape, and a little-endian backing buffer.
package array

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Array is a dense row-major multidimensional array. The backing buffer is
// always little-endian regardless of host order, so it can be handed to the
// storage engine unchanged.
type Array struct {
	dtype DType
	shape []uint64
	data  []byte
}

// New allocates a zero-filled array.
func New(dtype DType, shape []uint64) (*Array, error) {
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("invalid element type %v", dtype)
	}
	n := NumElements(shape)
	return &Array{
		dtype: dtype,
		shape: append([]uint64(nil), shape...),
		data:  make([]byte, n*uint64(dtype.Size())),
	}, nil
}

// FromBytes wraps a raw little-endian buffer. The buffer is not copied.
func FromBytes(dtype DType, shape []uint64, data []byte) (*Array, error) {
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("invalid element type %v", dtype)
	}
	want := NumElements(shape) * uint64(dtype.Size())
	if uint64(len(data)) != want {
		return nil, fmt.Errorf("buffer is %d bytes, shape %v of %v needs %d", len(data), shape, dtype, want)
	}
	return &Array{dtype: dtype, shape: append([]uint64(nil), shape...), data: data}, nil
}

// FromFloat64s builds a Float64 array over vals.
func FromFloat64s(vals []float64, shape []uint64) (*Array, error) {
	a, err := newSized(Float64, shape, uint64(len(vals)))
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		binary.LittleEndian.PutUint64(a.data[i*8:], math.Float64bits(v))
	}
	return a, nil
}

// FromFloat32s builds a Float32 array over vals.
func FromFloat32s(vals []float32, shape []uint64) (*Array, error) {
	a, err := newSized(Float32, shape, uint64(len(vals)))
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		binary.LittleEndian.PutUint32(a.data[i*4:], math.Float32bits(v))
	}
	return a, nil
}

// FromInt32s builds an Int32 array over vals.
func FromInt32s(vals []int32, shape []uint64) (*Array, error) {
	a, err := newSized(Int32, shape, uint64(len(vals)))
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		binary.LittleEndian.PutUint32(a.data[i*4:], uint32(v))
	}
	return a, nil
}

// FromInt64s builds an Int64 array over vals.
func FromInt64s(vals []int64, shape []uint64) (*Array, error) {
	a, err := newSized(Int64, shape, uint64(len(vals)))
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		binary.LittleEndian.PutUint64(a.data[i*8:], uint64(v))
	}
	return a, nil
}

func newSized(dtype DType, shape []uint64, n uint64) (*Array, error) {
	if NumElements(shape) != n {
		return nil, fmt.Errorf("shape %v does not hold %d elements", shape, n)
	}
	return New(dtype, shape)
}

// DType returns the element type.
func (a *Array) DType() DType { return a.dtype }

// Shape returns a copy of the dimension extents.
func (a *Array) Shape() []uint64 { return append([]uint64(nil), a.shape...) }

// Len returns the number of elements.
func (a *Array) Len() uint64 { return NumElements(a.shape) }

// Bytes returns the little-endian backing buffer. Callers must not assume
// they own it.
func (a *Array) Bytes() []byte { return a.data }

// Float64s decodes the buffer as float64 values.
func (a *Array) Float64s() ([]float64, error) {
	if a.dtype != Float64 {
		return nil, fmt.Errorf("array is %v, not float64", a.dtype)
	}
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(a.data[i*8:]))
	}
	return out, nil
}

// Float32s decodes the buffer as float32 values.
func (a *Array) Float32s() ([]float32, error) {
	if a.dtype != Float32 {
		return nil, fmt.Errorf("array is %v, not float32", a.dtype)
	}
	out := make([]float32, a.Len())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(a.data[i*4:]))
	}
	return out, nil
}

// Int32s decodes the buffer as int32 values.
func (a *Array) Int32s() ([]int32, error) {
	if a.dtype != Int32 {
		return nil, fmt.Errorf("array is %v, not int32", a.dtype)
	}
	out := make([]int32, a.Len())
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(a.data[i*4:]))
	}
	return out, nil
}

// Int64s decodes the buffer as int64 values.
func (a *Array) Int64s() ([]int64, error) {
	if a.dtype != Int64 {
		return nil, fmt.Errorf("array is %v, not int64", a.dtype)
	}
	out := make([]int64, a.Len())
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(a.data[i*8:]))
	}
	return out, nil
}

// AsFloat64s converts any element type to float64, for metric computation.
func (a *Array) AsFloat64s() ([]float64, error) {
	switch a.dtype {
	case Float64:
		return a.Float64s()
	case Float32:
		vs, err := a.Float32s()
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(vs))
		for i, v := range vs {
			out[i] = float64(v)
		}
		return out, nil
	case Int32:
		vs, err := a.Int32s()
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(vs))
		for i, v := range vs {
			out[i] = float64(v)
		}
		return out, nil
	case Int64:
		vs, err := a.Int64s()
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(vs))
		for i, v := range vs {
			out[i] = float64(v)
		}
		return out, nil
	case Uint8:
		out := make([]float64, len(a.data))
		for i, v := range a.data {
			out[i] = float64(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot convert %v to float64", a.dtype)
}

// NumElements returns the product of the extents. An empty shape is a scalar.
func NumElements(shape []uint64) uint64 {
	n := uint64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// SameShape reports whether two shapes are identical.
func SameShape(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
