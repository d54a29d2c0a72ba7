package array

import "fmt"

// DType identifies the element type of an Array.
type DType int

const (
	Invalid DType = iota
	Uint8
	Int32
	Int64
	Float32
	Float64
)

var dtypeNames = map[DType]string{
	Uint8:   "uint8",
	Int32:   "int32",
	Int64:   "int64",
	Float32: "float32",
	Float64: "float64",
}

var dtypeSizes = map[DType]int{
	Uint8:   1,
	Int32:   4,
	Int64:   8,
	Float32: 4,
	Float64: 8,
}

// Size returns the element size in bytes.
func (d DType) Size() int {
	return dtypeSizes[d]
}

// IsFloat reports whether d is a floating-point type.
func (d DType) IsFloat() bool {
	return d == Float32 || d == Float64
}

func (d DType) String() string {
	if s, ok := dtypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// ParseDType resolves a type name as stored in a stream catalog.
func ParseDType(s string) (DType, error) {
	for d, name := range dtypeNames {
		if name == s {
			return d, nil
		}
	}
	return Invalid, fmt.Errorf("unknown element type %q", s)
}
