// Package tensor provides the host-side tensor storage handed to the bridge runtime.
//
// A RawTensor is a flat byte buffer described by a shape, element strides, a data type
// and a byte offset. The bridge never owns host memory beyond what callers give it:
// it reads and writes through the accessors in this package.
package tensor

import "github.com/pkg/errors"

// DataType identifies the element encoding of a tensor buffer.
type DataType int

const (
	Float32 DataType = iota
	Float16
	Float64
	Int32
	Int64
	Uint8
)

type dtypeInfo struct {
	name string
	size int
}

var dtypes = [...]dtypeInfo{
	Float32: {"float32", 4},
	Float16: {"float16", 2},
	Float64: {"float64", 8},
	Int32:   {"int32", 4},
	Int64:   {"int64", 8},
	Uint8:   {"uint8", 1},
}

func (dt DataType) valid() bool {
	return dt >= 0 && int(dt) < len(dtypes)
}

// Size returns the element size in bytes. It panics on an unknown type.
func (dt DataType) Size() int {
	if !dt.valid() {
		panic(errors.Errorf("unknown data type %d", int(dt)))
	}
	return dtypes[dt].size
}

func (dt DataType) String() string {
	if !dt.valid() {
		return "unknown"
	}
	return dtypes[dt].name
}

// ParseDataType is the inverse of DataType.String.
func ParseDataType(s string) (DataType, error) {
	for dt, info := range dtypes {
		if info.name == s {
			return DataType(dt), nil
		}
	}
	return 0, errors.Errorf("unknown data type %q", s)
}
