package tensor

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// Shape lists tensor dimensions, outermost first. An empty shape is a scalar.
type Shape []int

// NumElements is the product of the dimensions.
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Validate rejects zero and negative dimensions.
func (s Shape) Validate() error {
	if i := slices.IndexFunc(s, func(d int) bool { return d <= 0 }); i >= 0 {
		return errors.Errorf("invalid dimension at index %d: %d (must be > 0)", i, s[i])
	}
	return nil
}

func (s Shape) Equal(other Shape) bool {
	return slices.Equal(s, other)
}

func (s Shape) Clone() Shape {
	return slices.Clone(s)
}

// ComputeStrides returns row-major element strides.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	step := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = step
		step *= s[i]
	}
	return strides
}

func (s Shape) String() string {
	return fmt.Sprint([]int(s))
}
