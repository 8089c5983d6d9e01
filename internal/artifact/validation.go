package artifact

import (
	"fmt"
	"slices"
	"strings"

	"github.com/born-ml/ncnnbridge/internal/tensor"
)

// Limits enforced when reading.
const (
	MaxHeaderSize    = 64 << 20
	MaxTensorCount   = 4096
	MaxTensorNameLen = 256
	MaxDataSize      = 4 << 30
)

// ValidateTensorOffsets checks that every tensor region lies inside the data section
// and that no two regions overlap.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	if len(tensors) > MaxTensorCount {
		return invalid(ProblemTooManyTensors, fmt.Sprintf("%d entries, limit %d", len(tensors), MaxTensorCount))
	}

	byOffset := slices.Clone(tensors)
	slices.SortFunc(byOffset, func(a, b TensorMeta) int {
		return int(a.Offset - b.Offset)
	})

	var prev *TensorMeta
	for i := range byOffset {
		t := &byOffset[i]
		end := t.Offset + t.Size
		switch {
		case t.Offset < 0 || t.Size < 0:
			return invalid(ProblemNegative, fmt.Sprintf("offset %d size %d", t.Offset, t.Size), t.Name)
		case end > dataSize:
			return invalid(ProblemOutOfBounds, fmt.Sprintf("ends at %d, data section is %d bytes", end, dataSize), t.Name)
		case prev != nil && prev.Offset+prev.Size > t.Offset:
			return invalid(ProblemOverlap, fmt.Sprintf("%d starts inside [%d,%d)", t.Offset, prev.Offset, prev.Offset+prev.Size),
				prev.Name, t.Name)
		}
		prev = t
	}
	return nil
}

// ValidateTensorMeta checks one entry: a plain name, a known dtype, a positive shape
// and a byte size consistent with both.
func ValidateTensorMeta(t TensorMeta) error {
	if t.Name == "" || len(t.Name) > MaxTensorNameLen || strings.ContainsAny(t.Name, "/\\\x00") {
		return invalid(ProblemName, "empty, too long or contains a path separator", t.Name)
	}
	dt, err := tensor.ParseDataType(t.DType)
	if err != nil {
		return invalid(ProblemDType, err.Error(), t.Name)
	}
	shape := tensor.Shape(t.Shape)
	if err := shape.Validate(); err != nil {
		return invalid(ProblemShape, err.Error(), t.Name)
	}
	if want := int64(shape.NumElements() * dt.Size()); want != t.Size {
		return invalid(ProblemSize, fmt.Sprintf("%s %v is %d bytes, header says %d", dt, shape, want, t.Size), t.Name)
	}
	return nil
}

// ValidateHeader validates the section sizes, every tensor entry and their layout.
func ValidateHeader(h *Header) error {
	for _, n := range []int64{h.DataSize, h.StoredSize} {
		if n < 0 || n > MaxDataSize {
			return invalid(ProblemDataSize, fmt.Sprintf("data_size %d stored_size %d", h.DataSize, h.StoredSize))
		}
	}
	for _, t := range h.Tensors {
		if err := ValidateTensorMeta(t); err != nil {
			return err
		}
	}
	return ValidateTensorOffsets(h.Tensors, h.DataSize)
}
