package artifact

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrChecksumMismatch   = errors.New("checksum mismatch: file may be corrupted")
	ErrInvalidMagic       = errors.New("invalid magic bytes")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrHeaderTooLarge     = errors.New("header exceeds maximum size")
	ErrConstMismatch      = errors.New("constants do not match graph const names")
)

// Problem classifies a ValidationError.
type Problem string

const (
	ProblemTooManyTensors Problem = "too_many_tensors"
	ProblemNegative       Problem = "negative_offset"
	ProblemOutOfBounds    Problem = "out_of_bounds"
	ProblemOverlap        Problem = "offset_overlap"
	ProblemName           Problem = "invalid_name"
	ProblemDType          Problem = "invalid_dtype"
	ProblemShape          Problem = "invalid_shape"
	ProblemSize           Problem = "size_mismatch"
	ProblemDataSize       Problem = "invalid_size"
)

// ValidationError reports a malformed tensor table entry.
type ValidationError struct {
	Problem Problem
	Tensors []string // entries involved, if any
	Detail  string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Problem))
	if len(e.Tensors) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Tensors, ", "))
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Detail)
	return b.String()
}

func invalid(p Problem, detail string, tensors ...string) error {
	return &ValidationError{Problem: p, Tensors: tensors, Detail: detail}
}
