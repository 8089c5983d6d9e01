package ncnn

import (
	"github.com/pkg/errors"
)

// ParamUnset marks a Reshape dimension that was not given.
const ParamUnset = -233

// Reshape reinterprets the bottom elements, in (c, h, w) order, under new dims.
//
// Params: 0 w, 1 h, 2 c. An unset h gives a 1-D top, an unset c a 2-D top.
// 0 copies the bottom's dim and a single -1 is inferred.
type Reshape struct {
	w, h, c int
	ndim    int
}

// Type implements Layer.
func (l *Reshape) Type() string { return "Reshape" }

// LoadParam implements Layer.
func (l *Reshape) LoadParam(pd *ParamDict) error {
	l.w = pd.GetInt(0, ParamUnset)
	l.h = pd.GetInt(1, ParamUnset)
	l.c = pd.GetInt(2, ParamUnset)
	switch {
	case l.w == ParamUnset:
		return errors.New("reshape: w is required")
	case l.h == ParamUnset:
		l.ndim = 1
	case l.c == ParamUnset:
		l.ndim = 2
	default:
		l.ndim = 3
	}
	inferred := 0
	for _, d := range l.dims() {
		if d == -1 {
			inferred++
		} else if d < 0 {
			return errors.Errorf("reshape: invalid dim %d", d)
		}
	}
	if inferred > 1 {
		return errors.New("reshape: more than one inferred dim")
	}
	return nil
}

func (l *Reshape) dims() []int {
	return []int{l.w, l.h, l.c}[:l.ndim]
}

// LoadModel implements Layer; Reshape has no weights.
func (l *Reshape) LoadModel(ModelBin) error { return nil }

// CreatePipeline implements Layer.
func (l *Reshape) CreatePipeline(Option) error { return nil }

// Forward implements Layer.
func (l *Reshape) Forward(bottom, top *Mat, _ Option) error {
	total := bottom.Elements()
	src := []int{bottom.W, bottom.H, bottom.C}

	dims := l.dims()
	known, infer := 1, -1
	for i, d := range dims {
		switch d {
		case 0:
			dims[i] = src[i]
			known *= src[i]
		case -1:
			infer = i
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || total%known != 0 {
			return errors.Wrapf(ErrBlobShapeMismatch, "reshape cannot infer dim from %d elements", total)
		}
		dims[infer] = total / known
		known = total
	}
	if known != total {
		return errors.Wrapf(ErrBlobShapeMismatch, "reshape %v from %s", dims, bottom.ShapeString())
	}

	flat := bottom.Flatten()
	switch l.ndim {
	case 1:
		top.Create1D(dims[0])
	case 2:
		top.Create2D(dims[0], dims[1])
	default:
		top.Create3D(dims[0], dims[1], dims[2])
	}
	top.SetFlat(flat)
	return nil
}
