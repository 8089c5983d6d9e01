// Package layout copies tensors between host row-major buffers and engine Mats.
//
// A rank-2 host tensor [batch, features] maps to a 2-D Mat with w=features and
// h=batch. A rank-4 host tensor [1, C, H, W] maps to a 3-D Mat with c=C, h=H, w=W;
// element (0, c, h, w) lands at index h*W+w of channel c. Host strides and byte
// offsets are honoured, as is the Mat channel step.
package layout

import (
	"github.com/pkg/errors"

	"github.com/born-ml/ncnnbridge/internal/ncnn"
	"github.com/born-ml/ncnnbridge/internal/tensor"
)

// Errors returned by the layout bridge.
var (
	ErrUnsupportedRank  = errors.New("unsupported tensor rank")
	ErrUnsupportedDType = errors.New("unsupported tensor dtype")
	ErrShapeMismatch    = errors.New("tensor and mat shapes differ")
)

// MatDims describes the Mat a host shape maps to.
type MatDims struct {
	W, H, C int
	Dims    int
}

// MatShape derives the Mat dims for a host tensor shape.
func MatShape(shape tensor.Shape) (MatDims, error) {
	switch len(shape) {
	case 2:
		return MatDims{W: shape[1], H: shape[0], C: 1, Dims: 2}, nil
	case 4:
		if shape[0] != 1 {
			return MatDims{}, errors.Wrapf(ErrUnsupportedRank, "rank-4 tensor %v must have batch 1", shape)
		}
		return MatDims{W: shape[3], H: shape[2], C: shape[1], Dims: 3}, nil
	default:
		return MatDims{}, errors.Wrapf(ErrUnsupportedRank, "rank %d (%v)", len(shape), shape)
	}
}

// NewMat allocates a zeroed Mat for a host shape.
func NewMat(shape tensor.Shape) (ncnn.Mat, error) {
	d, err := MatShape(shape)
	if err != nil {
		return ncnn.Mat{}, err
	}
	var m ncnn.Mat
	d.create(&m)
	return m, nil
}

func (d MatDims) create(m *ncnn.Mat) {
	if d.Dims == 2 {
		m.Create2D(d.W, d.H)
		return
	}
	m.Create3D(d.W, d.H, d.C)
}

func (d MatDims) matches(m *ncnn.Mat) bool {
	return m.Dims == d.Dims && m.W == d.W && m.H == d.H && m.C == d.C
}

// ToMat copies src into dst. An empty dst is allocated; otherwise its dims must
// match src.
func ToMat(src *tensor.RawTensor, dst *ncnn.Mat) error {
	if src.DType() != tensor.Float32 {
		return errors.Wrapf(ErrUnsupportedDType, "%s", src.DType())
	}
	d, err := MatShape(src.Shape())
	if err != nil {
		return err
	}
	if dst.Empty() {
		d.create(dst)
	} else if !d.matches(dst) {
		return errors.Wrapf(ErrShapeMismatch, "tensor %v into mat %s", src.Shape(), dst.ShapeString())
	}

	plane := d.W * d.H
	if src.IsContiguous() {
		data := src.AsFloat32()
		for q := 0; q < d.C; q++ {
			copy(dst.Channel(q), data[q*plane:(q+1)*plane])
		}
		return nil
	}

	if d.Dims == 2 {
		row := dst.Channel(0)
		for h := 0; h < d.H; h++ {
			for w := 0; w < d.W; w++ {
				row[h*d.W+w] = src.Float32At(h, w)
			}
		}
		return nil
	}
	for q := 0; q < d.C; q++ {
		ch := dst.Channel(q)
		for h := 0; h < d.H; h++ {
			for w := 0; w < d.W; w++ {
				ch[h*d.W+w] = src.Float32At(0, q, h, w)
			}
		}
	}
	return nil
}

// FromMat copies src into the host tensor dst. For a rank-2 dst of batch 1 a 1-D
// Mat of the feature width is also accepted.
func FromMat(src *ncnn.Mat, dst *tensor.RawTensor) error {
	if dst.DType() != tensor.Float32 {
		return errors.Wrapf(ErrUnsupportedDType, "%s", dst.DType())
	}
	d, err := MatShape(dst.Shape())
	if err != nil {
		return err
	}
	vector := d.Dims == 2 && d.H == 1 && src.Dims == 1 && src.W == d.W
	if !vector && !d.matches(src) {
		return errors.Wrapf(ErrShapeMismatch, "mat %s into tensor %v", src.ShapeString(), dst.Shape())
	}

	plane := d.W * d.H
	if dst.IsContiguous() {
		data := dst.AsFloat32()
		for q := 0; q < d.C; q++ {
			copy(data[q*plane:(q+1)*plane], src.Channel(q))
		}
		return nil
	}

	if d.Dims == 2 {
		row := src.Channel(0)
		for h := 0; h < d.H; h++ {
			for w := 0; w < d.W; w++ {
				dst.SetFloat32At(row[h*d.W+w], h, w)
			}
		}
		return nil
	}
	for q := 0; q < d.C; q++ {
		ch := src.Channel(q)
		for h := 0; h < d.H; h++ {
			for w := 0; w < d.W; w++ {
				dst.SetFloat32At(ch[h*d.W+w], 0, q, h, w)
			}
		}
	}
	return nil
}
