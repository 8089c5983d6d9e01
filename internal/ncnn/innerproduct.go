package ncnn

import (
	"github.com/pkg/errors"

	"github.com/born-ml/ncnnbridge/internal/parallel"
)

// InnerProduct is a fully connected layer: top = act(weight . bottom + bias).
//
// Params: 0 num_output, 1 bias_term, 2 weight_data_size, 9 activation_type,
// 10 activation_params. Weight is num_output rows of num_input, row-major.
type InnerProduct struct {
	numOutput      int
	biasTerm       bool
	weightDataSize int
	act            activation

	numInput int
	weight   Mat
	bias     Mat
	ready    bool
}

// Type implements Layer.
func (l *InnerProduct) Type() string { return "InnerProduct" }

// LoadParam implements Layer.
func (l *InnerProduct) LoadParam(pd *ParamDict) error {
	l.numOutput = pd.GetInt(0, 0)
	l.biasTerm = pd.GetInt(1, 0) != 0
	l.weightDataSize = pd.GetInt(2, 0)
	if l.numOutput <= 0 || l.weightDataSize <= 0 || l.weightDataSize%l.numOutput != 0 {
		return errors.Errorf("inner product: weight_data_size %d is not a multiple of num_output %d",
			l.weightDataSize, l.numOutput)
	}
	l.numInput = l.weightDataSize / l.numOutput

	act, err := loadActivation(pd, 9, 10)
	if err != nil {
		return errors.Wrap(err, "inner product")
	}
	l.act = act
	return nil
}

// LoadModel implements Layer.
func (l *InnerProduct) LoadModel(mb ModelBin) error {
	w, err := mb.Load(l.weightDataSize, 0)
	if err != nil {
		return errors.Wrap(err, "inner product weight")
	}
	l.weight = w
	if l.biasTerm {
		b, err := mb.Load(l.numOutput, 1)
		if err != nil {
			return errors.Wrap(err, "inner product bias")
		}
		l.bias = b
	}
	return nil
}

// CreatePipeline implements Layer.
func (l *InnerProduct) CreatePipeline(_ Option) error {
	if l.weight.Elements() != l.weightDataSize {
		return errors.Wrap(ErrPipelineNotReady, "inner product weights not loaded")
	}
	l.weight = contiguous(l.weight)
	l.bias = contiguous(l.bias)
	l.ready = true
	return nil
}

// Forward implements Layer. A 2-D bottom whose width equals num_input is treated
// as a batch of rows; any other bottom is flattened into one input vector.
func (l *InnerProduct) Forward(bottom, top *Mat, opt Option) error {
	if !l.ready {
		return ErrPipelineNotReady
	}

	src := *bottom
	rows := 1
	if bottom.Dims == 2 && bottom.W == l.numInput {
		rows = bottom.H
		top.Create2D(l.numOutput, rows)
	} else {
		if bottom.Elements() != l.numInput {
			return errors.Wrapf(ErrBlobShapeMismatch, "inner product expects %d inputs, got %s",
				l.numInput, bottom.ShapeString())
		}
		flat := bottom.Flatten()
		src = Mat{W: len(flat), H: 1, C: 1, Dims: 1, Cstep: len(flat), Data: flat}
		top.Create1D(l.numOutput)
	}

	weight := l.weight.Data
	parallel.ForBatch(rows, l.numOutput, func(r, p int) {
		x := src.Row(r)
		w := weight[p*l.numInput : (p+1)*l.numInput]
		var sum float32
		if l.biasTerm {
			sum = l.bias.Data[p]
		}
		for i, v := range x {
			sum += w[i] * v
		}
		top.Row(r)[p] = l.act.apply(sum)
	}, parallel.WithThreads(opt.NumThreads))
	return nil
}

// contiguous drops channel padding so weights can be indexed linearly.
func contiguous(m Mat) Mat {
	if m.Dims != 3 || m.Cstep == m.W*m.H {
		return m
	}
	flat := NewMat1D(m.Elements())
	flat.SetFlat(m.Flatten())
	return flat
}
