package ncnn

import (
	"math"

	"github.com/pkg/errors"
)

// Activation types understood by fused layers (param 9).
const (
	ActivationNone      = 0
	ActivationReLU      = 1
	ActivationLeakyReLU = 2
	ActivationClip      = 3
	ActivationSigmoid   = 4
)

type activation struct {
	typ    int
	params []float32
}

func loadActivation(pd *ParamDict, typeID, paramsID int) (activation, error) {
	a := activation{
		typ:    pd.GetInt(typeID, ActivationNone),
		params: pd.GetFloats(paramsID),
	}
	switch a.typ {
	case ActivationNone, ActivationReLU, ActivationSigmoid:
	case ActivationLeakyReLU:
		if len(a.params) < 1 {
			a.params = []float32{0}
		}
	case ActivationClip:
		if len(a.params) < 2 {
			return activation{}, errors.Errorf("clip activation needs 2 params, got %d", len(a.params))
		}
	default:
		return activation{}, errors.Errorf("unsupported activation type %d", a.typ)
	}
	return a, nil
}

func (a activation) apply(v float32) float32 {
	switch a.typ {
	case ActivationReLU:
		return max(v, 0)
	case ActivationLeakyReLU:
		if v < 0 {
			return v * a.params[0]
		}
		return v
	case ActivationClip:
		return min(max(v, a.params[0]), a.params[1])
	case ActivationSigmoid:
		return float32(1 / (1 + math.Exp(-float64(v))))
	default:
		return v
	}
}
