package relay

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/ncnnbridge/internal/tensor"
)

// ErrUnknownOp is returned when a call names an operator that is not registered.
var ErrUnknownOp = errors.New("unknown operator")

// Operator names understood by the host expression tree.
const (
	OpDense   = "nn.dense"
	OpConv2D  = "nn.conv2d"
	OpBiasAdd = "nn.bias_add"
	OpReLU    = "nn.relu"
	OpReshape = "reshape"
)

// TypeRelation infers the result type of a call and may fill in attribute defaults.
type TypeRelation func(args []TensorType, attrs Attrs) (TensorType, error)

// OpDef describes a primitive operator.
type OpDef struct {
	Name    string
	NumArgs int
	Infer   TypeRelation
}

var opRegistry = map[string]OpDef{}

// RegisterOp adds or replaces an operator definition.
func RegisterOp(def OpDef) {
	opRegistry[def.Name] = def
}

// LookupOp returns the definition of a registered operator.
func LookupOp(name string) (OpDef, bool) {
	def, ok := opRegistry[name]
	return def, ok
}

// RegisteredOps returns all registered operator names, sorted.
func RegisteredOps() []string {
	names := make([]string, 0, len(opRegistry))
	for name := range opRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterOp(OpDef{Name: OpDense, NumArgs: 2, Infer: inferDense})
	RegisterOp(OpDef{Name: OpConv2D, NumArgs: 2, Infer: inferConv2D})
	RegisterOp(OpDef{Name: OpBiasAdd, NumArgs: 2, Infer: inferBiasAdd})
	RegisterOp(OpDef{Name: OpReLU, NumArgs: 1, Infer: inferIdentity})
	RegisterOp(OpDef{Name: OpReshape, NumArgs: 1, Infer: inferReshape})
}

func inferIdentity(args []TensorType, _ Attrs) (TensorType, error) {
	return TensorType{Shape: args[0].Shape.Clone(), DType: args[0].DType}, nil
}

// inferDense: data [..., I] x weight [O, I] -> [..., O].
func inferDense(args []TensorType, attrs Attrs) (TensorType, error) {
	data, weight := args[0].Shape, args[1].Shape
	if len(data) < 1 || len(weight) != 2 {
		return TensorType{}, errors.Errorf("dense needs data rank >= 1 and weight rank 2, got %v and %v", data, weight)
	}
	if data[len(data)-1] != weight[1] {
		return TensorType{}, errors.Errorf("dense reduction mismatch: data %v, weight %v", data, weight)
	}
	if units, ok := attrs["units"].(int); ok && units != weight[0] {
		return TensorType{}, errors.Errorf("dense units %d does not match weight %v", units, weight)
	}
	attrs["units"] = weight[0]

	out := data.Clone()
	out[len(out)-1] = weight[0]
	return TensorType{Shape: out, DType: args[0].DType}, nil
}

// inferBiasAdd: bias [C] is added along axis (default 1).
func inferBiasAdd(args []TensorType, attrs Attrs) (TensorType, error) {
	data, bias := args[0].Shape, args[1].Shape
	axis := attrs.Int("axis", 1)
	if axis < 0 {
		axis += len(data)
	}
	if axis < 0 || axis >= len(data) {
		return TensorType{}, errors.Errorf("bias_add axis %d out of range for %v", attrs.Int("axis", 1), data)
	}
	if len(bias) != 1 || bias[0] != data[axis] {
		return TensorType{}, errors.Errorf("bias %v does not match data %v on axis %d", bias, data, axis)
	}
	attrs["axis"] = axis
	return TensorType{Shape: data.Clone(), DType: args[0].DType}, nil
}

// inferConv2D handles NCHW data and OIHW kernels. Defaults are written back into attrs:
// strides [1,1], padding [0,0,0,0] (top, left, bottom, right), dilation [1,1], groups 1,
// channels and kernel_size from the weight.
func inferConv2D(args []TensorType, attrs Attrs) (TensorType, error) {
	data, weight := args[0].Shape, args[1].Shape
	if len(data) != 4 || len(weight) != 4 {
		return TensorType{}, errors.Errorf("conv2d needs rank-4 data and weight, got %v and %v", data, weight)
	}
	if l := attrs.String("data_layout", "NCHW"); l != "NCHW" {
		return TensorType{}, errors.Errorf("conv2d data_layout %s not supported", l)
	}
	if l := attrs.String("kernel_layout", "OIHW"); l != "OIHW" {
		return TensorType{}, errors.Errorf("conv2d kernel_layout %s not supported", l)
	}
	attrs["data_layout"] = "NCHW"
	attrs["kernel_layout"] = "OIHW"

	groups := attrs.Int("groups", 1)
	if groups < 1 || data[1]%groups != 0 || data[1]/groups != weight[1] {
		return TensorType{}, errors.Errorf("conv2d channels: data %v, weight %v, groups %d", data, weight, groups)
	}
	attrs["groups"] = groups

	strides, err := pair(attrs, "strides", 1)
	if err != nil {
		return TensorType{}, err
	}
	dilation, err := pair(attrs, "dilation", 1)
	if err != nil {
		return TensorType{}, err
	}
	padding, err := normalizePadding(attrs.Ints("padding"))
	if err != nil {
		return TensorType{}, err
	}
	attrs["padding"] = padding

	kernel := []int{weight[2], weight[3]}
	if ks := attrs.Ints("kernel_size"); ks != nil && (len(ks) != 2 || ks[0] != kernel[0] || ks[1] != kernel[1]) {
		return TensorType{}, errors.Errorf("conv2d kernel_size %v does not match weight %v", ks, weight)
	}
	attrs["kernel_size"] = kernel
	if ch, ok := attrs["channels"].(int); ok && ch != weight[0] {
		return TensorType{}, errors.Errorf("conv2d channels %d does not match weight %v", ch, weight)
	}
	attrs["channels"] = weight[0]

	outH := (data[2]+padding[0]+padding[2]-((kernel[0]-1)*dilation[0]+1))/strides[0] + 1
	outW := (data[3]+padding[1]+padding[3]-((kernel[1]-1)*dilation[1]+1))/strides[1] + 1
	if outH <= 0 || outW <= 0 {
		return TensorType{}, errors.Errorf("conv2d output would be empty: %dx%d", outH, outW)
	}
	return TensorType{Shape: tensor.Shape{data[0], weight[0], outH, outW}, DType: args[0].DType}, nil
}

// pair reads a two-element attribute, broadcasting a single value.
func pair(attrs Attrs, name string, defaultVal int) ([]int, error) {
	v := attrs.Ints(name)
	switch len(v) {
	case 0:
		v = []int{defaultVal, defaultVal}
	case 1:
		v = []int{v[0], v[0]}
	case 2:
		v = []int{v[0], v[1]}
	default:
		return nil, errors.Errorf("%s has %d values, want 1 or 2", name, len(v))
	}
	if v[0] < 1 || v[1] < 1 {
		return nil, errors.Errorf("%s must be positive, got %v", name, v)
	}
	attrs[name] = v
	return v, nil
}

// normalizePadding expands 1, 2 or 4 values to (top, left, bottom, right).
func normalizePadding(p []int) ([]int, error) {
	var out []int
	switch len(p) {
	case 0:
		out = []int{0, 0, 0, 0}
	case 1:
		out = []int{p[0], p[0], p[0], p[0]}
	case 2:
		out = []int{p[0], p[1], p[0], p[1]}
	case 4:
		out = []int{p[0], p[1], p[2], p[3]}
	default:
		return nil, errors.Errorf("padding has %d values, want 1, 2 or 4", len(p))
	}
	for _, v := range out {
		if v < 0 {
			return nil, errors.Errorf("negative padding %v", out)
		}
	}
	return out, nil
}

// inferReshape resolves newshape: 0 copies the input dim at the same position,
// a single -1 is inferred from the remaining elements.
func inferReshape(args []TensorType, attrs Attrs) (TensorType, error) {
	in := args[0].Shape
	newshape := attrs.Ints("newshape")
	if len(newshape) == 0 {
		return TensorType{}, errors.New("reshape requires newshape")
	}
	out := make(tensor.Shape, len(newshape))
	infer := -1
	known := 1
	for i, d := range newshape {
		switch {
		case d == 0:
			if i >= len(in) {
				return TensorType{}, errors.Errorf("newshape %v copies missing dim %d", newshape, i)
			}
			out[i] = in[i]
		case d == -1:
			if infer >= 0 {
				return TensorType{}, errors.Errorf("newshape %v has more than one -1", newshape)
			}
			infer = i
			continue
		case d > 0:
			out[i] = d
		default:
			return TensorType{}, errors.Errorf("newshape %v has invalid dim %d", newshape, d)
		}
		known *= out[i]
	}
	total := in.NumElements()
	if infer >= 0 {
		if known == 0 || total%known != 0 {
			return TensorType{}, errors.Errorf("cannot infer -1 in %v from %v", newshape, in)
		}
		out[infer] = total / known
	}
	if out.NumElements() != total {
		return TensorType{}, errors.Errorf("reshape %v -> %v changes element count", in, out)
	}
	return TensorType{Shape: out, DType: args[0].DType}, nil
}
