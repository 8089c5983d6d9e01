package runtime

import (
	"github.com/pkg/errors"

	"github.com/born-ml/ncnnbridge/internal/graphir"
	"github.com/born-ml/ncnnbridge/internal/layout"
	"github.com/born-ml/ncnnbridge/internal/logger"
	"github.com/born-ml/ncnnbridge/internal/ncnn"
	"github.com/born-ml/ncnnbridge/internal/relay"
	"github.com/born-ml/ncnnbridge/internal/tensor"
)

// layerSpec is what a builder produces: the engine layer type, its parameters
// and its weight blobs in load order.
type layerSpec struct {
	typ     string
	params  *ncnn.ParamDict
	weights []ncnn.Mat
}

// layerBuilder translates a kernel node into a layer spec.
type layerBuilder func(m *Module, node *graphir.Node) (layerSpec, error)

var layerBuilders = map[string]layerBuilder{
	relay.OpDense:   buildDense,
	relay.OpConv2D:  buildConv2D,
	relay.OpReshape: buildReshape,
}

// activationCodes maps activation_type attribute values to engine codes.
var activationCodes = map[string]int{
	"relu": ncnn.ActivationReLU,
}

// buildEngine finds the single kernel, translates it and creates the cached layer.
func (m *Module) buildEngine() error {
	kid, err := m.graph.KernelNode()
	if err != nil {
		return err
	}
	node := &m.graph.Nodes[kid]
	m.kernelID = kid
	m.opName = node.Name

	for i, h := range m.graph.Heads {
		if h.NodeID != kid || h.Index != 0 {
			return errors.Errorf("head %d is not the kernel output", i)
		}
	}
	if len(m.inputIDs) != 1 {
		return errors.Wrapf(ErrInputCount, "engine layer takes 1 data input, graph declares %d", len(m.inputIDs))
	}
	if len(node.Inputs) == 0 || node.Inputs[0].NodeID != m.inputIDs[0] {
		return errors.Wrapf(ErrInputCount, "%s does not read the graph input first", node.Name)
	}

	build, ok := layerBuilders[node.Name]
	if !ok {
		return errors.Wrap(ErrUnsupportedOp, node.Name)
	}
	m.describeNode(kid)

	inShape, err := m.nodeShape(m.inputIDs[0])
	if err != nil {
		return err
	}
	in, err := layout.NewMat(inShape)
	if err != nil {
		return errors.Wrap(err, "input")
	}
	outShape, err := m.nodeShape(kid)
	if err != nil {
		return err
	}
	out, err := layout.NewMat(outShape)
	if err != nil {
		return errors.Wrap(err, "output")
	}

	spec, err := build(m, node)
	if err != nil {
		return errors.Wrap(err, node.Name)
	}

	layer, err := ncnn.CreateLayer(spec.typ)
	if err != nil {
		return err
	}
	opt := m.opts.engineOption()
	logger.Log.Debug("create layer", "type", spec.typ, "params", spec.params.String())
	if err := layer.LoadParam(spec.params); err != nil {
		return errors.Wrap(err, "load param")
	}
	if err := layer.LoadModel(ncnn.ModelBinFromMats(spec.weights...)); err != nil {
		return errors.Wrap(err, "load model")
	}
	if err := layer.CreatePipeline(opt); err != nil {
		return errors.Wrap(err, "create pipeline")
	}

	m.layer = &CachedLayer{Layer: layer, Option: opt, In: in, Out: out}
	return nil
}

// describeNode logs the kernel's input and output shapes.
func (m *Module) describeNode(nid uint32) {
	node := &m.graph.Nodes[nid]
	for i, e := range node.Inputs {
		src := &m.graph.Nodes[e.NodeID]
		logger.Log.Debug("kernel input",
			"node", node.Name,
			"index", i,
			"from", src.Name,
			"op", src.OpType,
			"shape", src.Attrs[graphir.AttrShape])
	}
	logger.Log.Debug("kernel output", "node", node.Name, "shape", node.Attrs[graphir.AttrShape])
}

// constInput returns the constant bound to input i of node.
func (m *Module) constInput(node *graphir.Node, i int) (*tensor.RawTensor, error) {
	e := node.Inputs[i]
	src := &m.graph.Nodes[e.NodeID]
	if src.OpType != graphir.OpConst {
		return nil, errors.Errorf("input %d of %s must be a constant, got %s %q", i, node.Name, src.OpType, src.Name)
	}
	t := m.dataEntry[m.entryID(e)]
	if t == nil {
		return nil, errors.Wrapf(ErrUnbound, "constant %q", src.Name)
	}
	return t, nil
}

// weightMat copies t element by element in row-major order into a new Mat.
func weightMat(t *tensor.RawTensor) (ncnn.Mat, error) {
	values, err := t.Float32s()
	if err != nil {
		return ncnn.Mat{}, err
	}
	mat := ncnn.NewMat1D(len(values))
	copy(mat.Data, values)
	return mat, nil
}

// weightsAndBias loads the weight and optional bias constants of a
// [data, weight, bias?] kernel.
func (m *Module) weightsAndBias(node *graphir.Node) (weight, bias *tensor.RawTensor, err error) {
	if n := len(node.Inputs); n < 2 || n > 3 {
		return nil, nil, errors.Wrapf(ErrInputCount, "%s takes 2 or 3 inputs, got %d", node.Name, n)
	}
	weight, err = m.constInput(node, 1)
	if err != nil {
		return nil, nil, err
	}
	if len(node.Inputs) == 3 {
		bias, err = m.constInput(node, 2)
		if err != nil {
			return nil, nil, err
		}
	}
	return weight, bias, nil
}

func activationCode(node *graphir.Node) (int, error) {
	name := node.AttrString(graphir.AttrActivationType, "")
	if name == "" {
		return ncnn.ActivationNone, nil
	}
	code, ok := activationCodes[name]
	if !ok {
		return 0, errors.Wrap(ErrUnsupportedActivation, name)
	}
	return code, nil
}

func loadBlobs(weight, bias *tensor.RawTensor, numOutput int) ([]ncnn.Mat, error) {
	w, err := weightMat(weight)
	if err != nil {
		return nil, errors.Wrap(err, "weight")
	}
	blobs := []ncnn.Mat{w}
	if bias != nil {
		if bias.NumElements() != numOutput {
			return nil, errors.Errorf("bias has %d elements, want %d", bias.NumElements(), numOutput)
		}
		b, err := weightMat(bias)
		if err != nil {
			return nil, errors.Wrap(err, "bias")
		}
		blobs = append(blobs, b)
	}
	return blobs, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// buildDense: 0 num_output, 1 bias_term, 2 weight_data_size, 9 activation_type.
func buildDense(m *Module, node *graphir.Node) (layerSpec, error) {
	weight, bias, err := m.weightsAndBias(node)
	if err != nil {
		return layerSpec{}, err
	}
	if len(weight.Shape()) != 2 {
		return layerSpec{}, errors.Errorf("dense weight must be [out, in], got %v", weight.Shape())
	}
	if in, err := m.nodeShape(m.inputIDs[0]); err == nil && len(in) != 2 {
		return layerSpec{}, errors.Wrapf(layout.ErrUnsupportedRank, "dense input %v", in)
	}
	act, err := activationCode(node)
	if err != nil {
		return layerSpec{}, err
	}

	numOutput := weight.Shape()[0]
	pd := ncnn.NewParamDict()
	pd.Set(0, numOutput)
	pd.Set(1, boolInt(bias != nil))
	pd.Set(2, weight.NumElements())
	pd.Set(9, act)

	blobs, err := loadBlobs(weight, bias, numOutput)
	if err != nil {
		return layerSpec{}, err
	}
	return layerSpec{typ: "InnerProduct", params: pd, weights: blobs}, nil
}

// pair reads a two-element per-axis attribute as (h, w), accepting a scalar.
func pair(node *graphir.Node, name string, def int) (h, w int, err error) {
	if !node.HasAttr(name) {
		return def, def, nil
	}
	v, err := node.AttrInts(name)
	if err != nil {
		return 0, 0, err
	}
	switch len(v) {
	case 1:
		return v[0], v[0], nil
	case 2:
		return v[0], v[1], nil
	default:
		return 0, 0, errors.Errorf("attribute %q has %d values", name, len(v))
	}
}

// padding reads (top, left, bottom, right), accepting 1, 2 or 4 values.
func padding(node *graphir.Node) (top, left, bottom, right int, err error) {
	if !node.HasAttr("padding") {
		return 0, 0, 0, 0, nil
	}
	v, err := node.AttrInts("padding")
	if err != nil {
		return 0, 0, 0, 0, err
	}
	switch len(v) {
	case 1:
		return v[0], v[0], v[0], v[0], nil
	case 2:
		return v[0], v[1], v[0], v[1], nil
	case 4:
		return v[0], v[1], v[2], v[3], nil
	default:
		return 0, 0, 0, 0, errors.Errorf("padding has %d values", len(v))
	}
}

// buildConv2D: 0 num_output, 1/11 kernel w/h, 2/12 dilation w/h, 3/13 stride w/h,
// 4/14/15/16 pad left/top/right/bottom, 5 bias_term, 6 weight_data_size,
// 9 activation_type. Per-axis values are kept.
func buildConv2D(m *Module, node *graphir.Node) (layerSpec, error) {
	weight, bias, err := m.weightsAndBias(node)
	if err != nil {
		return layerSpec{}, err
	}
	ws := weight.Shape()
	if len(ws) != 4 {
		return layerSpec{}, errors.Errorf("conv2d weight must be [out, in, kh, kw], got %v", ws)
	}
	groups, err := node.AttrInt("groups", 1)
	if err != nil {
		return layerSpec{}, err
	}
	if groups != 1 {
		return layerSpec{}, errors.Wrapf(ErrUnsupportedOp, "conv2d with groups=%d", groups)
	}
	if layoutName := node.AttrString("data_layout", "NCHW"); layoutName != "NCHW" {
		return layerSpec{}, errors.Wrapf(ErrUnsupportedOp, "conv2d data_layout %s", layoutName)
	}

	strideH, strideW, err := pair(node, "strides", 1)
	if err != nil {
		return layerSpec{}, err
	}
	dilH, dilW, err := pair(node, "dilation", 1)
	if err != nil {
		return layerSpec{}, err
	}
	top, left, bottom, right, err := padding(node)
	if err != nil {
		return layerSpec{}, err
	}
	act, err := activationCode(node)
	if err != nil {
		return layerSpec{}, err
	}

	numOutput := ws[0]
	pd := ncnn.NewParamDict()
	pd.Set(0, numOutput)
	pd.Set(1, ws[3])
	pd.Set(11, ws[2])
	pd.Set(2, dilW)
	pd.Set(12, dilH)
	pd.Set(3, strideW)
	pd.Set(13, strideH)
	pd.Set(4, left)
	pd.Set(14, top)
	pd.Set(15, right)
	pd.Set(16, bottom)
	pd.Set(5, boolInt(bias != nil))
	pd.Set(6, weight.NumElements())
	pd.Set(9, act)

	blobs, err := loadBlobs(weight, bias, numOutput)
	if err != nil {
		return layerSpec{}, err
	}
	return layerSpec{typ: "Convolution", params: pd, weights: blobs}, nil
}

// buildReshape maps the kernel's resolved output shape [1, ...] onto Reshape's w/h/c.
// newshape must be present, but its 0 and -1 entries were already resolved when the
// call was typed, so the shape attribute is authoritative.
func buildReshape(m *Module, node *graphir.Node) (layerSpec, error) {
	if len(node.Inputs) != 1 {
		return layerSpec{}, errors.Wrapf(ErrInputCount, "reshape takes 1 input, got %d", len(node.Inputs))
	}
	if !node.HasAttr("newshape") {
		return layerSpec{}, errors.Wrap(ErrMissingAttr, "reshape newshape")
	}
	if _, err := node.AttrInts("newshape"); err != nil {
		return layerSpec{}, err
	}
	dims, err := m.nodeShape(m.kernelID)
	if err != nil {
		return layerSpec{}, err
	}
	if len(dims) == 0 || dims[0] != 1 {
		return layerSpec{}, errors.Wrapf(layout.ErrUnsupportedRank, "reshape output %v must have batch 1", dims)
	}

	pd := ncnn.NewParamDict()
	rest := dims[1:]
	switch len(rest) {
	case 1:
		pd.Set(0, rest[0])
	case 2:
		pd.Set(0, rest[1])
		pd.Set(1, rest[0])
	case 3:
		pd.Set(0, rest[2])
		pd.Set(1, rest[1])
		pd.Set(2, rest[0])
	default:
		return layerSpec{}, errors.Wrapf(layout.ErrUnsupportedRank, "reshape to %v", dims)
	}
	return layerSpec{typ: "Reshape", params: pd}, nil
}
