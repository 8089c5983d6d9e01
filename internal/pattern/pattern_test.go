package pattern

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ncnnbridge/internal/relay"
	"github.com/born-ml/ncnnbridge/internal/tensor"
)

func init() {
	relay.RegisterOp(relay.OpDef{
		Name:    "test.opaque",
		NumArgs: 1,
		Infer: func(args []relay.TensorType, _ relay.Attrs) (relay.TensorType, error) {
			return args[0], nil
		},
	})
}

type denseChain struct {
	bias, relu bool
}

func buildDense(t *testing.T, m *relay.Module, chain denseChain) (fn, dense, bias, relu relay.ExprID) {
	t.Helper()
	a := m.Var("a", tensor.Shape{1, 4}, tensor.Float32)
	w, err := tensor.NewRaw(tensor.Shape{3, 4}, tensor.Float32)
	require.NoError(t, err)
	b, err := tensor.NewRaw(tensor.Shape{3}, tensor.Float32)
	require.NoError(t, err)

	dense, err = m.Call(relay.OpDense, nil, a, m.Const(w))
	require.NoError(t, err)
	body := dense
	bias, relu = relay.NoExpr, relay.NoExpr
	if chain.bias {
		bias, err = m.Call(relay.OpBiasAdd, nil, body, m.Const(b))
		require.NoError(t, err)
		body = bias
	}
	if chain.relu {
		relu, err = m.Call(relay.OpReLU, nil, body)
		require.NoError(t, err)
		body = relu
	}
	fn, err = m.Function([]relay.ExprID{a}, body, relay.Attrs{relay.AttrComposite: CompositeDense})
	require.NoError(t, err)
	return fn, dense, bias, relu
}

func TestExtractDenseVariants(t *testing.T) {
	tests := []struct {
		name  string
		chain denseChain
	}{
		{"dense", denseChain{}},
		{"dense+bias", denseChain{bias: true}},
		{"dense+relu", denseChain{relu: true}},
		{"dense+bias+relu", denseChain{bias: true, relu: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := relay.NewModule()
			fn, dense, bias, relu := buildDense(t, m, tt.chain)

			match, matcher, err := Extract(m, fn)
			require.NoError(t, err)
			assert.Equal(t, CompositeDense, matcher.Name)
			assert.Equal(t, dense, match.Anchor)
			assert.Equal(t, bias, match.Bias)
			assert.Equal(t, relu, match.Activation)
			assert.Equal(t, tt.chain.bias, match.HasBias())
			assert.Equal(t, tt.chain.relu, match.HasActivation())
		})
	}
}

func TestExtractConvWithRelu(t *testing.T) {
	m := relay.NewModule()
	a := m.Var("a", tensor.Shape{1, 2, 4, 4}, tensor.Float32)
	w, err := tensor.NewRaw(tensor.Shape{4, 2, 3, 3}, tensor.Float32)
	require.NoError(t, err)
	conv, err := m.Call(relay.OpConv2D, nil, a, m.Const(w))
	require.NoError(t, err)
	relu, err := m.Call(relay.OpReLU, nil, conv)
	require.NoError(t, err)
	fn, err := m.Function([]relay.ExprID{a}, relu, relay.Attrs{relay.AttrComposite: CompositeConv2D})
	require.NoError(t, err)

	match, _, err := Extract(m, fn)
	require.NoError(t, err)
	assert.Equal(t, conv, match.Anchor)
	assert.False(t, match.HasBias())
	assert.Equal(t, relu, match.Activation)
}

func TestExtractRejectsUnknownIntermediate(t *testing.T) {
	m := relay.NewModule()
	a := m.Var("a", tensor.Shape{1, 4}, tensor.Float32)
	opaque, err := m.Call("test.opaque", nil, a)
	require.NoError(t, err)
	relu, err := m.Call(relay.OpReLU, nil, opaque)
	require.NoError(t, err)
	fn, err := m.Function([]relay.ExprID{a}, relu, relay.Attrs{relay.AttrComposite: CompositeDense})
	require.NoError(t, err)

	_, _, err = Extract(m, fn)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAnchorNotFound))
	assert.Contains(t, err.Error(), "test.opaque")
}

func TestExtractRejectsWrongAnchor(t *testing.T) {
	m := relay.NewModule()
	fn, _, _, _ := buildDense(t, m, denseChain{bias: true})

	conv, ok := Lookup(CompositeConv2D)
	require.True(t, ok)
	_, err := conv.Extract(m, fn)
	assert.True(t, errors.Is(err, ErrAnchorNotFound))
}

func TestExtractRejectsVarBody(t *testing.T) {
	m := relay.NewModule()
	a := m.Var("a", tensor.Shape{1, 4}, tensor.Float32)
	fn, err := m.Function([]relay.ExprID{a}, a, relay.Attrs{relay.AttrComposite: CompositeDense})
	require.NoError(t, err)

	_, _, err = Extract(m, fn)
	assert.True(t, errors.Is(err, ErrAnchorNotFound))
}

func TestExtractCompositeTags(t *testing.T) {
	m := relay.NewModule()
	a := m.Var("a", tensor.Shape{1, 4}, tensor.Float32)
	relu, err := m.Call(relay.OpReLU, nil, a)
	require.NoError(t, err)

	untagged, err := m.Function([]relay.ExprID{a}, relu, nil)
	require.NoError(t, err)
	_, _, err = Extract(m, untagged)
	assert.True(t, errors.Is(err, ErrNotComposite))

	unknown, err := m.Function([]relay.ExprID{a}, relu, relay.Attrs{relay.AttrComposite: "ncnn.pool"})
	require.NoError(t, err)
	_, _, err = Extract(m, unknown)
	assert.True(t, errors.Is(err, ErrUnknownComposite))
}

func TestTables(t *testing.T) {
	assert.Equal(t, []string{CompositeConv2D, CompositeDense}, Names())
	assert.Equal(t, []string{relay.OpConv2D, relay.OpDense, relay.OpReshape}, SupportedOps())
	assert.True(t, IsSupported(relay.OpDense))
	assert.False(t, IsSupported(relay.OpReLU))
}
