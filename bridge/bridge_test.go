package bridge

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ncnnbridge/internal/artifact"
	"github.com/born-ml/ncnnbridge/internal/codegen"
	"github.com/born-ml/ncnnbridge/internal/config"
	"github.com/born-ml/ncnnbridge/internal/pattern"
	"github.com/born-ml/ncnnbridge/internal/relay"
	"github.com/born-ml/ncnnbridge/internal/runtime"
	"github.com/born-ml/ncnnbridge/internal/tensor"
)

func filled(t *testing.T, v float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	data := make([]float32, tensor.Shape(shape).NumElements())
	for i := range data {
		data[i] = v
	}
	r, err := tensor.FromFloat32(data, tensor.Shape(shape))
	require.NoError(t, err)
	return r
}

// denseBiasRelu builds fn(x) = ncnn.dense{relu(bias_add(dense(a, W), b))}(x).
func denseBiasRelu(t *testing.T, weight, bias *tensor.RawTensor) (*relay.Module, relay.ExprID) {
	t.Helper()
	mod := relay.NewModule()
	a := mod.Var("a", tensor.Shape{1, 4}, tensor.Float32)
	dense, err := mod.Call(relay.OpDense, nil, a, mod.Const(weight))
	require.NoError(t, err)
	biased, err := mod.Call(relay.OpBiasAdd, nil, dense, mod.Const(bias))
	require.NoError(t, err)
	relu, err := mod.Call(relay.OpReLU, nil, biased)
	require.NoError(t, err)
	composite, err := mod.Function([]relay.ExprID{a}, relu, relay.Attrs{relay.AttrComposite: pattern.CompositeDense})
	require.NoError(t, err)

	x := mod.Var("x", tensor.Shape{1, 4}, tensor.Float32)
	call, err := mod.CallFunction(composite, x)
	require.NoError(t, err)
	fn, err := mod.Function([]relay.ExprID{x}, call, nil)
	require.NoError(t, err)
	return mod, fn
}

func TestDenseBiasReluEndToEnd(t *testing.T) {
	mod, fn := denseBiasRelu(t, filled(t, 1, 3, 4), filled(t, 1, 3))

	art, err := Compile(mod, fn, "ncnn_0")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, artifact.Write(&buf, art))
	loaded, err := artifact.Read(&buf)
	require.NoError(t, err)

	m, err := Load(loaded)
	require.NoError(t, err)
	assert.Equal(t, runtime.Built, m.State())
	assert.Equal(t, 1, m.NumInputs())
	assert.Equal(t, 1, m.NumOutputs())

	outs, err := m.Forward(filled(t, 0, 1, 4))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 1}, outs[0].AsFloat32())
	assert.Equal(t, runtime.Ready, m.State())
}

func TestNegativeRowClampedByRelu(t *testing.T) {
	weight, err := tensor.FromFloat32([]float32{
		1, 1, 1, 1,
		-1, -1, -1, -1,
		0.5, 0.5, 0.5, 0.5,
	}, tensor.Shape{3, 4})
	require.NoError(t, err)
	mod, fn := denseBiasRelu(t, weight, filled(t, 0, 3))

	art, err := Compile(mod, fn, "ncnn_0")
	require.NoError(t, err)
	m, err := Load(art, Options{NumThreads: 1})
	require.NoError(t, err)

	outs, err := m.Forward(filled(t, 1, 1, 4))
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 0, 2}, outs[0].AsFloat32())
}

func TestConvThroughFile(t *testing.T) {
	mod := relay.NewModule()
	a := mod.Var("a", tensor.Shape{1, 1, 4, 4}, tensor.Float32)
	conv, err := mod.Call(relay.OpConv2D, relay.Attrs{"padding": []int{1}}, a, mod.Const(filled(t, 1, 2, 1, 3, 3)))
	require.NoError(t, err)
	composite, err := mod.Function([]relay.ExprID{a}, conv, relay.Attrs{relay.AttrComposite: pattern.CompositeConv2D})
	require.NoError(t, err)
	x := mod.Var("x", tensor.Shape{1, 1, 4, 4}, tensor.Float32)
	call, err := mod.CallFunction(composite, x)
	require.NoError(t, err)
	fn, err := mod.Function([]relay.ExprID{x}, call, nil)
	require.NoError(t, err)

	art, err := Compile(mod, fn, "ncnn_1")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "ncnn_1.ncbr")
	require.NoError(t, Save(path, art, WriteOptions{Compress: true}))

	m, err := LoadFile(path, OptionsFromConfig(config.Default()))
	require.NoError(t, err)
	outs, err := m.Forward(filled(t, 1, 1, 1, 4, 4))
	require.NoError(t, err)

	// 3x3 box sum over a padded 4x4 plane of ones
	plane := []float32{
		4, 6, 6, 4,
		6, 9, 9, 6,
		6, 9, 9, 6,
		4, 6, 6, 4,
	}
	assert.Equal(t, tensor.Shape{1, 2, 4, 4}, outs[0].Shape())
	assert.Equal(t, append(append([]float32(nil), plane...), plane...), outs[0].AsFloat32())
}

func TestReshapeWithInferredBatch(t *testing.T) {
	for _, newshape := range [][]int{{1, -1}, {-1, 12}, {-1, 3, 4, 1}} {
		mod := relay.NewModule()
		x := mod.Var("x", tensor.Shape{1, 3, 2, 2}, tensor.Float32)
		body, err := mod.Call(relay.OpReshape, relay.Attrs{"newshape": newshape}, x)
		require.NoError(t, err)
		fn, err := mod.Function([]relay.ExprID{x}, body, nil)
		require.NoError(t, err)

		art, err := Compile(mod, fn, "ncnn_3")
		require.NoError(t, err)
		m, err := Load(art)
		require.NoError(t, err, "newshape %v", newshape)

		outs, err := m.Forward(filled(t, 2, 1, 3, 2, 2))
		require.NoError(t, err)
		assert.Equal(t, 12, outs[0].NumElements())
		assert.Equal(t, 1, outs[0].Shape()[0])
	}
}

func TestCompileRejectsUnsupportedPrimitive(t *testing.T) {
	mod := relay.NewModule()
	x := mod.Var("x", tensor.Shape{1, 4}, tensor.Float32)
	relu, err := mod.Call(relay.OpReLU, nil, x)
	require.NoError(t, err)
	fn, err := mod.Function([]relay.ExprID{x}, relu, nil)
	require.NoError(t, err)

	_, err = Compile(mod, fn, "ncnn_2")
	assert.True(t, errors.Is(err, codegen.ErrUnsupportedCall), "got %v", err)
}

func TestTables(t *testing.T) {
	assert.Equal(t, []string{"ncnn.conv2d", "ncnn.dense"}, Composites())
	assert.Equal(t, []string{"nn.conv2d", "nn.dense", "reshape"}, SupportedOps())
	assert.Equal(t, 2, DefaultOptions().NumThreads)
}
