package graphir

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// denseGraph builds input -> const w -> const b -> kernel.
func denseGraph() *Graph {
	g := NewGraph("ncnn_0")
	in := Node{OpType: OpInput, Name: "x", NumOutputs: 1}
	in.SetAttr(AttrShape, "1", "4")
	in.SetAttr(AttrDType, "float32")
	x := g.AddNode(in)
	w := g.AddNode(Node{OpType: OpConst, Name: "ncnn_0_const_0", NumOutputs: 1})
	b := g.AddNode(Node{OpType: OpConst, Name: "ncnn_0_const_1", NumOutputs: 1})
	k := Node{
		OpType:     OpKernel,
		Name:       "nn.dense",
		Inputs:     []Entry{{NodeID: x}, {NodeID: w}, {NodeID: b}},
		NumOutputs: 1,
	}
	k.SetAttr(AttrShape, "1", "3")
	k.SetAttr("units", "3")
	k.SetAttr(AttrActivationType, "relu")
	kid := g.AddNode(k)
	g.ArgNodes = []uint32{x, w, b}
	g.Heads = []Entry{{NodeID: kid}}
	g.ConstNames = []string{"ncnn_0_const_0", "ncnn_0_const_1"}
	return g
}

func TestMarshalRoundTrip(t *testing.T) {
	g := denseGraph()

	data, err := Marshal(g)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"inputs":[[0,0,0],[1,0,0],[2,0,0]]`)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, g.Symbol, back.Symbol)
	assert.Equal(t, g.ConstNames, back.ConstNames)
	require.Len(t, back.Nodes, 4)
	assert.Equal(t, g.Nodes[3].Inputs, back.Nodes[3].Inputs)
	assert.Equal(t, "relu", back.Nodes[3].AttrString(AttrActivationType, ""))

	shape, err := back.Nodes[0].Shape()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, shape)
}

func TestUnmarshalTwoFieldEntries(t *testing.T) {
	data := []byte(`{"symbol":"s","nodes":[
		{"op":"input","name":"x","inputs":[],"num_outputs":1},
		{"op":"kernel","name":"reshape","inputs":[[0,0]],"num_outputs":1}],
		"arg_nodes":[0],"heads":[[1,0]],"const_names":[]}`)

	g, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, Entry{NodeID: 0, Index: 0}, g.Nodes[1].Inputs[0])
}

func TestKernelNode(t *testing.T) {
	g := denseGraph()
	id, err := g.KernelNode()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), id)

	none := NewGraph("none")
	none.AddNode(Node{OpType: OpInput, Name: "x", NumOutputs: 1})
	_, err = none.KernelNode()
	assert.True(t, errors.Is(err, ErrNoKernel))

	two := denseGraph()
	two.AddNode(Node{OpType: OpKernel, Name: "reshape", Inputs: []Entry{{NodeID: 3}}, NumOutputs: 1})
	_, err = two.KernelNode()
	assert.True(t, errors.Is(err, ErrMultipleKernels))
	assert.True(t, errors.Is(two.Validate(), ErrMultipleKernels))
}

func TestValidateRejectsForwardReference(t *testing.T) {
	g := denseGraph()
	g.Nodes[1].OpType = OpKernel
	g.Nodes[1].Inputs = []Entry{{NodeID: 2}}
	assert.True(t, errors.Is(g.Validate(), ErrInvalidGraph))
}

func TestValidateConstNames(t *testing.T) {
	g := denseGraph()
	g.ConstNames = g.ConstNames[:1]
	assert.True(t, errors.Is(g.Validate(), ErrInvalidGraph))

	g = denseGraph()
	g.ConstNames[1] = "other"
	assert.True(t, errors.Is(g.Validate(), ErrInvalidGraph))
}

func TestValidateHeads(t *testing.T) {
	g := denseGraph()
	g.Heads = []Entry{{NodeID: 3, Index: 1}}
	assert.True(t, errors.Is(g.Validate(), ErrInvalidGraph))
}

func TestAttrHelpers(t *testing.T) {
	n := Node{Name: "conv"}
	n.SetAttr("strides", "2", "1")
	n.SetAttr("groups", "1")
	n.SetAttr("bad", "x")

	strides, err := n.AttrInts("strides")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, strides)

	groups, err := n.AttrInt("groups", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, groups)

	missing, err := n.AttrInt("missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, missing)

	_, err = n.AttrInt("strides", 0)
	assert.Error(t, err)
	_, err = n.AttrInts("bad")
	assert.Error(t, err)
	_, err = n.AttrInts("missing")
	assert.Error(t, err)
}

func TestRowPtr(t *testing.T) {
	g := denseGraph()
	assert.Equal(t, []uint32{0, 1, 2, 3, 4}, g.RowPtr())
	assert.Equal(t, []uint32{0}, g.InputNodes())
	assert.Equal(t, map[string]uint32{"ncnn_0_const_0": 1, "ncnn_0_const_1": 2}, g.ConstNodes())
}
