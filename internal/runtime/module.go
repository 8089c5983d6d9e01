// Package runtime builds an engine layer from a serialized subgraph and executes it.
//
// A Module is created from a graph, bound to its constants once with Init and then
// run any number of times. Each Run copies the bound host input into the cached
// layer's input Mat, calls Forward once and copies the result into the bound host
// output. A Module is not safe for concurrent use.
package runtime

import (
	"time"

	"github.com/pkg/errors"

	"github.com/born-ml/ncnnbridge/internal/graphir"
	"github.com/born-ml/ncnnbridge/internal/layout"
	"github.com/born-ml/ncnnbridge/internal/logger"
	"github.com/born-ml/ncnnbridge/internal/metrics"
	"github.com/born-ml/ncnnbridge/internal/ncnn"
	"github.com/born-ml/ncnnbridge/internal/tensor"
)

// Errors returned by the runtime.
var (
	ErrConstCount            = errors.New("constant count does not match const names")
	ErrNotInitialized        = errors.New("module not initialized")
	ErrAlreadyInitialized    = errors.New("module already initialized")
	ErrInputCount            = errors.New("unexpected input count")
	ErrUnsupportedOp         = errors.New("unsupported op")
	ErrUnsupportedActivation = errors.New("unsupported activation")
	ErrMissingAttr           = errors.New("missing attribute")
	ErrUnbound               = errors.New("slot not bound")
)

// State is the lifecycle position of a Module.
type State int

// Module states.
const (
	Uninitialized State = iota
	Built
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Built:
		return "built"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// CachedLayer is the built engine layer with its pre-allocated blobs.
type CachedLayer struct {
	Layer  ncnn.Layer
	Option ncnn.Option
	In     ncnn.Mat
	Out    ncnn.Mat
}

// Module executes one serialized subgraph.
type Module struct {
	graph *graphir.Graph
	opts  Options
	state State

	rowPtr    []uint32
	inputIDs  []uint32 // non-const input nodes, in node order
	dataEntry []*tensor.RawTensor
	outputs   []*tensor.RawTensor

	kernelID uint32
	opName   string
	layer    *CachedLayer
}

// New creates an uninitialized module for g.
func New(g *graphir.Graph, opts ...Options) *Module {
	opt := DefaultOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}
	rowPtr := g.RowPtr()
	return &Module{
		graph:     g,
		opts:      opt,
		rowPtr:    rowPtr,
		inputIDs:  g.InputNodes(),
		dataEntry: make([]*tensor.RawTensor, rowPtr[len(g.Nodes)]),
		outputs:   make([]*tensor.RawTensor, len(g.Heads)),
	}
}

// Symbol returns the subgraph symbol.
func (m *Module) Symbol() string { return m.graph.Symbol }

// State returns the lifecycle state.
func (m *Module) State() State { return m.state }

// Layer returns the cached layer, or nil before Init.
func (m *Module) Layer() *CachedLayer { return m.layer }

// NumInputs returns the number of host input slots.
func (m *Module) NumInputs() int { return len(m.inputIDs) }

// NumOutputs returns the number of host output slots.
func (m *Module) NumOutputs() int { return len(m.graph.Heads) }

// InputShape returns the declared shape of input slot i.
func (m *Module) InputShape(i int) (tensor.Shape, error) {
	if i < 0 || i >= len(m.inputIDs) {
		return nil, errors.Wrapf(ErrInputCount, "input %d of %d", i, len(m.inputIDs))
	}
	return m.nodeShape(m.inputIDs[i])
}

// OutputShape returns the declared shape of output slot i.
func (m *Module) OutputShape(i int) (tensor.Shape, error) {
	if i < 0 || i >= len(m.graph.Heads) {
		return nil, errors.Wrapf(ErrInputCount, "output %d of %d", i, len(m.graph.Heads))
	}
	return m.nodeShape(m.graph.Heads[i].NodeID)
}

func (m *Module) nodeShape(nid uint32) (tensor.Shape, error) {
	n := &m.graph.Nodes[nid]
	shape, err := n.Shape()
	if err != nil {
		return nil, errors.Wrapf(ErrMissingAttr, "node %d (%s): %v", nid, n.Name, err)
	}
	return tensor.Shape(shape), nil
}

func (m *Module) entryID(e graphir.Entry) uint32 {
	return m.rowPtr[e.NodeID] + e.Index
}

// Init binds constants in ConstNames order and builds the engine layer. It may be
// called once; on failure the module stays Uninitialized.
func (m *Module) Init(consts []*tensor.RawTensor) error {
	if m.state != Uninitialized {
		return ErrAlreadyInitialized
	}
	names := m.graph.ConstNames
	if len(consts) != len(names) {
		m.fail("const_count")
		return errors.Wrapf(ErrConstCount, "%s: got %d constants, graph names %d",
			m.graph.Symbol, len(consts), len(names))
	}

	ids := m.graph.ConstNodes()
	for i, name := range names {
		nid, ok := ids[name]
		if !ok {
			m.unbindConsts()
			m.fail("const_name")
			return errors.Wrapf(ErrConstCount, "const %q has no node", name)
		}
		if consts[i] == nil {
			m.unbindConsts()
			m.fail("const_nil")
			return errors.Errorf("const %q is nil", name)
		}
		if want, err := m.graph.Nodes[nid].Shape(); err == nil && !tensor.Shape(want).Equal(consts[i].Shape()) {
			m.unbindConsts()
			m.fail("const_shape")
			return errors.Errorf("const %q has shape %v, graph declares %v", name, consts[i].Shape(), want)
		}
		m.dataEntry[m.rowPtr[nid]] = consts[i]
	}

	start := time.Now()
	if err := m.buildEngine(); err != nil {
		m.unbindConsts()
		m.layer = nil
		m.fail("build")
		return errors.Wrapf(err, "build %s", m.graph.Symbol)
	}
	metrics.RecordBuild(m.opName, time.Since(start))

	m.state = Built
	logger.Log.Info("engine built",
		"symbol", m.graph.Symbol,
		"op", m.opName,
		"in", m.layer.In.ShapeString(),
		"out", m.layer.Out.ShapeString(),
		"threads", m.layer.Option.NumThreads)
	return nil
}

// InitNamed binds constants by name.
func (m *Module) InitNamed(consts map[string]*tensor.RawTensor) error {
	ordered := make([]*tensor.RawTensor, 0, len(m.graph.ConstNames))
	for _, name := range m.graph.ConstNames {
		t, ok := consts[name]
		if !ok {
			return errors.Wrapf(ErrConstCount, "missing constant %q", name)
		}
		ordered = append(ordered, t)
	}
	if len(consts) != len(ordered) {
		return errors.Wrapf(ErrConstCount, "got %d constants, graph names %d", len(consts), len(ordered))
	}
	return m.Init(ordered)
}

func (m *Module) fail(reason string) {
	metrics.RecordBuildError(reason)
}

func (m *Module) unbindConsts() {
	for _, nid := range m.graph.ConstNodes() {
		m.dataEntry[m.rowPtr[nid]] = nil
	}
}

// SetInput binds host tensor t to input slot i. The tensor must have the declared
// shape and is read on every Run.
func (m *Module) SetInput(i int, t *tensor.RawTensor) error {
	want, err := m.InputShape(i)
	if err != nil {
		return err
	}
	if !want.Equal(t.Shape()) {
		return errors.Wrapf(layout.ErrShapeMismatch, "input %d: got %v, want %v", i, t.Shape(), want)
	}
	m.dataEntry[m.rowPtr[m.inputIDs[i]]] = t
	return nil
}

// SetOutput binds host tensor t to output slot i. It is written on every Run.
func (m *Module) SetOutput(i int, t *tensor.RawTensor) error {
	want, err := m.OutputShape(i)
	if err != nil {
		return err
	}
	if !want.Equal(t.Shape()) {
		return errors.Wrapf(layout.ErrShapeMismatch, "output %d: got %v, want %v", i, t.Shape(), want)
	}
	m.outputs[i] = t
	return nil
}

// Run copies the bound inputs in, runs the layer once and copies the result out.
func (m *Module) Run() (err error) {
	if m.state == Uninitialized {
		return ErrNotInitialized
	}
	start := time.Now()
	defer func() { metrics.RecordRun(m.opName, time.Since(start), err) }()

	kernel := &m.graph.Nodes[m.kernelID]
	src := m.dataEntry[m.entryID(kernel.Inputs[0])]
	if src == nil {
		return errors.Wrap(ErrUnbound, "input 0")
	}
	for i, out := range m.outputs {
		if out == nil {
			return errors.Wrapf(ErrUnbound, "output %d", i)
		}
	}

	l := m.layer
	if err := layout.ToMat(src, &l.In); err != nil {
		return errors.Wrap(err, "copy in")
	}
	metrics.RecordCopy(metrics.DirectionIn, src.ByteSize())

	if err := l.Layer.Forward(&l.In, &l.Out, l.Option); err != nil {
		return errors.Wrapf(err, "%s forward", l.Layer.Type())
	}

	for i, out := range m.outputs {
		if err := layout.FromMat(&l.Out, out); err != nil {
			return errors.Wrapf(err, "copy out %d", i)
		}
		metrics.RecordCopy(metrics.DirectionOut, out.ByteSize())
	}

	m.state = Ready
	logger.Log.Debug("run", "symbol", m.graph.Symbol, "op", m.opName, "elapsed", time.Since(start))
	return nil
}

// Forward binds inputs, allocates outputs of the declared shapes, runs once and
// returns the outputs.
func (m *Module) Forward(inputs ...*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != len(m.inputIDs) {
		return nil, errors.Wrapf(ErrInputCount, "got %d inputs, module takes %d", len(inputs), len(m.inputIDs))
	}
	for i, t := range inputs {
		if err := m.SetInput(i, t); err != nil {
			return nil, err
		}
	}
	outs := make([]*tensor.RawTensor, len(m.graph.Heads))
	for i := range outs {
		shape, err := m.OutputShape(i)
		if err != nil {
			return nil, err
		}
		out, err := tensor.NewRaw(shape, tensor.Float32)
		if err != nil {
			return nil, err
		}
		if err := m.SetOutput(i, out); err != nil {
			return nil, err
		}
		outs[i] = out
	}
	if err := m.Run(); err != nil {
		return nil, err
	}
	return outs, nil
}
