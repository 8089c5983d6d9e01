// Package codegen serializes a partitioned host function into the portable graph IR.
//
// The serializer visits the function depth-first. Parameters become input nodes,
// constants become const nodes, calls to supported primitive operators are emitted by
// the generic visitor and calls to composite functions are lowered through the
// extractor registered for their composite tag. The result must contain exactly one kernel node.
package codegen

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/born-ml/ncnnbridge/internal/graphir"
	"github.com/born-ml/ncnnbridge/internal/logger"
	"github.com/born-ml/ncnnbridge/internal/pattern"
	"github.com/born-ml/ncnnbridge/internal/relay"
	"github.com/born-ml/ncnnbridge/internal/tensor"
)

// Errors returned by serialization.
var (
	ErrUnsupportedCall = errors.New("unsupported call target")
	ErrFreeVariable    = errors.New("free variable")
)

// Result is the serialized subgraph plus the constant values referenced by its
// const nodes, in ConstNames order.
type Result struct {
	Graph     *graphir.Graph
	Constants []*tensor.RawTensor
}

// serializer holds the state of one Serialize call.
type serializer struct {
	mod       *relay.Module
	graph     *graphir.Graph
	memo      map[relay.ExprID][]graphir.Entry
	constants []*tensor.RawTensor
	bindings  []map[relay.ExprID]relay.ExprID // composite params -> caller args
}

// Serialize converts the global function fn into a graph named symbol.
func Serialize(mod *relay.Module, fn relay.ExprID, symbol string) (*Result, error) {
	f, ok := mod.Lookup(fn)
	if !ok || f.Kind != relay.KindFunction {
		return nil, errors.Errorf("expression %d is not a function", fn)
	}

	s := &serializer{
		mod:   mod,
		graph: graphir.NewGraph(symbol),
		memo:  make(map[relay.ExprID][]graphir.Entry),
	}

	for _, p := range f.Params {
		e := mod.Expr(p)
		node := graphir.Node{OpType: graphir.OpInput, Name: e.Name, NumOutputs: 1}
		setType(&node, e.Type)
		id := s.graph.AddNode(node)
		s.graph.ArgNodes = append(s.graph.ArgNodes, id)
		s.memo[p] = []graphir.Entry{{NodeID: id}}
	}

	heads, err := s.visit(f.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "serialize %s", symbol)
	}
	s.graph.Heads = heads

	if err := s.graph.Validate(); err != nil {
		return nil, errors.Wrapf(err, "serialize %s", symbol)
	}

	logger.Log.Debug("serialized subgraph",
		"symbol", symbol,
		"nodes", len(s.graph.Nodes),
		"consts", len(s.graph.ConstNames))

	return &Result{Graph: s.graph, Constants: s.constants}, nil
}

// visit returns the graph entries produced by id, emitting nodes on first visit.
func (s *serializer) visit(id relay.ExprID) ([]graphir.Entry, error) {
	id = s.resolve(id)
	if entries, ok := s.memo[id]; ok {
		return entries, nil
	}

	e, ok := s.mod.Lookup(id)
	if !ok {
		return nil, errors.Errorf("missing expression %d", id)
	}

	var (
		entries []graphir.Entry
		err     error
	)
	switch e.Kind {
	case relay.KindVar:
		return nil, errors.Wrapf(ErrFreeVariable, "%%%s", e.Name)
	case relay.KindConstant:
		entries = s.visitConstant(e)
	case relay.KindCall:
		if e.IsOpCall() {
			entries, err = s.visitOpCall(e)
		} else {
			entries, err = s.visitCompositeCall(id, e)
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedCall, "%s outside a call", e.Kind)
	}
	if err != nil {
		return nil, err
	}

	s.memo[id] = entries
	return entries, nil
}

// resolve maps a parameter of the composite being lowered to the caller's argument.
func (s *serializer) resolve(id relay.ExprID) relay.ExprID {
	for i := len(s.bindings) - 1; i >= 0; i-- {
		if arg, ok := s.bindings[i][id]; ok {
			id = arg
		}
	}
	return id
}

func (s *serializer) visitConstant(e *relay.Expr) []graphir.Entry {
	name := fmt.Sprintf("%s_const_%d", s.graph.Symbol, len(s.graph.ConstNames))
	node := graphir.Node{OpType: graphir.OpConst, Name: name, NumOutputs: 1}
	setType(&node, e.Type)
	id := s.graph.AddNode(node)
	s.graph.ArgNodes = append(s.graph.ArgNodes, id)
	s.graph.ConstNames = append(s.graph.ConstNames, name)
	s.constants = append(s.constants, e.Value)
	return []graphir.Entry{{NodeID: id}}
}

// visitOpCall is the generic visitor for primitive operators: inputs in argument
// order, attributes copied verbatim. Only operators in the pattern table's supported
// set are accepted.
func (s *serializer) visitOpCall(e *relay.Expr) ([]graphir.Entry, error) {
	if !pattern.IsSupported(e.Name) {
		return nil, errors.Wrapf(ErrUnsupportedCall, "operator %s cannot be offloaded on its own", e.Name)
	}
	var inputs []graphir.Entry
	for _, arg := range e.Args {
		entries, err := s.visit(arg)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, entries...)
	}
	node := graphir.Node{OpType: graphir.OpKernel, Name: e.Name, Inputs: inputs, NumOutputs: 1}
	copyAttrs(&node, e.Attrs)
	setType(&node, e.Type)
	return []graphir.Entry{{NodeID: s.graph.AddNode(node)}}, nil
}

func (s *serializer) visitCompositeCall(id relay.ExprID, call *relay.Expr) ([]graphir.Entry, error) {
	name, ok := s.mod.Composite(call.Callee)
	if !ok {
		return nil, errors.Wrap(ErrUnsupportedCall, "only composite functions can be offloaded")
	}
	if _, ok := pattern.Lookup(name); !ok {
		return nil, errors.Wrap(pattern.ErrUnknownComposite, name)
	}

	fn := s.mod.Expr(call.Callee)
	binding := make(map[relay.ExprID]relay.ExprID, len(fn.Params))
	for i, p := range fn.Params {
		binding[p] = call.Args[i]
	}
	s.bindings = append(s.bindings, binding)
	defer func() { s.bindings = s.bindings[:len(s.bindings)-1] }()

	node, err := s.lowerComposite(name, call)
	if err != nil {
		return nil, errors.Wrapf(err, "composite %s", name)
	}
	setType(&node, s.mod.TypeOf(id))
	return []graphir.Entry{{NodeID: s.graph.AddNode(node)}}, nil
}

// first visits id and returns its first output entry.
func (s *serializer) first(id relay.ExprID) (graphir.Entry, error) {
	entries, err := s.visit(id)
	if err != nil {
		return graphir.Entry{}, err
	}
	if len(entries) == 0 {
		return graphir.Entry{}, errors.Errorf("expression %d produced no outputs", id)
	}
	return entries[0], nil
}

func setType(node *graphir.Node, typ relay.TensorType) {
	shape := make([]string, len(typ.Shape))
	for i, d := range typ.Shape {
		shape[i] = strconv.Itoa(d)
	}
	node.SetAttr(graphir.AttrShape, shape...)
	node.SetAttr(graphir.AttrDType, typ.DType.String())
}

// copyAttrs string-encodes call attributes, one string per scalar element.
func copyAttrs(node *graphir.Node, attrs relay.Attrs) {
	for _, k := range attrs.Keys() {
		switch v := attrs[k].(type) {
		case int:
			node.SetAttr(k, strconv.Itoa(v))
		case []int:
			vals := make([]string, len(v))
			for i, x := range v {
				vals[i] = strconv.Itoa(x)
			}
			node.SetAttr(k, vals...)
		case float64:
			node.SetAttr(k, strconv.FormatFloat(v, 'g', -1, 64))
		case string:
			node.SetAttr(k, v)
		}
	}
}
