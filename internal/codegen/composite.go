package codegen

import (
	"github.com/pkg/errors"

	"github.com/born-ml/ncnnbridge/internal/graphir"
	"github.com/born-ml/ncnnbridge/internal/pattern"
	"github.com/born-ml/ncnnbridge/internal/relay"
)

// activationNames maps activation operators to the activation_type attribute value.
var activationNames = map[string]string{
	relay.OpReLU: "relu",
}

// lowerComposite emits a kernel named after the anchor operator with inputs
// [data, weight, bias?] in source argument order. The extractor registered for
// name in the pattern table decides the shape of the chain.
func (s *serializer) lowerComposite(name string, call *relay.Expr) (graphir.Node, error) {
	matcher, ok := pattern.Lookup(name)
	if !ok {
		return graphir.Node{}, errors.Wrap(pattern.ErrUnknownComposite, name)
	}
	match, err := matcher.Extract(s.mod, call.Callee)
	if err != nil {
		return graphir.Node{}, err
	}
	if len(call.Args) == 0 {
		return graphir.Node{}, errors.Errorf("%s called without arguments", name)
	}
	anchor := s.mod.Expr(match.Anchor)

	inputs := make([]graphir.Entry, 0, 3)
	data, err := s.first(call.Args[0])
	if err != nil {
		return graphir.Node{}, errors.Wrap(err, "data")
	}
	inputs = append(inputs, data)

	weight, err := s.first(anchor.Args[1])
	if err != nil {
		return graphir.Node{}, errors.Wrap(err, "weight")
	}
	inputs = append(inputs, weight)

	if match.HasBias() {
		bias, err := s.first(s.mod.Expr(match.Bias).Args[1])
		if err != nil {
			return graphir.Node{}, errors.Wrap(err, "bias")
		}
		inputs = append(inputs, bias)
	}

	node := graphir.Node{
		OpType:     graphir.OpKernel,
		Name:       anchor.Name,
		Inputs:     inputs,
		NumOutputs: 1,
	}
	copyAttrs(&node, anchor.Attrs)

	if match.HasActivation() {
		act := s.mod.Expr(match.Activation).Name
		kind, ok := activationNames[act]
		if !ok {
			return graphir.Node{}, errors.Errorf("activation %s has no engine equivalent", act)
		}
		node.SetAttr(graphir.AttrActivationType, kind)
	}
	return node, nil
}
