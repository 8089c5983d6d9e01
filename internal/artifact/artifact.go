package artifact

import (
	"github.com/pkg/errors"

	"github.com/born-ml/ncnnbridge/internal/graphir"
	"github.com/born-ml/ncnnbridge/internal/tensor"
)

// Artifact is a serialized subgraph with the constants bound to its const names.
type Artifact struct {
	Graph     *graphir.Graph
	Constants []*tensor.RawTensor // in Graph.ConstNames order
	Metadata  map[string]string
}

// New pairs a graph with its constants.
func New(g *graphir.Graph, consts []*tensor.RawTensor) (*Artifact, error) {
	a := &Artifact{Graph: g, Constants: consts}
	if err := a.check(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Artifact) check() error {
	if a.Graph == nil {
		return errors.New("artifact has no graph")
	}
	if len(a.Constants) != len(a.Graph.ConstNames) {
		return errors.Wrapf(ErrConstMismatch, "%d constants for %d names", len(a.Constants), len(a.Graph.ConstNames))
	}
	for i, c := range a.Constants {
		if c == nil {
			return errors.Wrapf(ErrConstMismatch, "constant %q is nil", a.Graph.ConstNames[i])
		}
	}
	return nil
}

// Symbol returns the graph symbol.
func (a *Artifact) Symbol() string {
	return a.Graph.Symbol
}

// ConstMap returns the constants keyed by const name.
func (a *Artifact) ConstMap() map[string]*tensor.RawTensor {
	m := make(map[string]*tensor.RawTensor, len(a.Constants))
	for i, name := range a.Graph.ConstNames {
		m[name] = a.Constants[i]
	}
	return m
}
