package graphir

import (
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// MarshalJSON encodes an entry as [node_id, index, version].
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]uint32{e.NodeID, e.Index, 0})
}

// UnmarshalJSON accepts [node_id, index] or [node_id, index, version].
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw []uint32
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "graph entry")
	}
	if len(raw) != 2 && len(raw) != 3 {
		return errors.Errorf("graph entry has %d fields, want 2 or 3", len(raw))
	}
	e.NodeID, e.Index = raw[0], raw[1]
	return nil
}

// Marshal validates g and encodes it to its wire form.
func Marshal(g *Graph) ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(g)
	if err != nil {
		return nil, errors.Wrap(err, "encode graph")
	}
	return data, nil
}

// Unmarshal decodes and validates a graph.
func Unmarshal(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, errors.Wrap(err, "decode graph")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}
