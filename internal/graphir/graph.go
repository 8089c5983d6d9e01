// Package graphir defines the portable graph IR exchanged between compile time and
// load time.
//
// A Graph is an ordered node list. Node ids are positions in that list and inputs
// reference earlier nodes by (id, output index), so insertion order is part of the
// format. Each subgraph holds exactly one node of op type "kernel"; input and const
// nodes feed it.
package graphir

import (
	"strconv"

	"github.com/pkg/errors"
)

// Node op types.
const (
	OpInput  = "input"
	OpConst  = "const"
	OpKernel = "kernel"
)

// Well-known attribute keys.
const (
	AttrShape          = "shape"
	AttrDType          = "dtype"
	AttrActivationType = "activation_type"
)

// Errors returned by graph validation.
var (
	ErrNoKernel        = errors.New("subgraph has no kernel node")
	ErrMultipleKernels = errors.New("subgraph has more than one kernel node")
	ErrInvalidGraph    = errors.New("invalid graph")
)

// Entry references one output of a node.
type Entry struct {
	NodeID uint32
	Index  uint32
}

// Node is one logical operator.
type Node struct {
	OpType     string              `json:"op"`
	Name       string              `json:"name"`
	Inputs     []Entry             `json:"inputs"`
	NumOutputs uint32              `json:"num_outputs"`
	Attrs      map[string][]string `json:"attrs,omitempty"`
}

// Graph is one serialized subgraph.
type Graph struct {
	Symbol     string   `json:"symbol"`
	Nodes      []Node   `json:"nodes"`
	ArgNodes   []uint32 `json:"arg_nodes"`
	Heads      []Entry  `json:"heads"`
	ConstNames []string `json:"const_names"`
}

// NewGraph creates an empty graph for symbol.
func NewGraph(symbol string) *Graph {
	return &Graph{Symbol: symbol}
}

// AddNode appends n and returns its id.
func (g *Graph) AddNode(n Node) uint32 {
	g.Nodes = append(g.Nodes, n)
	return uint32(len(g.Nodes) - 1)
}

// KernelNode scans the node list once and returns the id of the single kernel node.
// A second kernel stops the scan with ErrMultipleKernels.
func (g *Graph) KernelNode() (uint32, error) {
	found := false
	var id uint32
	for nid := range g.Nodes {
		if g.Nodes[nid].OpType != OpKernel {
			continue
		}
		if found {
			return 0, errors.Wrapf(ErrMultipleKernels, "nodes %d and %d", id, nid)
		}
		found = true
		id = uint32(nid)
	}
	if !found {
		return 0, ErrNoKernel
	}
	return id, nil
}

// InputNodes returns the ids of input (non-const) nodes in order.
func (g *Graph) InputNodes() []uint32 {
	var ids []uint32
	for nid := range g.Nodes {
		if g.Nodes[nid].OpType == OpInput {
			ids = append(ids, uint32(nid))
		}
	}
	return ids
}

// ConstNodes maps const node names to ids.
func (g *Graph) ConstNodes() map[string]uint32 {
	ids := make(map[string]uint32)
	for nid := range g.Nodes {
		if g.Nodes[nid].OpType == OpConst {
			ids[g.Nodes[nid].Name] = uint32(nid)
		}
	}
	return ids
}

// RowPtr returns the prefix sums of output counts: entry (nid, idx) has id RowPtr[nid]+idx.
func (g *Graph) RowPtr() []uint32 {
	ptr := make([]uint32, len(g.Nodes)+1)
	for nid := range g.Nodes {
		ptr[nid+1] = ptr[nid] + g.Nodes[nid].NumOutputs
	}
	return ptr
}

// Validate checks structural invariants: inputs reference earlier nodes and existing
// outputs, every const node is named in ConstNames exactly once, arg nodes are input
// nodes, heads exist and there is exactly one kernel.
func (g *Graph) Validate() error {
	for nid := range g.Nodes {
		n := &g.Nodes[nid]
		switch n.OpType {
		case OpInput, OpConst, OpKernel:
		default:
			return errors.Wrapf(ErrInvalidGraph, "node %d has op type %q", nid, n.OpType)
		}
		if n.NumOutputs == 0 {
			return errors.Wrapf(ErrInvalidGraph, "node %d has no outputs", nid)
		}
		for i, in := range n.Inputs {
			if int(in.NodeID) >= nid {
				return errors.Wrapf(ErrInvalidGraph, "node %d input %d references node %d", nid, i, in.NodeID)
			}
			if in.Index >= g.Nodes[in.NodeID].NumOutputs {
				return errors.Wrapf(ErrInvalidGraph, "node %d input %d references output %d of node %d",
					nid, i, in.Index, in.NodeID)
			}
		}
	}

	consts := g.ConstNodes()
	if len(consts) != len(g.ConstNames) {
		return errors.Wrapf(ErrInvalidGraph, "%d const nodes, %d const names", len(consts), len(g.ConstNames))
	}
	for _, name := range g.ConstNames {
		if _, ok := consts[name]; !ok {
			return errors.Wrapf(ErrInvalidGraph, "const name %q has no node", name)
		}
	}

	for _, nid := range g.ArgNodes {
		if int(nid) >= len(g.Nodes) || g.Nodes[nid].OpType == OpKernel {
			return errors.Wrapf(ErrInvalidGraph, "arg node %d is not an input", nid)
		}
	}
	for i, h := range g.Heads {
		if int(h.NodeID) >= len(g.Nodes) || h.Index >= g.Nodes[h.NodeID].NumOutputs {
			return errors.Wrapf(ErrInvalidGraph, "head %d references missing entry %v", i, h)
		}
	}

	_, err := g.KernelNode()
	return err
}

// Attr returns the raw attribute values.
func (n *Node) Attr(name string) ([]string, bool) {
	v, ok := n.Attrs[name]
	return v, ok
}

// HasAttr reports whether the attribute is set.
func (n *Node) HasAttr(name string) bool {
	_, ok := n.Attrs[name]
	return ok
}

// SetAttr sets an attribute.
func (n *Node) SetAttr(name string, values ...string) {
	if n.Attrs == nil {
		n.Attrs = make(map[string][]string)
	}
	n.Attrs[name] = values
}

// AttrInts parses an integer array attribute.
func (n *Node) AttrInts(name string) ([]int, error) {
	raw, ok := n.Attrs[name]
	if !ok {
		return nil, errors.Errorf("node %q has no attribute %q", n.Name, name)
	}
	out := make([]int, len(raw))
	for i, s := range raw {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %q of node %q", name, n.Name)
		}
		out[i] = v
	}
	return out, nil
}

// AttrInt parses a scalar integer attribute, returning defaultVal when absent.
func (n *Node) AttrInt(name string, defaultVal int) (int, error) {
	raw, ok := n.Attrs[name]
	if !ok {
		return defaultVal, nil
	}
	if len(raw) != 1 {
		return 0, errors.Errorf("attribute %q of node %q has %d values", name, n.Name, len(raw))
	}
	v, err := strconv.Atoi(raw[0])
	if err != nil {
		return 0, errors.Wrapf(err, "attribute %q of node %q", name, n.Name)
	}
	return v, nil
}

// AttrString returns the first value of a string attribute or defaultVal.
func (n *Node) AttrString(name, defaultVal string) string {
	if raw, ok := n.Attrs[name]; ok && len(raw) > 0 {
		return raw[0]
	}
	return defaultVal
}

// Shape returns the node's output shape from the shape attribute.
func (n *Node) Shape() ([]int, error) {
	return n.AttrInts(AttrShape)
}
