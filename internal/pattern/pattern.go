// Package pattern recognises composite operator chains inside fused functions.
//
// A composite function produced by the host partitioner has a body of the form
//
//	activation?(bias_add?(anchor(data, weight), bias))
//
// Extraction walks from the body (the outermost call) toward the leaves, consuming at
// most one activation and at most one bias_add, then requires the anchor operator.
// Any other call on the chain fails the match.
package pattern

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/ncnnbridge/internal/relay"
)

// Composite pattern tags attached by the partitioner.
const (
	CompositeDense  = "ncnn.dense"
	CompositeConv2D = "ncnn.conv2d"
)

// Errors returned by extraction.
var (
	ErrAnchorNotFound   = errors.New("composite anchor operator not found")
	ErrUnknownComposite = errors.New("unrecognized composite pattern")
	ErrNotComposite     = errors.New("function has no composite tag")
)

// Match references the calls of one composite instance.
// Anchor is always valid; Bias and Activation are relay.NoExpr when absent.
type Match struct {
	Anchor     relay.ExprID
	Bias       relay.ExprID
	Activation relay.ExprID
}

// HasBias reports whether a bias_add was matched.
func (m Match) HasBias() bool {
	return m.Bias.Valid()
}

// HasActivation reports whether an activation was matched.
func (m Match) HasActivation() bool {
	return m.Activation.Valid()
}

// Matcher is the state machine Activation? -> Bias? -> Anchor for one pattern family.
type Matcher struct {
	Name        string   // Composite tag
	Anchor      string   // Mandatory operator
	Bias        string   // Optional bias operator
	Activations []string // Optional trailing activations
}

// Extract matches the body of fn against the pattern.
func (p Matcher) Extract(mod *relay.Module, fn relay.ExprID) (Match, error) {
	f, ok := mod.Lookup(fn)
	if !ok || f.Kind != relay.KindFunction {
		return Match{}, errors.Errorf("%s: expression %d is not a function", p.Name, fn)
	}

	match := Match{Anchor: relay.NoExpr, Bias: relay.NoExpr, Activation: relay.NoExpr}
	current := f.Body

	for _, act := range p.Activations {
		if mod.IsOp(current, act) {
			match.Activation = current
			current = mod.Expr(current).Args[0]
			break
		}
	}
	if p.Bias != "" && mod.IsOp(current, p.Bias) {
		match.Bias = current
		current = mod.Expr(current).Args[0]
	}
	if !mod.IsOp(current, p.Anchor) {
		return Match{}, errors.Wrapf(ErrAnchorNotFound, "%s: expected %s, found %s",
			p.Name, p.Anchor, mod.Describe(current))
	}
	match.Anchor = current
	return match, nil
}

var table = map[string]Matcher{
	CompositeDense: {
		Name:        CompositeDense,
		Anchor:      relay.OpDense,
		Bias:        relay.OpBiasAdd,
		Activations: []string{relay.OpReLU},
	},
	CompositeConv2D: {
		Name:        CompositeConv2D,
		Anchor:      relay.OpConv2D,
		Bias:        relay.OpBiasAdd,
		Activations: []string{relay.OpReLU},
	},
}

// Lookup returns the matcher registered for a composite tag.
func Lookup(name string) (Matcher, bool) {
	m, ok := table[name]
	return m, ok
}

// Names returns the registered composite tags, sorted.
func Names() []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extract reads fn's composite tag and runs the matching extractor.
func Extract(mod *relay.Module, fn relay.ExprID) (Match, Matcher, error) {
	name, ok := mod.Composite(fn)
	if !ok {
		return Match{}, Matcher{}, ErrNotComposite
	}
	matcher, ok := Lookup(name)
	if !ok {
		return Match{}, Matcher{}, errors.Wrap(ErrUnknownComposite, name)
	}
	match, err := matcher.Extract(mod, fn)
	if err != nil {
		return Match{}, Matcher{}, err
	}
	return match, matcher, nil
}

// supportedOps lists primitive operators the engine can run on their own.
var supportedOps = map[string]bool{
	relay.OpDense:   true,
	relay.OpConv2D:  true,
	relay.OpReshape: true,
}

// IsSupported reports whether a primitive operator may be offloaded.
func IsSupported(op string) bool {
	return supportedOps[op]
}

// SupportedOps returns the offloadable primitive operators, sorted.
func SupportedOps() []string {
	ops := make([]string, 0, len(supportedOps))
	for op := range supportedOps {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
