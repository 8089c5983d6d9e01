// Package relay models the host compiler's expression tree consumed by the bridge.
//
// Expressions live in an append-only arena (Module) and are referenced by ExprID
// handles. Handles are stable for the lifetime of the module, so match results and
// memo tables can key on them without aliasing concerns.
//
// Supported expression kinds:
//   - Var: a function parameter with a declared tensor type
//   - Constant: a bound tensor value (weights, biases)
//   - Call: a call to a primitive operator (by name) or to a Function
//   - Function: parameters, a body and attributes (e.g. the Composite tag)
//
// Every expression carries an inferred TensorType computed at construction.
package relay

import (
	"github.com/born-ml/ncnnbridge/internal/tensor"
)

// ExprID is a stable handle into a Module's expression arena.
type ExprID int32

// NoExpr marks an absent expression reference.
const NoExpr ExprID = -1

// Valid reports whether id refers to an expression.
func (id ExprID) Valid() bool {
	return id >= 0
}

// Kind discriminates expression variants.
type Kind uint8

// Expression kinds.
const (
	KindVar Kind = iota
	KindConstant
	KindCall
	KindFunction
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindVar:
		return "Var"
	case KindConstant:
		return "Constant"
	case KindCall:
		return "Call"
	case KindFunction:
		return "Function"
	default:
		return "Unknown"
	}
}

// AttrComposite is the function attribute naming a composite pattern.
const AttrComposite = "Composite"

// TensorType is the checked type of an expression.
type TensorType struct {
	Shape tensor.Shape
	DType tensor.DataType
}

// Expr is one node of the arena. Which fields are meaningful depends on Kind.
type Expr struct {
	Kind Kind

	// Name is the variable name for KindVar and the operator name for calls to primitives.
	Name string

	// Callee is the called function for KindCall when calling a Function, else NoExpr.
	Callee ExprID
	Args   []ExprID

	Params []ExprID
	Body   ExprID

	Attrs Attrs
	Value *tensor.RawTensor
	Type  TensorType
}

// IsOpCall reports whether the expression is a call to a primitive operator.
func (e *Expr) IsOpCall() bool {
	return e.Kind == KindCall && !e.Callee.Valid()
}
