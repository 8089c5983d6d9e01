package relay

import (
	"github.com/pkg/errors"

	"github.com/born-ml/ncnnbridge/internal/tensor"
)

// Module is an append-only arena of expressions.
// Expressions are never mutated after construction.
type Module struct {
	exprs []Expr
}

// NewModule creates an empty module.
func NewModule() *Module {
	return &Module{}
}

// Len returns the number of expressions in the arena.
func (m *Module) Len() int {
	return len(m.exprs)
}

// Expr returns the expression for id. Panics on an invalid handle.
func (m *Module) Expr(id ExprID) *Expr {
	return &m.exprs[id]
}

// Lookup returns the expression for id, or false if the handle is out of range.
func (m *Module) Lookup(id ExprID) (*Expr, bool) {
	if id < 0 || int(id) >= len(m.exprs) {
		return nil, false
	}
	return &m.exprs[id], true
}

// TypeOf returns the checked type of id.
func (m *Module) TypeOf(id ExprID) TensorType {
	return m.exprs[id].Type
}

func (m *Module) add(e Expr) ExprID {
	m.exprs = append(m.exprs, e)
	return ExprID(len(m.exprs) - 1)
}

// Var declares a parameter of the given type.
func (m *Module) Var(name string, shape tensor.Shape, dtype tensor.DataType) ExprID {
	return m.add(Expr{
		Kind:   KindVar,
		Name:   name,
		Callee: NoExpr,
		Body:   NoExpr,
		Type:   TensorType{Shape: shape.Clone(), DType: dtype},
	})
}

// Const binds a tensor value.
func (m *Module) Const(value *tensor.RawTensor) ExprID {
	return m.add(Expr{
		Kind:   KindConstant,
		Callee: NoExpr,
		Body:   NoExpr,
		Value:  value,
		Type:   TensorType{Shape: value.Shape().Clone(), DType: value.DType()},
	})
}

// Call applies a registered primitive operator. Attributes are normalised by the
// operator's type relation, so defaults appear explicitly on the call.
func (m *Module) Call(op string, attrs Attrs, args ...ExprID) (ExprID, error) {
	def, ok := LookupOp(op)
	if !ok {
		return NoExpr, errors.Wrapf(ErrUnknownOp, "%s", op)
	}
	if len(args) != def.NumArgs {
		return NoExpr, errors.Errorf("%s expects %d arguments, got %d", op, def.NumArgs, len(args))
	}
	if attrs == nil {
		attrs = Attrs{}
	} else {
		attrs = attrs.Clone()
	}
	if err := attrs.validate(); err != nil {
		return NoExpr, errors.Wrap(err, op)
	}

	argTypes, err := m.argTypes(args)
	if err != nil {
		return NoExpr, errors.Wrap(err, op)
	}
	typ, err := def.Infer(argTypes, attrs)
	if err != nil {
		return NoExpr, errors.Wrapf(err, "type inference for %s", op)
	}

	return m.add(Expr{
		Kind:   KindCall,
		Name:   op,
		Callee: NoExpr,
		Args:   append([]ExprID(nil), args...),
		Body:   NoExpr,
		Attrs:  attrs,
		Type:   typ,
	}), nil
}

// Function creates a function over params. Params must be Vars.
func (m *Module) Function(params []ExprID, body ExprID, attrs Attrs) (ExprID, error) {
	for _, p := range params {
		e, ok := m.Lookup(p)
		if !ok || e.Kind != KindVar {
			return NoExpr, errors.Errorf("function parameter %d is not a Var", p)
		}
	}
	b, ok := m.Lookup(body)
	if !ok {
		return NoExpr, errors.Errorf("function body %d does not exist", body)
	}
	if attrs == nil {
		attrs = Attrs{}
	}
	return m.add(Expr{
		Kind:   KindFunction,
		Callee: NoExpr,
		Params: append([]ExprID(nil), params...),
		Body:   body,
		Attrs:  attrs.Clone(),
		Type:   b.Type,
	}), nil
}

// CallFunction applies fn to args. Argument types must match the parameter types.
func (m *Module) CallFunction(fn ExprID, args ...ExprID) (ExprID, error) {
	f, ok := m.Lookup(fn)
	if !ok || f.Kind != KindFunction {
		return NoExpr, errors.Errorf("callee %d is not a Function", fn)
	}
	if len(args) != len(f.Params) {
		return NoExpr, errors.Errorf("function expects %d arguments, got %d", len(f.Params), len(args))
	}
	argTypes, err := m.argTypes(args)
	if err != nil {
		return NoExpr, err
	}
	for i, p := range f.Params {
		want := m.exprs[p].Type
		if !want.Shape.Equal(argTypes[i].Shape) || want.DType != argTypes[i].DType {
			return NoExpr, errors.Errorf("argument %d has type %v/%s, parameter expects %v/%s",
				i, argTypes[i].Shape, argTypes[i].DType, want.Shape, want.DType)
		}
	}
	return m.add(Expr{
		Kind:   KindCall,
		Callee: fn,
		Args:   append([]ExprID(nil), args...),
		Body:   NoExpr,
		Type:   f.Type,
	}), nil
}

func (m *Module) argTypes(args []ExprID) ([]TensorType, error) {
	types := make([]TensorType, len(args))
	for i, a := range args {
		e, ok := m.Lookup(a)
		if !ok {
			return nil, errors.Errorf("argument %d refers to missing expression %d", i, a)
		}
		if e.Kind == KindFunction {
			return nil, errors.Errorf("argument %d is a Function", i)
		}
		types[i] = e.Type
	}
	return types, nil
}

// IsOp reports whether id is a call to the primitive operator named op.
func (m *Module) IsOp(id ExprID, op string) bool {
	e, ok := m.Lookup(id)
	return ok && e.IsOpCall() && e.Name == op
}

// Composite returns the composite pattern tag of a function.
func (m *Module) Composite(fn ExprID) (string, bool) {
	e, ok := m.Lookup(fn)
	if !ok || e.Kind != KindFunction {
		return "", false
	}
	name, ok := e.Attrs[AttrComposite].(string)
	return name, ok
}

// Describe returns a short label for error messages.
func (m *Module) Describe(id ExprID) string {
	e, ok := m.Lookup(id)
	if !ok {
		return "<none>"
	}
	switch {
	case e.IsOpCall():
		return e.Name
	case e.Kind == KindCall:
		return "call(fn)"
	case e.Kind == KindVar:
		return "%" + e.Name
	default:
		return e.Kind.String()
	}
}
