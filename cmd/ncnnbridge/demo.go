package main

import (
	"github.com/born-ml/ncnnbridge/internal/pattern"
	"github.com/born-ml/ncnnbridge/internal/relay"
	"github.com/born-ml/ncnnbridge/internal/tensor"
)

// demoProgram builds fn(x[1,4]) = ncnn.dense{relu(bias_add(dense(x, W[3,4]), b[3]))}
// with W all ones and b = [1, 2, 3].
func demoProgram() (*relay.Module, relay.ExprID, error) {
	mod := relay.NewModule()

	ones := make([]float32, 12)
	for i := range ones {
		ones[i] = 1
	}
	weight, err := tensor.FromFloat32(ones, tensor.Shape{3, 4})
	if err != nil {
		return nil, 0, err
	}
	bias, err := tensor.FromFloat32([]float32{1, 2, 3}, tensor.Shape{3})
	if err != nil {
		return nil, 0, err
	}

	a := mod.Var("a", tensor.Shape{1, 4}, tensor.Float32)
	dense, err := mod.Call(relay.OpDense, nil, a, mod.Const(weight))
	if err != nil {
		return nil, 0, err
	}
	biased, err := mod.Call(relay.OpBiasAdd, nil, dense, mod.Const(bias))
	if err != nil {
		return nil, 0, err
	}
	relu, err := mod.Call(relay.OpReLU, nil, biased)
	if err != nil {
		return nil, 0, err
	}
	composite, err := mod.Function([]relay.ExprID{a}, relu, relay.Attrs{relay.AttrComposite: pattern.CompositeDense})
	if err != nil {
		return nil, 0, err
	}

	x := mod.Var("x", tensor.Shape{1, 4}, tensor.Float32)
	call, err := mod.CallFunction(composite, x)
	if err != nil {
		return nil, 0, err
	}
	fn, err := mod.Function([]relay.ExprID{x}, call, nil)
	if err != nil {
		return nil, 0, err
	}
	return mod, fn, nil
}
