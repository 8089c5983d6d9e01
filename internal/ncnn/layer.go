package ncnn

import (
	"sort"

	"github.com/pkg/errors"
)

// Errors returned by layers.
var (
	ErrUnknownLayer      = errors.New("unknown layer type")
	ErrPipelineNotReady  = errors.New("layer pipeline not created")
	ErrBlobShapeMismatch = errors.New("blob shape mismatch")
)

// Layer is one engine operator. The call sequence is LoadParam, LoadModel,
// CreatePipeline and then any number of Forward calls.
type Layer interface {
	Type() string
	LoadParam(pd *ParamDict) error
	LoadModel(mb ModelBin) error
	CreatePipeline(opt Option) error
	// Forward reads bottom and writes top, resizing top as needed.
	Forward(bottom, top *Mat, opt Option) error
}

type layerCreator func() Layer

var layerRegistry = map[string]layerCreator{
	"InnerProduct": func() Layer { return &InnerProduct{} },
	"Convolution":  func() Layer { return &Convolution{} },
	"Reshape":      func() Layer { return &Reshape{} },
}

// CreateLayer instantiates a layer by type name.
func CreateLayer(typ string) (Layer, error) {
	create, ok := layerRegistry[typ]
	if !ok {
		return nil, errors.Wrap(ErrUnknownLayer, typ)
	}
	return create(), nil
}

// LayerTypes lists the registered layer types, sorted.
func LayerTypes() []string {
	types := make([]string, 0, len(layerRegistry))
	for t := range layerRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
