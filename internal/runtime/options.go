package runtime

import (
	"github.com/born-ml/ncnnbridge/internal/ncnn"
)

// Options configures engine construction.
type Options struct {
	// NumThreads is the worker count handed to the engine layer (default: 2).
	NumThreads int

	// LightMode drops layer scratch buffers after each Forward (default: true).
	LightMode bool
}

// DefaultOptions returns default build options.
func DefaultOptions() Options {
	return Options{
		NumThreads: 2,
		LightMode:  true,
	}
}

func (o Options) engineOption() ncnn.Option {
	return ncnn.Option{NumThreads: max(o.NumThreads, 1), LightMode: o.LightMode}
}
