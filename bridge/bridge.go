// Package bridge compiles fused host subgraphs to a portable graph and runs them on
// the embedded ncnn-style engine.
//
// A subgraph is a function in a relay module whose body calls composite functions
// tagged "ncnn.dense" or "ncnn.conv2d" (anchor op plus optional nn.bias_add and
// nn.relu), or a single supported primitive such as reshape. Compile serializes it
// into an Artifact holding the graph and its constants; Load builds the engine layer
// and returns a Module ready to run.
//
// # Example Usage
//
//	mod := relay.NewModule()
//	// ... build fn(x) = composite(x) ...
//	art, err := bridge.Compile(mod, fn, "ncnn_0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := bridge.Save("ncnn_0.ncbr", art); err != nil {
//	    log.Fatal(err)
//	}
//
//	m, err := bridge.LoadFile("ncnn_0.ncbr")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	outputs, err := m.Forward(input)
//
// # Supported Operators
//
//   - Composite: ncnn.dense, ncnn.conv2d (with optional bias and relu)
//   - Primitive: nn.dense, nn.conv2d, reshape
//
// Use [SupportedOps] and [Composites] to list them at runtime.
package bridge

import (
	"github.com/pkg/errors"

	"github.com/born-ml/ncnnbridge/internal/artifact"
	"github.com/born-ml/ncnnbridge/internal/codegen"
	"github.com/born-ml/ncnnbridge/internal/config"
	"github.com/born-ml/ncnnbridge/internal/pattern"
	"github.com/born-ml/ncnnbridge/internal/relay"
	"github.com/born-ml/ncnnbridge/internal/runtime"
)

// Artifact is a compiled subgraph with its constants.
type Artifact = artifact.Artifact

// WriteOptions configures Save.
type WriteOptions = artifact.WriteOptions

// Module is a loaded subgraph ready to run.
type Module = runtime.Module

// Options configures engine construction.
type Options = runtime.Options

// DefaultOptions returns the default engine options (2 threads).
func DefaultOptions() Options {
	return runtime.DefaultOptions()
}

// OptionsFromConfig derives engine options from loaded settings.
func OptionsFromConfig(cfg config.Config) Options {
	opts := runtime.DefaultOptions()
	opts.NumThreads = cfg.NumThreads
	return opts
}

// Compile serializes function fn of mod into an artifact named symbol.
func Compile(mod *relay.Module, fn relay.ExprID, symbol string) (*Artifact, error) {
	res, err := codegen.Serialize(mod, fn, symbol)
	if err != nil {
		return nil, err
	}
	return artifact.New(res.Graph, res.Constants)
}

// Load builds the engine for a, binding its constants by const name.
func Load(a *Artifact, opts ...Options) (*Module, error) {
	m := runtime.New(a.Graph, opts...)
	if err := m.InitNamed(a.ConstMap()); err != nil {
		return nil, errors.Wrapf(err, "load %s", a.Symbol())
	}
	return m, nil
}

// Save writes a to path.
func Save(path string, a *Artifact, opts ...WriteOptions) error {
	return artifact.Save(path, a, opts...)
}

// LoadFile reads an artifact from path and loads it.
func LoadFile(path string, opts ...Options) (*Module, error) {
	a, err := artifact.Open(path)
	if err != nil {
		return nil, err
	}
	return Load(a, opts...)
}

// SupportedOps lists the primitive operators the engine runs.
func SupportedOps() []string {
	return pattern.SupportedOps()
}

// Composites lists the composite pattern tags that can be offloaded.
func Composites() []string {
	return pattern.Names()
}
