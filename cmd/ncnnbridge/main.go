// Package main provides the ncnnbridge CLI.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/born-ml/ncnnbridge/bridge"
	"github.com/born-ml/ncnnbridge/internal/artifact"
	"github.com/born-ml/ncnnbridge/internal/config"
	"github.com/born-ml/ncnnbridge/internal/logger"
	"github.com/born-ml/ncnnbridge/internal/metrics"
	"github.com/born-ml/ncnnbridge/internal/ncnn"
	"github.com/born-ml/ncnnbridge/internal/relay"
	"github.com/born-ml/ncnnbridge/internal/tensor"
)

const version = "v0.1.0-dev"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return nil
	}
	switch args[0] {
	case "version":
		return versionCmd(out)
	case "inspect":
		return inspectCmd(args[1:], out)
	case "run":
		return runCmd(args[1:], out)
	case "demo":
		return demoCmd(args[1:], out)
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage(out io.Writer) {
	fmt.Fprintf(out, "ncnnbridge %s\n\n", version)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  version              Show version and supported operators")
	fmt.Fprintln(out, "  inspect <artifact>   Print the graph stored in an artifact")
	fmt.Fprintln(out, "  run <artifact>       Load an artifact and run it on a constant input")
	fmt.Fprintln(out, "  demo                 Compile and run a dense+bias+relu subgraph")
}

func versionCmd(out io.Writer) error {
	fmt.Fprintf(out, "ncnnbridge %s\n", version)
	fmt.Fprintf(out, "composites: %s\n", strings.Join(bridge.Composites(), ", "))
	fmt.Fprintf(out, "operators:  %s\n", strings.Join(bridge.SupportedOps(), ", "))
	fmt.Fprintf(out, "typed ops:  %s\n", strings.Join(relay.RegisteredOps(), ", "))
	fmt.Fprintf(out, "layers:     %s\n", strings.Join(ncnn.LayerTypes(), ", "))
	return nil
}

func inspectCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("inspect takes one artifact path")
	}
	a, err := artifact.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	printArtifact(out, a)
	return nil
}

func printArtifact(out io.Writer, a *bridge.Artifact) {
	g := a.Graph
	fmt.Fprintf(out, "symbol: %s\n", g.Symbol)
	for nid, n := range g.Nodes {
		shape, _ := n.Shape()
		fmt.Fprintf(out, "  %3d %-6s %-12s shape=%v", nid, n.OpType, n.Name, shape)
		if len(n.Inputs) > 0 {
			ids := make([]string, len(n.Inputs))
			for i, in := range n.Inputs {
				ids[i] = fmt.Sprintf("%d:%d", in.NodeID, in.Index)
			}
			fmt.Fprintf(out, " inputs=[%s]", strings.Join(ids, " "))
		}
		fmt.Fprintln(out)
	}
	for i, name := range g.ConstNames {
		c := a.Constants[i]
		fmt.Fprintf(out, "  const %s %s %v\n", name, c.DType(), c.Shape())
	}
	for k, v := range a.Metadata {
		fmt.Fprintf(out, "  meta %s=%s\n", k, v)
	}
}

func runCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "", "YAML config file")
	value := fs.Float64("value", 1, "value every input element is set to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("run takes one artifact path")
	}

	cfg, err := setup(*configPath)
	if err != nil {
		return err
	}
	m, err := bridge.LoadFile(fs.Arg(0), bridge.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}
	return forward(out, m, float32(*value))
}

func demoCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "", "YAML config file")
	save := fs.String("save", "", "write the compiled artifact to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := setup(*configPath)
	if err != nil {
		return err
	}
	mod, fn, err := demoProgram()
	if err != nil {
		return err
	}
	a, err := bridge.Compile(mod, fn, "ncnn_0")
	if err != nil {
		return err
	}
	a.Metadata = map[string]string{"source": "demo"}
	printArtifact(out, a)

	if *save != "" {
		if err := bridge.Save(*save, a, bridge.WriteOptions{Compress: cfg.CompressArtifacts}); err != nil {
			return err
		}
		logger.Log.Info("artifact saved", "path", *save, "compressed", cfg.CompressArtifacts)
	}

	m, err := bridge.Load(a, bridge.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}
	return forward(out, m, 0)
}

// setup loads config, configures logging and starts the metrics endpoint.
func setup(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Log.Error("metrics server stopped", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		logger.Log.Info("serving metrics", "addr", cfg.MetricsAddr)
	}
	return cfg, nil
}

func forward(out io.Writer, m *bridge.Module, value float32) error {
	shape, err := m.InputShape(0)
	if err != nil {
		return err
	}
	data := make([]float32, shape.NumElements())
	for i := range data {
		data[i] = value
	}
	in, err := tensor.FromFloat32(data, shape)
	if err != nil {
		return err
	}
	outs, err := m.Forward(in)
	if err != nil {
		return err
	}
	for i, o := range outs {
		fmt.Fprintf(out, "output %d %v: %v\n", i, o.Shape(), o.AsFloat32())
	}
	return nil
}
