package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	goruntime "runtime"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/sbl8/edgeinfer/compiler"
	"github.com/sbl8/edgeinfer/envconfig"
	"github.com/sbl8/edgeinfer/pipeline"
	"github.com/sbl8/edgeinfer/profiling"
	"github.com/sbl8/edgeinfer/respond"
	"github.com/sbl8/edgeinfer/runtime"
)

var (
	modelPath = flag.String("model", "", "Compiled model blob (default: reference classifier)")
	width     = flag.Int("width", 96, "Frame width")
	height    = flag.Int("height", 96, "Frame height")
	channels  = flag.Int("channels", 1, "Frame channels")
	iter      = flag.Int("iter", 100, "Number of invocations")
	arenaSize = flag.Int("arena", envconfig.DefaultArenaSize, "Arena size in bytes")
	layout    = flag.Bool("layout", false, "Print the arena layout")
	verbose   = flag.Bool("verbose", false, "Verbose output")
)

func main() {
	flag.Parse()

	fmt.Printf("edgeinfer Performance Analysis Tool\n")
	fmt.Printf("===================================\n")
	fmt.Printf("Go Version: %s\n", goruntime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", goruntime.GOOS, goruntime.GOARCH)
	fmt.Printf("Frame: %dx%dx%d\n", *width, *height, *channels)
	fmt.Printf("Iterations: %d\n", *iter)
	fmt.Printf("Operator Profiling: %t\n", profiling.Enabled)
	fmt.Printf("\n")

	blob, err := readModel()
	if err != nil {
		log.Fatalf("model: %v", err)
	}

	logger := slog.New(slog.DiscardHandler)
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	s := pipeline.DefaultSettings()
	s.Width, s.Height, s.Channels = *width, *height, *channels
	s.ArenaSize = *arenaSize
	s.InputMode = pipeline.InputModePush
	p, err := pipeline.New(pipeline.Config{
		Settings:  s,
		Model:     blob,
		Pool:      runtime.NewHeapPool("heap", envconfig.DefaultPoolSize),
		Responder: respond.Func(func(context.Context, []float32, []string) error { return nil }),
		Logger:    logger,

		AccumulateProfile: true,
	})
	if err != nil {
		log.Fatalf("startup: %v", err)
	}

	e := p.Engine()
	arena := e.Arena()
	fmt.Printf("Arena: %d bytes, weights %d, planned %d, free %d\n\n",
		arena.TotalSize(), e.WeightBytes(), e.PlannedBytes(), arena.RemainingSize())
	if *layout {
		writeLayout(os.Stdout, e.Layout())
	}
	writeCosts(os.Stdout, e)

	frames := make([][]float32, 8)
	rng := rand.New(rand.NewPCG(1, 2))
	for i := range frames {
		frames[i] = make([]float32, s.Width*s.Height*s.Channels)
		for j := range frames[i] {
			frames[i][j] = float32(rng.IntN(256))
		}
	}

	ctx := context.Background()
	start := time.Now()
	for i := range *iter {
		if err := p.RunInference(ctx, frames[i%len(frames)]); err != nil {
			log.Fatalf("invocation %d: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	stats := e.Stats()
	fmt.Printf("Invocations:     %d in %v (%.1f/s)\n", stats.Invocations, elapsed, float64(*iter)/elapsed.Seconds())
	fmt.Printf("Average latency: %v\n", stats.AverageLatency)
	fmt.Printf("Last latency:    %v\n\n", stats.LastLatency)

	if profiling.Enabled {
		p.Profile().WriteTable(os.Stdout)
	} else {
		fmt.Printf("Build with -tags profile for per-operator timings.\n")
	}
}

func readModel() ([]byte, error) {
	if *modelPath != "" {
		return os.ReadFile(*modelPath)
	}
	c := compiler.DefaultReferenceConfig()
	c.Width, c.Height, c.Channels = *width, *height, *channels
	return compiler.ReferenceClassifier(c)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func writeLayout(w io.Writer, placements []runtime.Placement) {
	table := newTable(w, "NAME", "REGION", "OFFSET", "SIZE")
	for _, pl := range placements {
		table.Append([]string{pl.Name, pl.Region, fmt.Sprint(pl.Offset), fmt.Sprint(pl.Size)})
	}
	table.Render()
	fmt.Fprintln(w)
}

func writeCosts(w io.Writer, e *runtime.Engine) {
	ops := e.Model().Operators()
	table := newTable(w, "#", "OPERATOR", "OPS", "BYTES", "BYTES/OP")
	for i, c := range e.Costs() {
		intensity := 0.0
		if c.Ops > 0 {
			intensity = float64(c.Bytes) / float64(c.Ops)
		}
		table.Append([]string{fmt.Sprint(i), ops[i].Kind.String(), fmt.Sprint(c.Ops), fmt.Sprint(c.Bytes), fmt.Sprintf("%.4f", intensity)})
	}
	table.Render()
	fmt.Fprintln(w)
}
