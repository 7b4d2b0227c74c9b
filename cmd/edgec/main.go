package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	goruntime "runtime"

	"github.com/olekukonko/tablewriter"

	"github.com/sbl8/edgeinfer/compiler"
	"github.com/sbl8/edgeinfer/envconfig"
	"github.com/sbl8/edgeinfer/logutil"
	"github.com/sbl8/edgeinfer/model"
)

func main() {
	var (
		reorder   = flag.Bool("reorder", true, "Sort operators listed out of dependency order")
		validate  = flag.Bool("validate", true, "Validate graph structure")
		reference = flag.Bool("reference", false, "Emit the built-in reference classifier instead of compiling a description")
		width     = flag.Int("width", 96, "Reference classifier frame width")
		height    = flag.Int("height", 96, "Reference classifier frame height")
		channels  = flag.Int("channels", 1, "Reference classifier channels (1 or 3)")
		seed      = flag.Uint64("seed", 1, "Reference classifier weight seed")
		verbose   = flag.Bool("verbose", false, "Print a summary of the compiled model")
		version   = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Println("edgec - edgeinfer model compiler")
		fmt.Printf("Model schema version %d, built with Go %s\n", model.SchemaVersion, goruntime.Version())
		return
	}

	args := flag.Args()
	if (*reference && len(args) != 1) || (!*reference && len(args) != 2) {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <src.yaml> <out.edge>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "       %s -reference [options] <out.edge>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger := logutil.NewLogger(os.Stderr, envconfig.LogLevel())
	out := args[len(args)-1]

	if *reference {
		c := compiler.DefaultReferenceConfig()
		c.Width, c.Height, c.Channels, c.Seed = *width, *height, *channels, *seed
		blob, err := compiler.ReferenceClassifier(c)
		if err != nil {
			log.Fatalf("reference classifier: %v", err)
		}
		if err := os.WriteFile(out, blob, 0o644); err != nil {
			log.Fatalf("write %s: %v", out, err)
		}
		fmt.Printf("Wrote reference classifier -> %s (%d bytes)\n", out, len(blob))
	} else {
		opts := compiler.CompileOptions{Reorder: *reorder, Validate: *validate, Logger: logger}
		if err := compiler.CompileWithOptions(args[0], out, opts); err != nil {
			log.Fatalf("compilation failed: %v", err)
		}
		fmt.Printf("Successfully compiled %s -> %s\n", args[0], out)
	}

	if *verbose {
		if err := summarize(out); err != nil {
			log.Fatalf("summary: %v", err)
		}
	}
}

func summarize(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m, err := model.Load(data)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", m.Description())
	fmt.Printf("%d operators, %d tensors, %d weight bytes\n\n", len(m.Operators()), m.TensorCount(), m.WeightBytes())

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"TENSOR", "TYPE", "ELEMENTS", "BYTES", "MIN", "MAX", "MEAN", "STDDEV"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	for _, s := range compiler.Summarize(m) {
		table.Append([]string{
			s.Name,
			s.Type.String(),
			fmt.Sprint(s.Elements),
			fmt.Sprint(s.Bytes),
			fmt.Sprintf("%.4g", s.Min),
			fmt.Sprintf("%.4g", s.Max),
			fmt.Sprintf("%.4g", s.Mean),
			fmt.Sprintf("%.4g", s.StdDev),
		})
	}
	table.Render()
	return nil
}
