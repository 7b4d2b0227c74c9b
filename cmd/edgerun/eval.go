package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"slices"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sbl8/edgeinfer/capture"
	"github.com/sbl8/edgeinfer/pipeline"
	"github.com/sbl8/edgeinfer/respond"
)

func newEvalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eval PATH...",
		Short: "Classify image files and directories and print a score table",
		Args:  cobra.MinimumNArgs(1),
		RunE:  evalHandler,
	}
}

// imageFiles expands directories to the images they contain.
func imageFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && capture.IsImage(e.Name()) {
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
	}
	slices.Sort(files)
	return files, nil
}

func evalHandler(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg, closer, err := newConfig(cmd, pipeline.InputModePush, logger)
	if err != nil {
		return err
	}
	defer closer()

	files, err := imageFiles(args)
	if err != nil {
		return err
	}

	// Decoding is independent per file; inference runs on one engine.
	frames := make([][]float32, len(files))
	var g errgroup.Group
	g.SetLimit(goruntime.NumCPU())
	for i, path := range files {
		g.Go(func() error {
			img, err := capture.DecodeFile(path)
			if err != nil {
				return err
			}
			frame := make([]float32, cfg.Width*cfg.Height*cfg.Channels)
			if err := capture.Fill(img, cfg.Width, cfg.Height, cfg.Channels, frame); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			frames[i] = frame
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var results []respond.Result
	base := cfg.Responder
	cfg.Responder = respond.Multi(base, respond.Func(func(_ context.Context, scores []float32, labels []string) error {
		results = append(results, respond.NewResult(scores, labels))
		return nil
	}))
	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader(append([]string{"FILE", "TOP", "SCORE"}, cfg.Labels...))
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	for i, frame := range frames {
		results = results[:0]
		if err := p.RunInference(cmd.Context(), frame); err != nil {
			table.Append([]string{filepath.Base(files[i]), "error", err.Error()})
			continue
		}
		r := results[0]
		row := []string{filepath.Base(files[i]), r.Top, fmt.Sprintf("%.3f", r.TopScore)}
		for _, c := range r.Categories {
			row = append(row, fmt.Sprintf("%.3f", c.Score))
		}
		table.Append(row)
	}
	table.Render()
	return nil
}
