package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sbl8/edgeinfer/pipeline"
)

func newInferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "infer [FILE]",
		Short: "Classify samples given as one line of whitespace separated values each",
		Long: "Reads samples from FILE, or stdin when FILE is omitted or -. Each line holds " +
			"width*height*channels raw values in row-major, channel-interleaved order. " +
			"Results are written to stdout as JSON lines.",
		Args: cobra.MaximumNArgs(1),
		RunE: inferHandler,
	}
}

func inferHandler(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg, closer, err := newConfig(cmd, pipeline.InputModePush, logger)
	if err != nil {
		return err
	}
	defer closer()
	withJSON(&cfg, cmd.OutOrStdout())

	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	var r io.Reader = os.Stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	samples := make([]float32, 0, cfg.Width*cfg.Height*cfg.Channels)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		samples, err = parseSamples(samples[:0], text)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := p.RunInference(cmd.Context(), samples); err != nil {
			logger.Warn("sample skipped", "line", line, "error", err)
		}
	}
	return scanner.Err()
}

func parseSamples(dst []float32, line string) ([]float32, error) {
	for _, field := range strings.Fields(line) {
		v, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return dst, err
		}
		dst = append(dst, float32(v))
	}
	return dst, nil
}
