package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/sbl8/edgeinfer/capture"
	"github.com/sbl8/edgeinfer/envconfig"
	"github.com/sbl8/edgeinfer/pipeline"
	"github.com/sbl8/edgeinfer/profiling"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the detection loop on frames from the capture source",
		Args:  cobra.NoArgs,
		RunE:  runHandler,
	}
	cmd.Flags().Duration("period", envconfig.CyclePeriod(), "Pause between cycles")
	cmd.Flags().Bool("json", false, "Write every result as JSON to stdout")
	return cmd
}

func runHandler(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	cfg, closer, err := newConfig(cmd, pipeline.InputModePull, logger)
	if err != nil {
		return err
	}
	defer closer()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		withJSON(&cfg, cmd.OutOrStdout())
	}

	if dir := envconfig.FrameDir(); dir != "" {
		src, err := capture.NewImageDirSource(dir, logger)
		if err != nil {
			return err
		}
		logger.Info("capture source", "dir", dir, "images", len(src.Files()))
		cfg.Source = src
	} else {
		logger.Info("capture source", "dir", "", "pattern", true)
		cfg.Source = capture.NewPatternSource()
	}

	ctx := cmd.Context()
	p, err := pipeline.New(cfg)
	if err != nil {
		var fatal *pipeline.FatalError
		if !errors.As(err, &fatal) {
			return err
		}
		// Startup failures leave detection off while the process stays up.
		logger.Error("detection disabled", "stage", fatal.Stage, "error", fatal.Err)
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				logger.Warn("detection disabled", "stage", fatal.Stage)
			}
		}
	}

	period, _ := cmd.Flags().GetDuration("period")
	if err := p.Run(ctx, period); err != nil {
		return err
	}
	stats := p.Engine().Stats()
	logger.Info("engine stats", "invocations", stats.Invocations, "failures", stats.Failures,
		"average_latency", stats.AverageLatency, "last_latency", stats.LastLatency)
	if profiling.Enabled {
		p.Profile().WriteTable(cmd.ErrOrStderr())
	}
	return nil
}
