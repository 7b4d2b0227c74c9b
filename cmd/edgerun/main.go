package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sbl8/edgeinfer/compiler"
	"github.com/sbl8/edgeinfer/envconfig"
	"github.com/sbl8/edgeinfer/logutil"
	"github.com/sbl8/edgeinfer/model"
	"github.com/sbl8/edgeinfer/pipeline"
	"github.com/sbl8/edgeinfer/respond"
	"github.com/sbl8/edgeinfer/runtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.CheckErr(newRootCmd().ExecuteContext(ctx))
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "edgerun",
		Short:         "Run the on-device image classifier",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				fmt.Println("edgerun - edgeinfer runtime")
				fmt.Printf("Model schema version %d, built with Go %s\n", model.SchemaVersion, goruntime.Version())
				return
			}
			cmd.Print(cmd.UsageString())
		},
	}
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.PersistentFlags().String("model", "", "Compiled model blob (default $EDGE_MODEL, or the built-in reference classifier)")
	rootCmd.PersistentFlags().Int("width", 96, "Frame width the model expects")
	rootCmd.PersistentFlags().Int("height", 96, "Frame height the model expects")
	rootCmd.PersistentFlags().Int("channels", 1, "Frame channels the model expects")

	rootCmd.AddCommand(newRunCmd(), newInferCmd(), newEvalCmd(), newEnvCmd())
	return rootCmd
}

func newLogger() *slog.Logger {
	return logutil.NewLogger(os.Stderr, envconfig.LogLevel())
}

// loadModel reads the model named by --model or EDGE_MODEL. With neither set
// it compiles the reference classifier for the configured frame size.
func loadModel(cmd *cobra.Command, s pipeline.Settings, logger *slog.Logger) ([]byte, error) {
	path, _ := cmd.Flags().GetString("model")
	if path == "" {
		path = envconfig.Model()
	}
	if path != "" {
		return os.ReadFile(path)
	}
	c := compiler.DefaultReferenceConfig()
	c.Width, c.Height, c.Channels, c.Categories = s.Width, s.Height, s.Channels, s.CategoryCount
	logger.Info("no model configured, using the reference classifier", "width", c.Width, "height", c.Height, "channels", c.Channels)
	return compiler.ReferenceClassifier(c)
}

// newConfig assembles a pipeline configuration from flags and EDGE_*
// variables. The returned closer releases the responders.
func newConfig(cmd *cobra.Command, mode string, logger *slog.Logger) (pipeline.Config, func(), error) {
	s := pipeline.SettingsFromEnv()
	s.InputMode = mode
	s.Width, _ = cmd.Flags().GetInt("width")
	s.Height, _ = cmd.Flags().GetInt("height")
	s.Channels, _ = cmd.Flags().GetInt("channels")

	blob, err := loadModel(cmd, s, logger)
	if err != nil {
		return pipeline.Config{}, nil, err
	}

	responders := []respond.Responder{respond.LogResponder{Logger: logger}}
	closer := func() {}
	if broker := envconfig.MQTTBroker(); broker != "" {
		mr, err := respond.NewMQTTResponder(respond.MQTTOptions{
			Broker:   broker,
			ClientID: "edgerun-" + uuid.NewString()[:8],
			Topic:    envconfig.MQTTTopic(),
			QoS:      1,
			Logger:   logger,
		})
		if err != nil {
			return pipeline.Config{}, nil, err
		}
		responders = append(responders, mr)
		closer = func() {
			published, failures := mr.Stats()
			logger.Info("mqtt responder closed", "published", published, "failures", failures)
			_ = mr.Close()
		}
	}

	return pipeline.Config{
		Settings:   s,
		Model:      blob,
		Pool:       runtime.NewHeapPool(envconfig.PoolName(), int(envconfig.PoolSize())),
		Responder:  respond.Multi(responders...),
		Logger:     logger,
		LogProfile: envconfig.Profile(),
	}, closer, nil
}

// withJSON adds a responder writing every result to w.
func withJSON(cfg *pipeline.Config, w io.Writer) {
	cfg.Responder = respond.Multi(cfg.Responder, respond.NewJSONResponder(w))
}
