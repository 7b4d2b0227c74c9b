// Package pipeline runs the detection cycle: acquire an input, invoke the
// engine, dispatch the scores.
//
// New performs the startup sequence in a fixed order and reports the first
// failure as a *FatalError naming its stage. After a successful start every
// failure is transient: the cycle is skipped, the error is logged and
// returned, and the pipeline stays usable.
//
// A Pipeline is confined to one goroutine, like the engine it owns.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sbl8/edgeinfer/capture"
	"github.com/sbl8/edgeinfer/envconfig"
	"github.com/sbl8/edgeinfer/kernels"
	"github.com/sbl8/edgeinfer/model"
	"github.com/sbl8/edgeinfer/profiling"
	"github.com/sbl8/edgeinfer/respond"
	"github.com/sbl8/edgeinfer/runtime"
)

const (
	InputModePull = envconfig.InputModePull
	InputModePush = envconfig.InputModePush
)

// Startup stages, in order.
const (
	StagePool     = "pool"
	StageModel    = "model"
	StageArena    = "arena"
	StageRegistry = "registry"
	StageEngine   = "engine"
	StageAllocate = "allocate"
	StageBind     = "bind"
)

var ErrInputMode = errors.New("pipeline: operation not available in this input mode")

// FatalError is a startup failure. The detection feature stays off.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Settings describe the model the pipeline is built for.
type Settings struct {
	Width, Height, Channels int
	CategoryCount           int
	Labels                  []string
	ArenaSize               int
	InputMode               string
}

// DefaultSettings match the fruit detector: 96x96 grayscale, two categories.
func DefaultSettings() Settings {
	return Settings{
		Width:         96,
		Height:        96,
		Channels:      1,
		CategoryCount: 2,
		Labels:        []string{"no fruit", "fruit"},
		ArenaSize:     envconfig.DefaultArenaSize,
		InputMode:     InputModePull,
	}
}

// SettingsFromEnv applies EDGE_* overrides to the defaults.
func SettingsFromEnv() Settings {
	s := DefaultSettings()
	s.Labels = envconfig.Labels()
	s.CategoryCount = len(s.Labels)
	s.ArenaSize = int(envconfig.ArenaSize())
	s.InputMode = envconfig.InputMode()
	return s
}

func (s Settings) inputElements() int { return s.Width * s.Height * s.Channels }

type Config struct {
	Settings

	Model     []byte
	Pool      runtime.Pool
	Registry  *kernels.Registry // nil selects ClassifierRegistry
	Source    capture.FrameSource
	Responder respond.Responder // nil logs every result
	Logger    *slog.Logger

	// In builds with the profile tag every successful invocation is
	// reported and the counters are reset, so each report covers exactly
	// one invocation. LogProfile also logs each report. AccumulateProfile
	// turns the per-invocation reset off; counters then accumulate until
	// Profile is called.
	LogProfile        bool
	AccumulateProfile bool
}

// Stats counts cycles and their outcomes.
type Stats struct {
	Cycles          int64
	Dispatched      int64
	Skipped         int64
	InvokeFailures  int64
	RespondFailures int64
}

type Pipeline struct {
	id       uuid.UUID
	settings Settings
	logger   *slog.Logger

	model  *model.Model
	engine *runtime.Engine
	input  *runtime.Tensor
	output *runtime.Tensor

	provider   InputProvider
	push       *PushProvider
	dispatcher *Dispatcher

	prof        *profiling.Counters
	lastProfile profiling.Report
	logProfile  bool
	accumulate  bool

	stats Stats
}

// New runs the startup sequence: pool diagnostics, model load, arena
// reservation, registry, engine, tensor allocation and handle binding.
func New(cfg Config) (*Pipeline, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		id:          uuid.New(),
		settings:    cfg.Settings,
		logger:      logger,
		prof:        profiling.New(),
		logProfile:  cfg.LogProfile,
		accumulate:  cfg.AccumulateProfile,
	}
	fatal := func(stage string, err error) (*Pipeline, error) {
		logger.Error("startup failed", "stage", stage, "error", err)
		return nil, &FatalError{Stage: stage, Err: err}
	}

	if cfg.Pool == nil || cfg.Pool.Total() <= 0 {
		return fatal(StagePool, runtime.ErrPoolUnavailable)
	}
	logger.Info("memory pool", "name", cfg.Pool.Name(), "total", cfg.Pool.Total(), "free", cfg.Pool.Free())

	m, err := model.Load(cfg.Model)
	if err != nil {
		return fatal(StageModel, err)
	}
	p.model = m
	logger.Info("model loaded", "version", m.Version(), "description", m.Description(),
		"operators", len(m.Operators()), "tensors", m.TensorCount(), "weights", m.WeightBytes())

	arena, err := runtime.NewArena(cfg.Pool, cfg.ArenaSize)
	if err != nil {
		return fatal(StageArena, err)
	}

	reg := cfg.Registry
	if reg == nil {
		if reg, err = ClassifierRegistry(); err != nil {
			return fatal(StageRegistry, err)
		}
	}

	p.engine, err = runtime.NewEngine(m, reg, arena, runtime.WithLogger(logger), runtime.WithProfiler(p.prof))
	if err != nil {
		return fatal(StageEngine, err)
	}
	if err := p.engine.AllocateTensors(); err != nil {
		return fatal(StageAllocate, err)
	}

	if err := p.bind(cfg); err != nil {
		return fatal(StageBind, err)
	}
	logger.Info("pipeline ready", "instance", p.id, "mode", p.provider.Mode(),
		"input", p.input.Shape(), "categories", cfg.CategoryCount,
		"arena_used", arena.UsedSize(), "arena_free", arena.RemainingSize())
	return p, nil
}

func (p *Pipeline) bind(cfg Config) error {
	var err error
	if p.input, err = p.engine.Input(0); err != nil {
		return err
	}
	if p.output, err = p.engine.Output(0); err != nil {
		return err
	}
	if n, want := p.input.ElementCount(), cfg.inputElements(); n != want || want == 0 {
		return fmt.Errorf("input %q holds %d values, frame %dx%dx%d needs %d",
			p.input.Name(), n, cfg.Width, cfg.Height, cfg.Channels, want)
	}
	if cfg.CategoryCount <= 0 || p.output.ElementCount() < cfg.CategoryCount {
		return fmt.Errorf("output %q holds %d values, %d categories configured",
			p.output.Name(), p.output.ElementCount(), cfg.CategoryCount)
	}
	if len(cfg.Labels) != cfg.CategoryCount {
		p.logger.Warn("label count differs from category count", "labels", len(cfg.Labels), "categories", cfg.CategoryCount)
	}

	switch cfg.InputMode {
	case InputModePull, "":
		if cfg.Source == nil {
			return errors.New("pull mode needs a frame source")
		}
		p.provider = NewPullProvider(cfg.Source, cfg.Width, cfg.Height, cfg.Channels)
	case InputModePush:
		p.push = NewPushProvider(p.input.ElementCount())
		p.provider = p.push
	default:
		return fmt.Errorf("unknown input mode %q", cfg.InputMode)
	}

	r := cfg.Responder
	if r == nil {
		r = respond.LogResponder{Logger: p.logger}
	}
	p.dispatcher = NewDispatcher(p.output, cfg.CategoryCount, cfg.Labels, r)
	return nil
}

// Step runs one cycle: fill the input, invoke, dispatch.
func (p *Pipeline) Step(ctx context.Context) error {
	p.stats.Cycles++
	if err := p.provider.Fill(ctx, p.input); err != nil {
		p.stats.Skipped++
		if !errors.Is(err, ErrNoInput) && ctx.Err() == nil {
			p.logger.Warn("image capture failed", "error", err)
		}
		return err
	}
	return p.infer(ctx)
}

// RunInference runs one cycle on samples, which must hold exactly one value
// per input element. Values are copied as given, without normalization.
func (p *Pipeline) RunInference(ctx context.Context, samples []float32) error {
	if p.push == nil {
		return fmt.Errorf("%w: RunInference needs push mode", ErrInputMode)
	}
	if err := p.push.Set(samples); err != nil {
		p.logger.Warn("inference input rejected", "error", err)
		return err
	}
	return p.Step(ctx)
}

func (p *Pipeline) infer(ctx context.Context) error {
	if err := p.engine.Invoke(); err != nil {
		p.stats.InvokeFailures++
		p.logger.Error("invoke failed", "error", err)
		return err
	}
	if profiling.Enabled && !p.accumulate {
		p.lastProfile = p.prof.ReportAndReset()
		if p.logProfile {
			p.lastProfile.Log(p.logger)
		}
	}
	if err := p.dispatcher.Dispatch(ctx); err != nil {
		p.stats.RespondFailures++
		p.logger.Warn("respond failed", "error", err)
		return fmt.Errorf("pipeline: respond: %w", err)
	}
	p.stats.Dispatched++
	return nil
}

// Run cycles until ctx is done, pausing period between cycles. Cycle
// errors are logged and do not stop the loop. Cancellation is observed
// between cycles only.
func (p *Pipeline) Run(ctx context.Context, period time.Duration) error {
	if p.push != nil {
		return fmt.Errorf("%w: Run needs pull mode", ErrInputMode)
	}
	p.logger.Info("detection loop started", "period", period)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("detection loop stopped", "cycles", p.stats.Cycles, "dispatched", p.stats.Dispatched)
			return nil
		case <-timer.C:
		}
		_ = p.Step(ctx)
		timer.Reset(period)
	}
}

// Profile returns the report of the latest invocation. With
// AccumulateProfile it returns the counters accumulated since the previous
// call and resets them. It is empty in builds without the profile tag.
func (p *Pipeline) Profile() profiling.Report {
	if p.accumulate {
		return p.prof.ReportAndReset()
	}
	return p.lastProfile
}

func (p *Pipeline) ID() uuid.UUID { return p.id }

func (p *Pipeline) Mode() string { return p.provider.Mode() }

func (p *Pipeline) Settings() Settings { return p.settings }

func (p *Pipeline) Engine() *runtime.Engine { return p.engine }

func (p *Pipeline) Model() *model.Model { return p.model }

// Scores returns the scores of the latest dispatch. The slice is reused.
func (p *Pipeline) Scores() []float32 { return p.dispatcher.Scores() }

func (p *Pipeline) Stats() Stats { return p.stats }
