package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sifter/internal/analyzer"
	"sifter/internal/config"
	"sifter/internal/events"
	"sifter/internal/logging"
	"sifter/internal/notifications"
	"sifter/internal/results"
	"sifter/internal/session"
	"sifter/internal/settings"
	"sifter/internal/source"
)

const (
	stageName          = "workflow"
	defaultEventBuffer = 64
	maxAcceptedInEvent = 10
	maxSampleReasons   = 3
)

// Summary is the finalize result for a completed session.
type Summary = events.Summary

// InstructionSource resolves workflow settings. *settings.Provider satisfies it.
type InstructionSource interface {
	Get(ctx context.Context, workflow, key, def string) string
}

// Accumulator is the result artifact surface the engine writes through.
// *results.Accumulator satisfies it.
type Accumulator interface {
	Path(sessionID string) string
	Merge(sessionID string, batch results.Batch) (results.MergeResult, error)
	Load(sessionID string) (results.Artifact, error)
	Ensure(sessionID string) (string, error)
	Exists(sessionID string) bool
	Size(sessionID string) int64
}

// Dependencies bundles the collaborators an Engine drives. Store and Analyzer
// are required; the rest fall back to config-derived defaults.
type Dependencies struct {
	Store       *session.Store
	Analyzer    analyzer.Analyzer
	Accumulator Accumulator
	Settings    InstructionSource
	Reader      *source.Reader
	Hub         *events.Hub
	Notifier    notifications.Service
	Logger      *slog.Logger
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithEventBuffer sets the buffer size of run event channels.
func WithEventBuffer(size int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.eventBuffer = size
		}
	}
}

// WithClock overrides the time source used for generated session names.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine coordinates session creation and chunked runs.
type Engine struct {
	cfg         *config.Config
	store       *session.Store
	analyzer    analyzer.Analyzer
	accumulator Accumulator
	settings    InstructionSource
	reader      *source.Reader
	hub         *events.Hub
	notifier    notifications.Service
	logger      *slog.Logger
	locks       *lockSet

	eventBuffer int
	now         func() time.Time
}

// New constructs an Engine. The analyzer is wrapped with the configured
// per-chunk timeout.
func New(cfg *config.Config, deps Dependencies, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("workflow engine requires config")
	}
	if deps.Store == nil || deps.Analyzer == nil {
		return nil, errors.New("workflow engine requires session store and analyzer")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	accumulator := deps.Accumulator
	if accumulator == nil {
		accumulator = results.NewAccumulator(cfg.Paths.ResultsDir)
	}
	reader := deps.Reader
	if reader == nil {
		reader = source.NewReader(source.Options{
			SheetName:       cfg.Workflow.SheetName,
			DefaultCategory: cfg.Workflow.DefaultCategory,
			Detector:        source.DetectorFor(cfg.Workflow.TermColumn, cfg.Workflow.CategoryColumn),
		})
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	e := &Engine{
		cfg:         cfg,
		store:       deps.Store,
		analyzer:    analyzer.Timeout(deps.Analyzer, cfg.AnalyzerTimeout()),
		accumulator: accumulator,
		settings:    deps.Settings,
		reader:      reader,
		hub:         deps.Hub,
		notifier:    notifier,
		logger:      logging.NewComponentLogger(logger, "workflow"),
		locks:       newLockSet(cfg.LockDir()),
		eventBuffer: defaultEventBuffer,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Running reports whether a run for sessionID is active in this process.
func (e *Engine) Running(sessionID string) bool {
	return e.locks.held(sessionID)
}

func (e *Engine) chunkSize(size int) int {
	if size > 0 {
		return size
	}
	if e.cfg.Workflow.DefaultChunkSize > 0 {
		return e.cfg.Workflow.DefaultChunkSize
	}
	return 100
}

// instructions returns the unrendered template; the analyzer substitutes the topic.
func (e *Engine) instructions(ctx context.Context) string {
	if e.settings == nil {
		return analyzer.DefaultInstructions
	}
	return e.settings.Get(ctx, e.cfg.Workflow.Name, settings.KeyAgentInstructions, analyzer.DefaultInstructions)
}
