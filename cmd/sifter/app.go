package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"sifter/internal/analyzer"
	"sifter/internal/config"
	"sifter/internal/database"
	"sifter/internal/events"
	"sifter/internal/logging"
	"sifter/internal/notifications"
	"sifter/internal/results"
	"sifter/internal/services/llm"
	"sifter/internal/session"
	"sifter/internal/settings"
	"sifter/internal/workflow"
)

// app holds the wired engine and its collaborators for one process.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *database.DB
	store    *session.Store
	settings *settings.Provider
	results  *results.Accumulator
	hub      *events.Hub
	nats     *events.NATSPublisher
	notifier notifications.Service
	engine   *workflow.Engine
	analyzer analyzer.Analyzer
}

type appOptions struct {
	newAnalyzer analyzerFactory
	// connectNATS attaches the NATS sink when events.nats_url is set.
	connectNATS bool
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		store:    session.NewStore(db),
		settings: settings.NewFromConfig(cfg, db, logger),
		results:  results.NewAccumulator(cfg.Paths.ResultsDir),
		hub:      events.NewHub(cfg.Events.HubCapacity),
		notifier: notifications.NewService(cfg),
	}

	if opts.connectNATS && strings.TrimSpace(cfg.Events.NATSURL) != "" {
		publisher, err := events.ConnectNATS(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			// progress still reaches the in-memory hub
			logging.WarnWithContext(logger, "nats unavailable", "nats_connect_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check events.nats_url"),
				logging.String(logging.FieldImpact, "events are not published to NATS"),
			)
		} else {
			a.nats = publisher
			a.hub.AddSink(publisher)
		}
	}

	newAnalyzer := opts.newAnalyzer
	if newAnalyzer == nil {
		newAnalyzer = llmAnalyzer
	}
	evaluator, err := newAnalyzer(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	engine, err := workflow.New(cfg, workflow.Dependencies{
		Store:       a.store,
		Analyzer:    evaluator,
		Accumulator: a.results,
		Settings:    a.settings,
		Hub:         a.hub,
		Notifier:    a.notifier,
		Logger:      logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = engine
	a.analyzer = evaluator
	return a, nil
}

// logUsage reports LLM token consumption for the process lifetime.
func (a *app) logUsage() {
	tracker, ok := a.analyzer.(interface {
		Usage() (llm.UsageStats, bool)
	})
	if !ok {
		return
	}
	usage, ok := tracker.Usage()
	if !ok || usage.Requests == 0 {
		return
	}
	a.logger.Info("llm usage",
		logging.Int64("requests", usage.Requests),
		logging.Int64("prompt_tokens", usage.PromptTokens),
		logging.Int64("completion_tokens", usage.CompletionTokens),
	)
}

// Close releases the NATS connection and database.
func (a *app) Close() {
	if a == nil {
		return
	}
	if a.nats != nil {
		_ = a.nats.Close()
		a.nats = nil
	}
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
}
