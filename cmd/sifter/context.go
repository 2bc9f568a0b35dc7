package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"sifter/internal/analyzer"
	"sifter/internal/config"
	"sifter/internal/logging"
	"sifter/internal/services/llm"
)

// analyzerFactory builds the chunk analyzer; tests swap in a fake.
type analyzerFactory func(cfg *config.Config, logger *slog.Logger) (analyzer.Analyzer, error)

type commandContext struct {
	configFlag string
	jsonFlag   bool

	newAnalyzer analyzerFactory

	configOnce sync.Once
	config     *config.Config
	configErr  error

	appMu sync.Mutex
	app   *app
}

func newCommandContext() *commandContext {
	return &commandContext{newAnalyzer: llmAnalyzer}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// openApp wires the engine once per command invocation. CLI commands log to
// the rotated file only so their stdout stays readable.
func (c *commandContext) openApp(ctx context.Context) (*app, error) {
	c.appMu.Lock()
	defer c.appMu.Unlock()
	if c.app != nil {
		return c.app, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := fileLogger(cfg)
	if err != nil {
		return nil, err
	}
	a, err := buildApp(ctx, cfg, logger, appOptions{newAnalyzer: c.newAnalyzer})
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *commandContext) withApp(cmd *cobra.Command, fn func(*app) error) error {
	a, err := c.openApp(cmd.Context())
	if err != nil {
		return err
	}
	return fn(a)
}

func (c *commandContext) close() {
	c.appMu.Lock()
	defer c.appMu.Unlock()
	if c.app != nil {
		c.app.logUsage()
		c.app.Close()
		c.app = nil
	}
}

func fileLogger(cfg *config.Config) (*slog.Logger, error) {
	if strings.TrimSpace(cfg.Paths.LogDir) == "" {
		return logging.NewNop(), nil
	}
	logPath := filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
	logger, err := logging.New(logging.Options{
		Level:            cfg.Logging.Level,
		Format:           "json",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
		Rotation: &logging.Rotation{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.RetentionDays,
			Compress:   cfg.Logging.Compress,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

func llmAnalyzer(cfg *config.Config, logger *slog.Logger) (analyzer.Analyzer, error) {
	llmCfg := cfg.GetLLM()
	client := llm.NewClient(llm.Config{
		APIKey:         llmCfg.APIKey,
		BaseURL:        llmCfg.BaseURL,
		Model:          llmCfg.Model,
		Referer:        llmCfg.Referer,
		Title:          llmCfg.Title,
		TimeoutSeconds: llmCfg.TimeoutSeconds,
	}, llm.WithLogger(logging.NewComponentLogger(logger, "llm")))
	return analyzer.NewLLMAnalyzer(client, logger), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
