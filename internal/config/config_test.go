package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"sifter/internal/config"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OPENROUTER_API_KEY", "SIFTER_LLM_API_KEY", "DATABASE_URL", "NATS_URL", "SIFTER_API_TOKEN"} {
		if value, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, value) })
		}
	}
}

func TestLoadDefaultConfigUsesEnvAPIKeyAndExpandsPaths(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "test-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "sifter")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.ResultsDir != filepath.Join(wantData, "results") {
		t.Fatalf("unexpected results dir: %q", cfg.Paths.ResultsDir)
	}
	if cfg.LLM.APIKey != "test-key" {
		t.Fatalf("expected LLM key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Store.Driver != config.DriverSQLite {
		t.Fatalf("expected sqlite driver by default, got %q", cfg.Store.Driver)
	}
	if cfg.Workflow.DefaultChunkSize != 100 {
		t.Fatalf("expected default chunk size 100, got %d", cfg.Workflow.DefaultChunkSize)
	}
	if cfg.Workflow.SheetName != "CATEGORY" {
		t.Fatalf("unexpected sheet name %q", cfg.Workflow.SheetName)
	}
	if cfg.Workflow.ChunkFailurePolicy != config.PolicyIsolate {
		t.Fatalf("unexpected failure policy %q", cfg.Workflow.ChunkFailurePolicy)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "sifter.db") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath())
	}
	if cfg.LockDir() != filepath.Join(wantData, "locks") {
		t.Fatalf("unexpected lock dir %q", cfg.LockDir())
	}
}

func TestLoadCustomConfig(t *testing.T) {
	clearConfigEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"data_dir":    "~/data",
			"results_dir": filepath.Join(tempHome, "out"),
		},
		"llm": map[string]any{
			"api_key": "file-key",
			"model":   "test/model",
		},
		"workflow": map[string]any{
			"default_chunk_size":   50,
			"chunk_failure_policy": "ABORT",
			"term_column":          " Phrase ",
		},
		"logging": map[string]any{
			"format": "JSON",
			"level":  "Debug",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected explicit config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "data") {
		t.Fatalf("unexpected data dir %q", cfg.Paths.DataDir)
	}
	if cfg.LLM.APIKey != "file-key" || cfg.LLM.Model != "test/model" {
		t.Fatalf("unexpected llm section: %+v", cfg.LLM)
	}
	if cfg.Workflow.DefaultChunkSize != 50 {
		t.Fatalf("unexpected chunk size %d", cfg.Workflow.DefaultChunkSize)
	}
	if cfg.Workflow.ChunkFailurePolicy != config.PolicyAbort {
		t.Fatalf("expected abort policy, got %q", cfg.Workflow.ChunkFailurePolicy)
	}
	if cfg.Workflow.TermColumn != "Phrase" {
		t.Fatalf("expected trimmed term column, got %q", cfg.Workflow.TermColumn)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging section: %+v", cfg.Logging)
	}
}

func TestLoadPostgresRequiresDSN(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[store]\ndriver = \"postgres\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, _, err := config.Load(configPath); err == nil || !strings.Contains(err.Error(), "store.dsn") {
		t.Fatalf("expected store.dsn validation error, got %v", err)
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/sifter?sslmode=disable")
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Store.DSN != "postgres://localhost/sifter?sslmode=disable" {
		t.Fatalf("expected DSN from DATABASE_URL, got %q", cfg.Store.DSN)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"driver", func(c *config.Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"chunk size", func(c *config.Config) { c.Workflow.DefaultChunkSize = 0 }, "workflow.default_chunk_size"},
		{"policy", func(c *config.Config) { c.Workflow.ChunkFailurePolicy = "ignore" }, "workflow.chunk_failure_policy"},
		{"retries", func(c *config.Config) { c.Workflow.ChunkRetryAttempts = -1 }, "workflow.chunk_retry_attempts"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestEnsureDirectoriesCreatesPaths(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.ResultsDir = filepath.Join(base, "results")
	cfg.Paths.UploadDir = filepath.Join(base, "uploads")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Settings.FallbackPath = filepath.Join(base, "settings", "workflow_settings.toml")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.ResultsDir, cfg.Paths.UploadDir, cfg.Paths.LogDir, cfg.LockDir(), filepath.Dir(cfg.Settings.FallbackPath)} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Workflow.Name != "excel_processor" {
		t.Fatalf("unexpected workflow name %q", cfg.Workflow.Name)
	}
}

func TestGetLLMTrimsValues(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.APIKey = "  key  "
	llm := cfg.GetLLM()
	if llm.APIKey != "key" {
		t.Fatalf("expected trimmed key, got %q", llm.APIKey)
	}
	if llm.BaseURL == "" || llm.Model == "" {
		t.Fatalf("expected defaults, got %+v", llm)
	}
}
