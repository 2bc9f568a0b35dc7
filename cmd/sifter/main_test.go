package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"sifter/internal/analyzer"
	"sifter/internal/api"
	"sifter/internal/config"
	"sifter/internal/testsupport"
)

type keepAll struct{}

func (keepAll) Evaluate(_ context.Context, req analyzer.Request) (analyzer.Result, error) {
	var out analyzer.Result
	for _, item := range req.Items {
		out.Accepted = append(out.Accepted, analyzer.Accepted{Term: item.Term, Justification: "on topic"})
	}
	return out, nil
}

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	configPath := filepath.Join(base, "config.toml")
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()
	ctx := newCommandContext()
	ctx.newAnalyzer = func(*config.Config, *slog.Logger) (analyzer.Analyzer, error) { return keepAll{}, nil }
	defer ctx.close()

	cmd := newRootCommandWithContext(ctx)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func (env *cliTestEnv) workbook(t *testing.T, rows int) string {
	t.Helper()
	path := filepath.Join(env.baseDir, "sources", "gym.xlsx")
	testsupport.WriteWorkbook(t, path, testsupport.Sheet{Name: "CATEGORY", Rows: testsupport.TermRows(rows)})
	return path
}

func createSession(t *testing.T, env *cliTestEnv, source string) api.Session {
	t.Helper()
	out, err := runCLI(t, env, "--json", "session", "create", "--source", source, "--topic", "home gym", "--chunk-size", "2")
	if err != nil {
		t.Fatalf("session create: %v", err)
	}
	var sess api.Session
	if err := json.Unmarshal([]byte(out), &sess); err != nil {
		t.Fatalf("decode create output %q: %v", out, err)
	}
	return sess
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Store: sqlite")
	requireContains(t, out, "Data dir: "+env.cfg.Paths.DataDir)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, err = runCLI(t, env, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("expected refusal to overwrite")
	}
	if _, err := runCLI(t, env, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestSessionWorkflow(t *testing.T) {
	env := setupCLITestEnv(t)
	sess := createSession(t, env, env.workbook(t, 5))
	if sess.Status != "pending" || sess.TotalRows != 5 {
		t.Fatalf("unexpected session %+v", sess)
	}

	out, err := runCLI(t, env, "session", "run", sess.ID)
	if err != nil {
		t.Fatalf("session run: %v", err)
	}
	requireContains(t, out, "Processing 5 rows")
	requireContains(t, out, "Chunk 3: accepted 1 (total 5)")
	requireContains(t, out, "Completed: 5 term(s) accepted from 5 rows")

	out, err = runCLI(t, env, "session", "list")
	if err != nil {
		t.Fatalf("session list: %v", err)
	}
	requireContains(t, out, sess.ID)
	requireContains(t, out, "completed")

	out, err = runCLI(t, env, "session", "show", sess.Name)
	if err != nil {
		t.Fatalf("session show: %v", err)
	}
	requireContains(t, out, "5/5 rows (100.0%)")

	out, err = runCLI(t, env, "session", "finalize", sess.ID)
	if err != nil {
		t.Fatalf("session finalize: %v", err)
	}
	requireContains(t, out, "Accepted:      5")

	target := filepath.Join(env.baseDir, "out", "result.xlsx")
	out, err = runCLI(t, env, "session", "download", sess.ID, "-o", target)
	if err != nil {
		t.Fatalf("session download: %v", err)
	}
	requireContains(t, out, "Wrote "+target)
	if info, err := os.Stat(target); err != nil || info.Size() == 0 {
		t.Fatalf("expected downloaded workbook: %v", err)
	}

	if _, err := runCLI(t, env, "session", "delete", sess.ID); err != nil {
		t.Fatalf("session delete: %v", err)
	}
	if _, err := runCLI(t, env, "session", "show", sess.ID); err == nil {
		t.Fatal("expected deleted session to be missing")
	}
}

func TestSessionRunJSONStreamsEvents(t *testing.T) {
	env := setupCLITestEnv(t)
	sess := createSession(t, env, env.workbook(t, 3))

	out, err := runCLI(t, env, "--json", "session", "run", sess.ID)
	if err != nil {
		t.Fatalf("session run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	var last struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("decode last line: %v", err)
	}
	if last.Type != "completed" {
		t.Fatalf("last event type = %q", last.Type)
	}
}

func TestSessionRunReportsSourceFailure(t *testing.T) {
	env := setupCLITestEnv(t)
	source := env.workbook(t, 3)
	sess := createSession(t, env, source)
	if err := os.Remove(source); err != nil {
		t.Fatal(err)
	}

	_, err := runCLI(t, env, "session", "run", sess.ID)
	if err == nil || !strings.Contains(err.Error(), "session failed") {
		t.Fatalf("expected failed run, got %v", err)
	}
	out, err := runCLI(t, env, "session", "show", sess.ID)
	if err != nil {
		t.Fatalf("session show: %v", err)
	}
	requireContains(t, out, "failed")
}

func TestSessionCreateValidation(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := runCLI(t, env, "session", "create", "--source", filepath.Join(env.baseDir, "missing.xlsx"), "--topic", "x"); err == nil {
		t.Fatal("expected missing source to be rejected")
	}
	if _, err := runCLI(t, env, "session", "create", "--source", env.workbook(t, 1)); err == nil {
		t.Fatal("expected missing topic flag to be rejected")
	}
}

func TestSessionRecoverWithNothingStale(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := runCLI(t, env, "session", "recover")
	if err != nil {
		t.Fatalf("session recover: %v", err)
	}
	requireContains(t, out, "No interrupted sessions")
}

func TestSettingsCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := runCLI(t, env, "settings", "set", "agent_instructions", "Keep {niche} terms", "-d", "prompt"); err != nil {
		t.Fatalf("settings set: %v", err)
	}
	out, err := runCLI(t, env, "settings", "get", "agent_instructions")
	if err != nil {
		t.Fatalf("settings get: %v", err)
	}
	requireContains(t, out, "Keep {niche} terms")

	out, err = runCLI(t, env, "settings", "list")
	if err != nil {
		t.Fatalf("settings list: %v", err)
	}
	requireContains(t, out, "agent_instructions")
	requireContains(t, out, "prompt")

	promptFile := filepath.Join(env.baseDir, "prompt.txt")
	if err := os.WriteFile(promptFile, []byte("From file about {topic}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, env, "settings", "set", "agent_instructions", "--file", promptFile); err != nil {
		t.Fatalf("settings set --file: %v", err)
	}
	out, err = runCLI(t, env, "settings", "get", "agent_instructions")
	if err != nil {
		t.Fatalf("settings get: %v", err)
	}
	requireContains(t, out, "From file about {topic}")

	if _, err := runCLI(t, env, "settings", "delete", "agent_instructions"); err != nil {
		t.Fatalf("settings delete: %v", err)
	}
	if _, err := runCLI(t, env, "settings", "get", "agent_instructions"); err == nil {
		t.Fatal("expected deleted setting to be missing")
	}
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	createSession(t, env, env.workbook(t, 2))

	out, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Sessions ==")
	requireContains(t, out, "Database (sqlite)")
	requireContains(t, out, "[OK]")
	requireContains(t, out, "skipped (use --llm)")

	out, err = runCLI(t, env, "--json", "status")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var status api.StatusResponse
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Sessions["pending"] != 1 || !status.Ready {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestNotifyTestDisabled(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := runCLI(t, env, "notify", "test")
	if err != nil {
		t.Fatalf("notify test: %v", err)
	}
	requireContains(t, out, "Notifications disabled")
}

func TestAbbreviate(t *testing.T) {
	if got := abbreviate("a  b\nc", 10); got != "a b c" {
		t.Fatalf("abbreviate = %q", got)
	}
	if got := abbreviate(strings.Repeat("x", 20), 10); got != "xxxxxxx..." {
		t.Fatalf("abbreviate = %q", got)
	}
}
