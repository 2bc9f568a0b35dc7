package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sifter/internal/analyzer"
	"sifter/internal/config"
	"sifter/internal/events"
	"sifter/internal/results"
	"sifter/internal/services"
	"sifter/internal/session"
	"sifter/internal/testsupport"
)

// fakeAnalyzer accepts the first two items of every chunk unless fn overrides it.
type fakeAnalyzer struct {
	mu    sync.Mutex
	calls []analyzer.Request
	fn    func(ctx context.Context, req analyzer.Request, call int) (analyzer.Result, error)
}

func (f *fakeAnalyzer) Evaluate(ctx context.Context, req analyzer.Request) (analyzer.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	call := len(f.calls)
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req, call)
	}
	return acceptFirst(req, 2), nil
}

func (f *fakeAnalyzer) requests() []analyzer.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]analyzer.Request(nil), f.calls...)
}

func acceptFirst(req analyzer.Request, n int) analyzer.Result {
	var out analyzer.Result
	for i, item := range req.Items {
		if i >= n {
			break
		}
		out.Accepted = append(out.Accepted, analyzer.Accepted{Term: item.Term, Justification: "fits " + req.Topic})
	}
	return out
}

// flakyAccumulator fails every Merge from the failFrom-th call on.
type flakyAccumulator struct {
	*results.Accumulator
	mu       sync.Mutex
	merges   int
	failFrom int
}

func (f *flakyAccumulator) Merge(sessionID string, batch results.Batch) (results.MergeResult, error) {
	f.mu.Lock()
	f.merges++
	n := f.merges
	f.mu.Unlock()
	if f.failFrom > 0 && n >= f.failFrom {
		return results.MergeResult{}, services.Wrap(services.ErrPersistence, "results", "merge", "disk full", errors.New("no space left on device"))
	}
	return f.Accumulator.Merge(sessionID, batch)
}

type harness struct {
	cfg      *config.Config
	store    *session.Store
	engine   *Engine
	analyzer *fakeAnalyzer
	results  *results.Accumulator
	hub      *events.Hub
}

type harnessOptions struct {
	cfgOpts     []testsupport.ConfigOption
	accumulator func(*results.Accumulator) Accumulator
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts.cfgOpts...)
	store := testsupport.MustOpenSessionStore(t, cfg)
	fake := &fakeAnalyzer{}
	acc := results.NewAccumulator(cfg.Paths.ResultsDir)
	var engineAcc Accumulator = acc
	if opts.accumulator != nil {
		engineAcc = opts.accumulator(acc)
	}
	hub := events.NewHub(256)
	engine, err := New(cfg, Dependencies{
		Store:       store,
		Analyzer:    fake,
		Accumulator: engineAcc,
		Hub:         hub,
	}, WithClock(func() time.Time { return time.Date(2026, 3, 4, 5, 6, 0, 0, time.UTC) }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{cfg: cfg, store: store, engine: engine, analyzer: fake, results: acc, hub: hub}
}

// workbook writes a CATEGORY sheet with n keyword rows and returns its path.
func (h *harness) workbook(t *testing.T, n int, edit func(rows [][]string)) string {
	t.Helper()
	rows := testsupport.TermRows(n)
	if edit != nil {
		edit(rows)
	}
	path := filepath.Join(testsupport.BaseDir(h.cfg), "sources", "keywords.xlsx")
	testsupport.WriteWorkbook(t, path, testsupport.Sheet{Name: "CATEGORY", Rows: rows})
	return path
}

func (h *harness) create(t *testing.T, path string, chunkSize int) *session.Session {
	t.Helper()
	sess, err := h.engine.CreateSession(context.Background(), CreateRequest{
		SourceLocator: path,
		Topic:         "home fitness",
		ChunkSize:     chunkSize,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func (h *harness) reload(t *testing.T, id string) *session.Session {
	t.Helper()
	sess, err := h.store.GetByID(context.Background(), id)
	if err != nil || sess == nil {
		t.Fatalf("GetByID %s: %v", id, err)
	}
	return sess
}

func runAll(t *testing.T, engine *Engine, ctx context.Context, id string) []events.Event {
	t.Helper()
	ch, err := engine.Run(ctx, id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return drain(t, ch)
}

func drain(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var out []events.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, evt)
		case <-timeout:
			t.Fatalf("run did not finish; got %d events", len(out))
		}
	}
}

func ofType(evts []events.Event, typ events.Type) []events.Event {
	var out []events.Event
	for _, evt := range evts {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

func last(t *testing.T, evts []events.Event) events.Event {
	t.Helper()
	if len(evts) == 0 {
		t.Fatal("no events")
	}
	return evts[len(evts)-1]
}
