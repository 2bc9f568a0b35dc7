package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewTeeHandlerNilHandlers(t *testing.T) {
	h := newTeeHandler(nil, nil, nopHandler{})
	if _, ok := h.(nopHandler); !ok {
		t.Errorf("expected no-op handler for all nil handlers, got %T", h)
	}
}

func TestNewTeeHandlerSingleHandlerUnwrapped(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)

	if h := newTeeHandler(nil, inner, nil); h != inner {
		t.Error("expected single non-nil handler to be returned unwrapped")
	}
}

func TestTeeHandlerRespectsPerHandlerLevels(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	h1 := slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	h2 := slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := slog.New(newTeeHandler(h1, h2))
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected tee to be enabled for debug")
	}
	logger.Debug("debug only")
	logger.Info("both")

	if strings.Contains(infoBuf.String(), "debug only") {
		t.Fatalf("info handler received debug record: %s", infoBuf.String())
	}
	if !strings.Contains(debugBuf.String(), "debug only") || !strings.Contains(debugBuf.String(), "both") {
		t.Fatalf("debug handler missing records: %s", debugBuf.String())
	}
	if !strings.Contains(infoBuf.String(), "both") {
		t.Fatalf("info handler missing info record: %s", infoBuf.String())
	}
}

func TestTeeLoggerPropagatesAttrs(t *testing.T) {
	var a, b bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&a, nil))
	logger := TeeLogger(base, slog.NewJSONHandler(&b, nil)).With(String(FieldSessionID, "s-1"))
	logger.Info("hello")

	for name, buf := range map[string]*bytes.Buffer{"base": &a, "extra": &b} {
		if !strings.Contains(buf.String(), `"session_id":"s-1"`) {
			t.Fatalf("%s handler missing session_id: %s", name, buf.String())
		}
	}
}
