package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sifter/internal/logging"
	"sifter/internal/services"
	"sifter/internal/services/llm"
)

const stageName = "analyzer"

// Item is one keyword submitted for evaluation.
type Item struct {
	Term     string
	Category string
}

// Request is a single chunk evaluation.
type Request struct {
	Topic        string
	Instructions string
	Items        []Item
	// FirstRow and LastRow are 1-based source rows, used only for the prompt.
	FirstRow int
	LastRow  int
}

// Accepted is one keyword the analyzer selected.
type Accepted struct {
	Term          string
	Justification string
}

// Result is the structured output of one evaluation.
type Result struct {
	AudienceAnalysis string
	Accepted         []Accepted
}

// Analyzer evaluates a chunk of keywords.
type Analyzer interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// Completer is the JSON completion call LLMAnalyzer depends on.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMAnalyzer evaluates chunks with a chat model.
type LLMAnalyzer struct {
	client Completer
	logger *slog.Logger
}

// NewLLMAnalyzer wraps a completion client.
func NewLLMAnalyzer(client Completer, logger *slog.Logger) *LLMAnalyzer {
	return &LLMAnalyzer{client: client, logger: logging.NewComponentLogger(logger, "analyzer")}
}

// Usage reports token consumption when the client tracks it.
func (a *LLMAnalyzer) Usage() (llm.UsageStats, bool) {
	tracker, ok := a.client.(interface{ Usage() llm.UsageStats })
	if !ok {
		return llm.UsageStats{}, false
	}
	return tracker.Usage(), true
}

type chunkAnalysis struct {
	AudienceAnalysis string              `json:"audience_analysis"`
	ValuableKeywords *[]keywordSelection `json:"valuable_keywords"`
}

type keywordSelection struct {
	Keyword string `json:"keyword"`
	Reason  string `json:"reason"`
}

// Evaluate implements Analyzer.
func (a *LLMAnalyzer) Evaluate(ctx context.Context, req Request) (Result, error) {
	if a == nil || a.client == nil {
		return Result{}, services.Wrap(services.ErrAnalyzer, stageName, "evaluate", "analyzer not configured", nil)
	}
	if len(req.Items) == 0 {
		return Result{}, services.Wrap(services.ErrValidation, stageName, "evaluate", "no keywords to evaluate", nil)
	}
	instructions := RenderInstructions(req.Instructions, req.Topic)

	started := time.Now()
	raw, err := a.client.CompleteJSON(ctx, buildSystemPrompt(instructions), buildUserPrompt(req))
	if err != nil {
		msg := "completion failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "completion timed out"
		} else if errors.Is(err, llm.ErrNotConfigured) {
			msg = "llm api key missing"
		}
		return Result{}, services.Wrap(services.ErrAnalyzer, stageName, "evaluate", msg, err)
	}

	var decoded chunkAnalysis
	if err := llm.DecodeLLMJSON(raw, &decoded); err != nil {
		return Result{}, services.Wrap(services.ErrAnalyzer, stageName, "decode", "malformed analyzer reply", err)
	}
	if decoded.ValuableKeywords == nil {
		return Result{}, services.Wrap(services.ErrAnalyzer, stageName, "decode", "reply missing valuable_keywords", nil)
	}

	result := Result{AudienceAnalysis: strings.TrimSpace(decoded.AudienceAnalysis)}
	dropped := 0
	for _, sel := range *decoded.ValuableKeywords {
		term := strings.TrimSpace(sel.Keyword)
		if term == "" {
			dropped++
			continue
		}
		result.Accepted = append(result.Accepted, Accepted{Term: term, Justification: strings.TrimSpace(sel.Reason)})
	}

	logger := logging.WithContext(ctx, a.logger)
	if dropped > 0 {
		logging.WarnWithContext(logger, "analyzer returned selections without keyword text", "analyzer_reply_partial",
			logging.Int("dropped", dropped),
			logging.String(logging.FieldErrorHint, "inspect the model reply for formatting drift"),
			logging.String(logging.FieldImpact, "blank selections ignored"),
		)
	}
	logger.Debug("chunk evaluated",
		logging.Int("submitted", len(req.Items)),
		logging.Int("accepted", len(result.Accepted)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

// Timeout wraps an Analyzer so every Evaluate call is bounded by d.
func Timeout(inner Analyzer, d time.Duration) Analyzer {
	if d <= 0 {
		return inner
	}
	return timeoutAnalyzer{inner: inner, timeout: d}
}

type timeoutAnalyzer struct {
	inner   Analyzer
	timeout time.Duration
}

func (t timeoutAnalyzer) Evaluate(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	res, err := t.inner.Evaluate(ctx, req)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, services.ErrAnalyzer) {
		return Result{}, services.Wrap(services.ErrAnalyzer, stageName, "evaluate", fmt.Sprintf("timed out after %s", t.timeout), err)
	}
	return res, err
}
