package preflight

import (
	"context"

	"sifter/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Options selects optional checks for RunAll.
type Options struct {
	// DB is pinged when set.
	DB Pinger
	// SkipLLM leaves out the LLM round trip, which costs a completion.
	SkipLLM bool
}

// RunAll executes the applicable preflight checks for cfg.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Results directory", cfg.Paths.ResultsDir),
		CheckDirectoryAccess("Upload directory", cfg.Paths.UploadDir),
	}
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	if opts.DB != nil {
		results = append(results, CheckDatabase(ctx, cfg.Store.Driver, opts.DB))
	}
	if !opts.SkipLLM {
		results = append(results, CheckLLM(ctx, "Analyzer LLM", cfg.GetLLM()))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
