package workflow

import (
	"context"
	"log/slog"

	"sifter/internal/logging"
	"sifter/internal/services"
)

func withRunContext(ctx context.Context, sessionID, stage, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if sessionID != "" {
		ctx = services.WithSessionID(ctx, sessionID)
	}
	if stage != "" {
		ctx = services.WithStage(ctx, stage)
	}
	if requestID != "" {
		ctx = services.WithRequestID(ctx, requestID)
	}
	return ctx
}

func (e *Engine) loggerFor(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, e.logger)
}

// failureAttrs are the standard fields attached to a logged failure.
func failureAttrs(err error, hint string) []logging.Attr {
	return []logging.Attr{
		logging.Error(err),
		logging.ErrorKind(err),
		logging.String(logging.FieldErrorHint, hint),
	}
}

func hintFor(err error) string {
	switch services.Kind(err) {
	case "source_read":
		return "check the source file exists and is a readable xlsx or csv workbook"
	case "analyzer":
		return "check llm.api_key, llm.base_url and upstream availability"
	case "persistence":
		return "check results_dir permissions, free disk space and database access"
	case "validation":
		return "check the session parameters"
	default:
		return "check logs for details"
	}
}
