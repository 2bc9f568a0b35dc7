package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sifter/internal/logging"
	"sifter/internal/services"
)

const maxPersistBackoff = 5 * time.Second

// persistWithRetry runs op until it succeeds, fails with a non-persistence
// error, or exhausts the configured retries. Backoff doubles per attempt.
func (e *Engine) persistWithRetry(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	attempts := max(e.cfg.Workflow.PersistRetryAttempts, 0) + 1
	delay := e.cfg.PersistRetryBackoff()
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !errors.Is(err, services.ErrPersistence) || attempt == attempts {
			break
		}
		logging.WarnWithContext(logger, "persistence failed; retrying", "persist_retry",
			logging.String("operation", op),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Duration("backoff", delay),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check disk space and database access"),
			logging.String(logging.FieldImpact, "chunk results are held in memory until the write succeeds"),
		)
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, maxPersistBackoff)
	}
	return err
}
