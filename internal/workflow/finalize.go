package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"sifter/internal/logging"
	"sifter/internal/services"
	"sifter/internal/session"
)

// Finalize completes a session whose rows are all processed and returns its
// summary. Calling it again on a completed session returns the same summary
// without touching the record.
func (e *Engine) Finalize(ctx context.Context, ref string) (Summary, error) {
	sess, err := e.GetSession(ctx, ref)
	if err != nil {
		return Summary{}, err
	}
	switch sess.Status {
	case session.StatusCompleted:
		return e.summarize(sess), nil
	case session.StatusFailed:
		return Summary{}, failedSessionError(sess)
	}

	release, err := e.locks.acquire(sess.ID)
	if err != nil {
		return Summary{}, err
	}
	defer release()

	ctx = withRunContext(ctx, sess.ID, "finalize", "")
	logger := e.loggerFor(ctx)
	table, err := e.reader.Open(sess.SourceLocator)
	if err != nil {
		return Summary{}, err
	}
	if !table.Exhausted(sess.NextCursor) {
		return Summary{}, services.Wrap(services.ErrValidation, stageName, "finalize",
			fmt.Sprintf("rows %d-%d are not processed yet; run the session first", sess.NextCursor+1, table.TotalRows()), nil)
	}
	if sess.Status == session.StatusPending {
		if _, err := e.store.UpdateStatus(ctx, sess.ID, session.StatusProcessing); err != nil {
			return Summary{}, err
		}
	}
	updated, err := e.complete(ctx, logger, sess.ID, sess.TotalAccepted)
	if err != nil {
		return Summary{}, err
	}
	logger.Info("session finalized",
		logging.String(logging.FieldEventType, "session_finalized"),
		logging.Int("total_accepted", updated.TotalAccepted),
	)
	return e.summarize(updated), nil
}

// complete makes sure the artifact exists and marks the session completed.
func (e *Engine) complete(ctx context.Context, logger *slog.Logger, sessionID string, totalAccepted int) (*session.Session, error) {
	var path string
	if err := e.persistWithRetry(ctx, logger, "ensure results", func() error {
		var ensureErr error
		path, ensureErr = e.accumulator.Ensure(sessionID)
		return ensureErr
	}); err != nil {
		return nil, err
	}
	var updated *session.Session
	if err := e.persistWithRetry(ctx, logger, "mark completed", func() error {
		var updErr error
		updated, updErr = e.store.UpdateStatus(ctx, sessionID, session.StatusCompleted,
			session.WithResultLocator(path),
			session.WithTotalAccepted(totalAccepted),
		)
		return updErr
	}); err != nil {
		return nil, err
	}
	return updated, nil
}

func (e *Engine) summarize(sess *session.Session) Summary {
	summary := Summary{
		SessionID:     sess.ID,
		Status:        string(sess.Status),
		TotalRows:     sess.TotalRows,
		TotalAccepted: sess.TotalAccepted,
		FailedChunks:  sess.FailedChunks,
		ResultLocator: sess.ResultLocator,
		CompletedAt:   sess.CompletedAt,
	}
	if sess.ResultLocator != "" {
		summary.ArtifactBytes = e.accumulator.Size(sess.ID)
	}
	return summary
}
