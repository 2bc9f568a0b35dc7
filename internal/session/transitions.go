package session

import (
	"context"
	"fmt"

	"sifter/internal/database"
	"sifter/internal/services"
)

type updateOptions struct {
	resultLocator *string
	totalAccepted *int
	errorMessage  *string
}

// UpdateOption sets an optional field alongside a status change.
type UpdateOption func(*updateOptions)

// WithResultLocator records the result artifact. It is only persisted when
// the new status is completed.
func WithResultLocator(locator string) UpdateOption {
	return func(o *updateOptions) { o.resultLocator = &locator }
}

// WithTotalAccepted overwrites the running accepted count.
func WithTotalAccepted(total int) UpdateOption {
	return func(o *updateOptions) { o.totalAccepted = &total }
}

// WithErrorMessage records the human readable failure cause.
func WithErrorMessage(message string) UpdateOption {
	return func(o *updateOptions) { o.errorMessage = &message }
}

// UpdateStatus moves a session to status. Backward moves and moves out of a
// terminal state return a *TransitionError. The write is a compare-and-set on
// the status read beforehand, so a concurrent change is reported rather than
// overwritten.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status, opts ...UpdateOption) (*Session, error) {
	if _, ok := statusSet[status]; !ok {
		return nil, services.Wrap(services.ErrValidation, stageName, "update status", fmt.Sprintf("unknown status %q", status), nil)
	}
	var options updateOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, services.Wrap(services.ErrNotFound, stageName, "update status", fmt.Sprintf("session %s", id), nil)
	}
	if !current.Status.CanTransition(status) {
		return nil, &TransitionError{ID: id, From: current.Status, To: status}
	}

	now := s.now()
	sets := "status = ?, updated_at = ?"
	args := []any{status, database.FormatTime(now)}
	if options.totalAccepted != nil {
		sets += ", total_accepted = ?"
		args = append(args, *options.totalAccepted)
	}
	if options.errorMessage != nil {
		sets += ", error_message = ?"
		args = append(args, database.NullableString(*options.errorMessage))
	}
	if status == StatusCompleted {
		sets += ", completed_at = ?"
		args = append(args, database.FormatTime(now))
		if options.resultLocator != nil {
			sets += ", result_locator = ?"
			args = append(args, database.NullableString(*options.resultLocator))
		}
	}
	args = append(args, id, current.Status)

	res, err := s.db.Exec(ctx, `UPDATE sessions SET `+sets+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, stageName, "update status", "write status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, stageName, "update status", "rows affected", err)
	}
	if affected == 0 {
		latest, getErr := s.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		from := current.Status
		if latest != nil {
			from = latest.Status
		}
		return nil, &TransitionError{ID: id, From: from, To: status}
	}
	return s.GetByID(ctx, id)
}

// SaveCheckpoint records the resumable position of a processing session.
// Terminal sessions are left untouched.
func (s *Store) SaveCheckpoint(ctx context.Context, id string, cp Checkpoint) error {
	if cp.NextCursor < 0 || cp.TotalAccepted < 0 || cp.FailedChunks < 0 || cp.TotalRows < 0 {
		return services.Wrap(services.ErrValidation, stageName, "checkpoint", "negative checkpoint value", nil)
	}
	res, err := s.db.Exec(
		ctx,
		`UPDATE sessions
        SET next_cursor = ?, total_accepted = ?, failed_chunks = ?, total_rows = ?, updated_at = ?
        WHERE id = ? AND status IN (?, ?)`,
		cp.NextCursor,
		cp.TotalAccepted,
		cp.FailedChunks,
		cp.TotalRows,
		database.FormatTime(s.now()),
		id,
		StatusPending,
		StatusProcessing,
	)
	if err != nil {
		return services.Wrap(services.ErrPersistence, stageName, "checkpoint", "write checkpoint", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return services.Wrap(services.ErrPersistence, stageName, "checkpoint", "rows affected", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, stageName, "checkpoint", fmt.Sprintf("no open session %s", id), nil)
	}
	return nil
}
