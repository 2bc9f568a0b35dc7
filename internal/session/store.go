package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sifter/internal/database"
	"sifter/internal/services"
)

const (
	stageName = "session"

	// maxNameAttempts bounds the " (n)" suffix search for a free name.
	maxNameAttempts = 1000
)

const sessionColumns = "id, name, source_locator, original_filename, topic, chunk_size, result_locator, total_accepted, failed_chunks, next_cursor, total_rows, status, error_message, owner_id, model_id, is_active, created_at, updated_at, completed_at"

// Store persists sessions in the shared SQL database.
type Store struct {
	db  *database.DB
	now func() time.Time
}

// NewStore wraps an opened database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create inserts a pending session. A name already used by an active session
// gets " (1)", " (2)", ... appended until the insert succeeds.
func (s *Store) Create(ctx context.Context, params CreateParams) (*Session, error) {
	name := strings.TrimSpace(params.Name)
	switch {
	case name == "":
		return nil, services.Wrap(services.ErrValidation, stageName, "create", "name is required", nil)
	case strings.TrimSpace(params.SourceLocator) == "":
		return nil, services.Wrap(services.ErrValidation, stageName, "create", "source locator is required", nil)
	case strings.TrimSpace(params.Topic) == "":
		return nil, services.Wrap(services.ErrValidation, stageName, "create", "topic is required", nil)
	case params.ChunkSize <= 0:
		return nil, services.Wrap(services.ErrValidation, stageName, "create", fmt.Sprintf("chunk size must be positive, got %d", params.ChunkSize), nil)
	}

	id := uuid.NewString()
	timestamp := database.FormatTime(s.now())
	candidate := name
	for attempt := 1; ; attempt++ {
		_, err := s.db.Exec(
			ctx,
			`INSERT INTO sessions (
                id, name, source_locator, original_filename, topic, chunk_size,
                total_accepted, failed_chunks, next_cursor, total_rows, status,
                owner_id, model_id, is_active, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?, ?, ?, 1, ?, ?)`,
			id,
			candidate,
			params.SourceLocator,
			database.NullableString(params.OriginalFilename),
			params.Topic,
			params.ChunkSize,
			params.TotalRows,
			StatusPending,
			database.NullableString(params.OwnerID),
			database.NullableString(params.ModelID),
			timestamp,
			timestamp,
		)
		if err == nil {
			break
		}
		if !database.IsUniqueViolation(err) {
			return nil, services.Wrap(services.ErrPersistence, stageName, "create", "insert session", err)
		}
		if attempt > maxNameAttempts {
			return nil, services.Wrap(services.ErrConflict, stageName, "create", fmt.Sprintf("no free name for %q", name), err)
		}
		candidate = fmt.Sprintf("%s (%d)", name, attempt)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a session regardless of its active flag. It returns nil
// when no such session exists.
func (s *Store) GetByID(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, stageName, "get", "load session by id", err)
	}
	return sess, nil
}

// GetByName fetches the active session carrying name, or nil.
func (s *Store) GetByName(ctx context.Context, name string) (*Session, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE name = ? AND is_active = 1`, strings.TrimSpace(name))
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, stageName, "get", "load session by name", err)
	}
	return sess, nil
}

// List returns active sessions newest first. An empty owner lists every
// owner; a non-positive limit means no limit.
func (s *Store) List(ctx context.Context, ownerID string, limit int) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE is_active = 1`
	args := make([]any, 0, 2)
	if owner := strings.TrimSpace(ownerID); owner != "" {
		query += ` AND owner_id = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.querySessions(ctx, "list", query, args...)
}

// ListByStatus returns active sessions in any of the given statuses, oldest first.
func (s *Store) ListByStatus(ctx context.Context, statuses ...Status) ([]*Session, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(statuses))
	for _, status := range statuses {
		args = append(args, status)
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions
        WHERE is_active = 1 AND status IN (` + database.Placeholders(len(statuses)) + `)
        ORDER BY created_at, id`
	return s.querySessions(ctx, "list by status", query, args...)
}

// Delete soft-deletes a session. Rows and result artifacts are kept. It
// reports false when no active session matched.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.Exec(
		ctx,
		`UPDATE sessions SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`,
		database.FormatTime(s.now()),
		id,
	)
	if err != nil {
		return false, services.Wrap(services.ErrPersistence, stageName, "delete", "deactivate session", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, services.Wrap(services.ErrPersistence, stageName, "delete", "rows affected", err)
	}
	return affected > 0, nil
}

// Stats counts active sessions by status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(1) FROM sessions WHERE is_active = 1 GROUP BY status`)
	if err != nil {
		return Stats{}, services.Wrap(services.ErrPersistence, stageName, "stats", "count sessions", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, services.Wrap(services.ErrPersistence, stageName, "stats", "scan count", err)
		}
		stats.Total += count
		switch Status(status) {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, services.Wrap(services.ErrPersistence, stageName, "stats", "iterate counts", err)
	}
	return stats, nil
}

func (s *Store) querySessions(ctx context.Context, op, query string, args ...any) ([]*Session, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, stageName, op, "query sessions", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, services.Wrap(services.ErrPersistence, stageName, op, "scan session", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrPersistence, stageName, op, "iterate sessions", err)
	}
	return sessions, nil
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		id               string
		name             string
		sourceLocator    string
		originalFilename sql.NullString
		topic            string
		chunkSize        int
		resultLocator    sql.NullString
		totalAccepted    int
		failedChunks     int
		nextCursor       int
		totalRows        int
		statusStr        string
		errorMessage     sql.NullString
		ownerID          sql.NullString
		modelID          sql.NullString
		isActive         int
		createdRaw       string
		updatedRaw       string
		completedRaw     sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&name,
		&sourceLocator,
		&originalFilename,
		&topic,
		&chunkSize,
		&resultLocator,
		&totalAccepted,
		&failedChunks,
		&nextCursor,
		&totalRows,
		&statusStr,
		&errorMessage,
		&ownerID,
		&modelID,
		&isActive,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	sess := &Session{
		ID:               id,
		Name:             name,
		SourceLocator:    sourceLocator,
		OriginalFilename: originalFilename.String,
		Topic:            topic,
		ChunkSize:        chunkSize,
		ResultLocator:    resultLocator.String,
		TotalAccepted:    totalAccepted,
		FailedChunks:     failedChunks,
		NextCursor:       nextCursor,
		TotalRows:        totalRows,
		Status:           Status(statusStr),
		ErrorMessage:     errorMessage.String,
		OwnerID:          ownerID.String,
		ModelID:          modelID.String,
		IsActive:         isActive != 0,
		CompletedAt:      database.ParseNullTime(completedRaw),
	}
	if created, err := database.ParseTime(createdRaw); err == nil {
		sess.CreatedAt = created
	}
	if updated, err := database.ParseTime(updatedRaw); err == nil {
		sess.UpdatedAt = updated
	}
	return sess, nil
}
