package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"sifter/internal/logging"
	"sifter/internal/services"
	"sifter/internal/session"
	"sifter/internal/source"
	"sifter/internal/textutil"
)

// CreateRequest describes a new session. SourceLocator is a file path or an
// inline data:/base64: payload.
type CreateRequest struct {
	Name             string
	SourceLocator    string
	OriginalFilename string
	Topic            string
	ChunkSize        int
	OwnerID          string
	ModelID          string
}

// CreateSession materializes and validates the source, then stores a pending
// session. Empty names are generated from the source and topic.
func (e *Engine) CreateSession(ctx context.Context, req CreateRequest) (*session.Session, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, services.Wrap(services.ErrValidation, stageName, "create session", "topic is required", nil)
	}
	locator := strings.TrimSpace(req.SourceLocator)
	if locator == "" {
		return nil, services.Wrap(services.ErrValidation, stageName, "create session", "source is required", nil)
	}

	path := locator
	if source.IsInline(locator) {
		base := "upload"
		if stem := strings.TrimSuffix(req.OriginalFilename, filepath.Ext(req.OriginalFilename)); strings.TrimSpace(stem) != "" {
			base = textutil.SanitizeToken(stem)
		}
		materialized, err := source.Materialize(locator, e.cfg.Paths.UploadDir, base+"_"+uuid.NewString()[:8])
		if err != nil {
			return nil, err
		}
		path = materialized
	} else {
		expanded, err := filepath.Abs(locator)
		if err == nil {
			path = expanded
		}
	}
	if err := source.Validate(path); err != nil {
		return nil, err
	}
	table, err := e.reader.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "create session", err.Error(), nil)
	}

	original := strings.TrimSpace(req.OriginalFilename)
	if original == "" {
		original = filepath.Base(path)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = e.generateName(original, topic)
	}

	sess, err := e.store.Create(ctx, session.CreateParams{
		Name:             name,
		SourceLocator:    path,
		OriginalFilename: original,
		Topic:            topic,
		ChunkSize:        e.chunkSize(req.ChunkSize),
		TotalRows:        table.TotalRows(),
		OwnerID:          strings.TrimSpace(req.OwnerID),
		ModelID:          strings.TrimSpace(req.ModelID),
	})
	if err != nil {
		return nil, err
	}

	e.loggerFor(withRunContext(ctx, sess.ID, "create", "")).Info("session created",
		logging.String(logging.FieldEventType, "session_created"),
		logging.String("name", sess.Name),
		logging.String("source", sess.SourceLocator),
		logging.String("topic", sess.Topic),
		logging.Int("chunk_size", sess.ChunkSize),
		logging.Int("total_rows", sess.TotalRows),
	)
	return sess, nil
}

// generateName builds "<source stem> - <topic> - <YYYY-MM-DD HH:MM>".
func (e *Engine) generateName(filename, topic string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if stem == "" || stem == "." {
		stem = "keywords"
	}
	// names double as URL path segments, so the topic loses slashes
	return fmt.Sprintf("%s - %s - %s", stem, textutil.SanitizeFileName(topic), e.now().Format("2006-01-02 15:04"))
}

// GetSession resolves ref as a session id first and then as an active
// session name.
func (e *Engine) GetSession(ctx context.Context, ref string) (*session.Session, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, services.Wrap(services.ErrValidation, stageName, "get session", "id or name is required", nil)
	}
	sess, err := e.store.GetByID(ctx, ref)
	if err != nil {
		return nil, err
	}
	if sess == nil || !sess.IsActive {
		sess, err = e.store.GetByName(ctx, ref)
		if err != nil {
			return nil, err
		}
	}
	if sess == nil || !sess.IsActive {
		return nil, services.Wrap(services.ErrNotFound, stageName, "get session", fmt.Sprintf("session %q not found", ref), nil)
	}
	return sess, nil
}

// ListSessions returns active sessions newest first, optionally for one owner.
func (e *Engine) ListSessions(ctx context.Context, ownerID string, limit int) ([]*session.Session, error) {
	return e.store.List(ctx, strings.TrimSpace(ownerID), limit)
}

// Stats returns active session counts per status.
func (e *Engine) Stats(ctx context.Context) (session.Stats, error) {
	return e.store.Stats(ctx)
}

// DeleteSession soft-deletes a session. Result artifacts are kept.
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	sess, err := e.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if e.Running(sess.ID) {
		return services.Wrap(services.ErrConflict, stageName, "delete session", fmt.Sprintf("session %s is running", sess.ID), nil)
	}
	deleted, err := e.store.Delete(ctx, sess.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return services.Wrap(services.ErrNotFound, stageName, "delete session", fmt.Sprintf("session %q not found", id), nil)
	}
	e.loggerFor(withRunContext(ctx, sess.ID, "delete", "")).Info("session deleted",
		logging.String(logging.FieldEventType, "session_deleted"),
		logging.String("name", sess.Name),
	)
	return nil
}

// ResultPath returns the artifact path for a session that has one.
func (e *Engine) ResultPath(ctx context.Context, ref string) (string, error) {
	sess, err := e.GetSession(ctx, ref)
	if err != nil {
		return "", err
	}
	if sess.ResultLocator != "" {
		return sess.ResultLocator, nil
	}
	if e.accumulator.Exists(sess.ID) {
		return e.accumulator.Path(sess.ID), nil
	}
	return "", services.Wrap(services.ErrNotFound, stageName, "result path", fmt.Sprintf("session %s has no results yet", sess.ID), nil)
}

// RecoverStale lists sessions left processing whose run lock is free. Run
// resumes them from their checkpoint.
func (e *Engine) RecoverStale(ctx context.Context) ([]*session.Session, error) {
	sessions, err := e.store.ListByStatus(ctx, session.StatusProcessing)
	if err != nil {
		return nil, err
	}
	stale := make([]*session.Session, 0, len(sessions))
	for _, sess := range sessions {
		if !sess.IsActive || !e.locks.free(sess.ID) {
			continue
		}
		stale = append(stale, sess)
	}
	if len(stale) > 0 {
		e.logger.Info("stale sessions found",
			logging.String(logging.FieldEventType, "stale_sessions_found"),
			logging.Int("count", len(stale)),
		)
	}
	return stale, nil
}
