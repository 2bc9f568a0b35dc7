package testsupport

import (
	"context"
	"testing"

	"sifter/internal/config"
	"sifter/internal/database"
	"sifter/internal/session"
)

// MustOpenDB opens the configured database and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// MustOpenSessionStore opens a session.Store for tests.
func MustOpenSessionStore(t testing.TB, cfg *config.Config) *session.Store {
	t.Helper()
	return session.NewStore(MustOpenDB(t, cfg))
}

// NewSession creates a pending session for tests using the provided store.
func NewSession(t testing.TB, store *session.Store, name, source string) *session.Session {
	t.Helper()

	sess, err := store.Create(context.Background(), session.CreateParams{
		Name:          name,
		SourceLocator: source,
		Topic:         "home fitness",
		ChunkSize:     100,
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return sess
}
