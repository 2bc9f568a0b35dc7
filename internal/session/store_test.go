package session_test

import (
	"context"
	"errors"
	"testing"

	"sifter/internal/services"
	"sifter/internal/session"
	"sifter/internal/testsupport"
)

func TestCreateAndFetch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessionStore(t, cfg)
	ctx := context.Background()

	sess, err := store.Create(ctx, session.CreateParams{
		Name:             "keywords - fitness - 2026-01-02 10:00",
		SourceLocator:    "/tmp/keywords.xlsx",
		OriginalFilename: "keywords.xlsx",
		Topic:            "fitness",
		ChunkSize:        50,
		TotalRows:        120,
		OwnerID:          "owner-1",
		ModelID:          "openai/gpt-4o-mini",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sess.ID == "" || sess.Status != session.StatusPending || !sess.IsActive {
		t.Fatalf("unexpected session: %#v", sess)
	}
	if sess.ResultLocator != "" || sess.CompletedAt != nil {
		t.Fatalf("new session should have no result or completion: %#v", sess)
	}
	if sess.CreatedAt.IsZero() || sess.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}

	byID, err := store.GetByID(ctx, sess.ID)
	if err != nil || byID == nil || byID.Name != sess.Name || byID.TotalRows != 120 || byID.OwnerID != "owner-1" {
		t.Fatalf("GetByID = %#v, %v", byID, err)
	}
	byName, err := store.GetByName(ctx, sess.Name)
	if err != nil || byName == nil || byName.ID != sess.ID {
		t.Fatalf("GetByName = %#v, %v", byName, err)
	}

	missing, err := store.GetByID(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing id, got %#v, %v", missing, err)
	}
}

func TestCreateRejectsInvalidParams(t *testing.T) {
	store := testsupport.MustOpenSessionStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	cases := []struct {
		name   string
		params session.CreateParams
	}{
		{"zero chunk", session.CreateParams{Name: "a", SourceLocator: "s", Topic: "t", ChunkSize: 0}},
		{"negative chunk", session.CreateParams{Name: "a", SourceLocator: "s", Topic: "t", ChunkSize: -5}},
		{"missing name", session.CreateParams{SourceLocator: "s", Topic: "t", ChunkSize: 10}},
		{"missing source", session.CreateParams{Name: "a", Topic: "t", ChunkSize: 10}},
		{"missing topic", session.CreateParams{Name: "a", SourceLocator: "s", ChunkSize: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.Create(ctx, tc.params); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateResolvesNameCollisions(t *testing.T) {
	store := testsupport.MustOpenSessionStore(t, testsupport.NewConfig(t))

	first := testsupport.NewSession(t, store, "report", "a.xlsx")
	second := testsupport.NewSession(t, store, "report", "b.xlsx")
	third := testsupport.NewSession(t, store, "report", "c.xlsx")

	if first.Name != "report" || second.Name != "report (1)" || third.Name != "report (2)" {
		t.Fatalf("unexpected names %q %q %q", first.Name, second.Name, third.Name)
	}
	if first.ID == second.ID || second.ID == third.ID {
		t.Fatal("expected distinct ids")
	}
}

func TestDeletedNameCanBeReused(t *testing.T) {
	store := testsupport.MustOpenSessionStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	old := testsupport.NewSession(t, store, "reuse", "a.xlsx")
	deleted, err := store.Delete(ctx, old.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}
	again, err := store.Delete(ctx, old.ID)
	if err != nil || again {
		t.Fatalf("second Delete should report false, got %v, %v", again, err)
	}

	fresh := testsupport.NewSession(t, store, "reuse", "b.xlsx")
	if fresh.Name != "reuse" {
		t.Fatalf("expected name reuse after soft delete, got %q", fresh.Name)
	}

	kept, err := store.GetByID(ctx, old.ID)
	if err != nil || kept == nil || kept.IsActive {
		t.Fatalf("soft-deleted session should remain readable and inactive: %#v, %v", kept, err)
	}
	byName, err := store.GetByName(ctx, "reuse")
	if err != nil || byName == nil || byName.ID != fresh.ID {
		t.Fatalf("GetByName should return the active session, got %#v, %v", byName, err)
	}
}

func TestListNewestFirstActiveOnly(t *testing.T) {
	store := testsupport.MustOpenSessionStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"one", "two", "three"} {
		sess, err := store.Create(ctx, session.CreateParams{
			Name: name, SourceLocator: name + ".xlsx", Topic: "t", ChunkSize: 10, OwnerID: "alice",
		})
		if err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
		ids = append(ids, sess.ID)
	}
	if _, err := store.Create(ctx, session.CreateParams{
		Name: "other", SourceLocator: "o.xlsx", Topic: "t", ChunkSize: 10, OwnerID: "bob",
	}); err != nil {
		t.Fatalf("Create other: %v", err)
	}
	if _, err := store.Delete(ctx, ids[1]); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	list, err := store.List(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != ids[2] || list[1].ID != ids[0] {
		t.Fatalf("unexpected list order: %v", names(list))
	}

	limited, err := store.List(ctx, "", 2)
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 2 || limited[0].Name != "other" {
		t.Fatalf("unexpected limited list: %v", names(limited))
	}
}

func TestStatusTransitions(t *testing.T) {
	store := testsupport.MustOpenSessionStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "states", "a.xlsx")

	// result locator is ignored until completion
	processing, err := store.UpdateStatus(ctx, sess.ID, session.StatusProcessing, session.WithResultLocator("early.xlsx"))
	if err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}
	if processing.ResultLocator != "" || processing.CompletedAt != nil {
		t.Fatalf("processing session must not carry result or completion: %#v", processing)
	}

	completed, err := store.UpdateStatus(ctx, sess.ID, session.StatusCompleted,
		session.WithResultLocator("/results/a.xlsx"), session.WithTotalAccepted(7))
	if err != nil {
		t.Fatalf("processing -> completed: %v", err)
	}
	if completed.ResultLocator != "/results/a.xlsx" || completed.TotalAccepted != 7 || completed.CompletedAt == nil {
		t.Fatalf("unexpected completed session: %#v", completed)
	}

	_, err = store.UpdateStatus(ctx, sess.ID, session.StatusProcessing)
	var transitionErr *session.TransitionError
	if !errors.As(err, &transitionErr) || !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("completed -> processing should be rejected, got %v", err)
	}
	if transitionErr.From != session.StatusCompleted || transitionErr.To != session.StatusProcessing {
		t.Fatalf("unexpected transition error %#v", transitionErr)
	}

	failed := testsupport.NewSession(t, store, "fails", "b.xlsx")
	got, err := store.UpdateStatus(ctx, failed.ID, session.StatusFailed, session.WithErrorMessage("source unreadable"))
	if err != nil {
		t.Fatalf("pending -> failed: %v", err)
	}
	if got.ErrorMessage != "source unreadable" || got.CompletedAt != nil {
		t.Fatalf("unexpected failed session: %#v", got)
	}
	if _, err := store.UpdateStatus(ctx, failed.ID, session.StatusPending); !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("failed -> pending should be rejected, got %v", err)
	}

	if _, err := store.UpdateStatus(ctx, "missing", session.StatusProcessing); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.UpdateStatus(ctx, sess.ID, session.Status("paused")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestCanTransitionMatrix(t *testing.T) {
	cases := []struct {
		from, to session.Status
		want     bool
	}{
		{session.StatusPending, session.StatusProcessing, true},
		{session.StatusPending, session.StatusFailed, true},
		{session.StatusPending, session.StatusCompleted, false},
		{session.StatusProcessing, session.StatusProcessing, true},
		{session.StatusProcessing, session.StatusCompleted, true},
		{session.StatusProcessing, session.StatusPending, false},
		{session.StatusCompleted, session.StatusProcessing, false},
		{session.StatusCompleted, session.StatusCompleted, false},
		{session.StatusFailed, session.StatusPending, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
	if !session.StatusFailed.Terminal() || session.StatusProcessing.Terminal() {
		t.Fatal("unexpected Terminal results")
	}
	if status, ok := session.ParseStatus(" Completed "); !ok || status != session.StatusCompleted {
		t.Fatalf("ParseStatus = %q, %v", status, ok)
	}
}

func TestSaveCheckpoint(t *testing.T) {
	store := testsupport.MustOpenSessionStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "checkpoint", "a.xlsx")

	if _, err := store.UpdateStatus(ctx, sess.ID, session.StatusProcessing); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	cp := session.Checkpoint{NextCursor: 200, TotalAccepted: 12, FailedChunks: 1, TotalRows: 250}
	if err := store.SaveCheckpoint(ctx, sess.ID, cp); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	got, err := store.GetByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.NextCursor != 200 || got.TotalAccepted != 12 || got.FailedChunks != 1 || got.TotalRows != 250 {
		t.Fatalf("checkpoint not persisted: %#v", got)
	}
	if got.Progress() != 80 {
		t.Fatalf("Progress = %v, want 80", got.Progress())
	}

	if _, err := store.UpdateStatus(ctx, sess.ID, session.StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.SaveCheckpoint(ctx, sess.ID, session.Checkpoint{NextCursor: 1}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("checkpoint on terminal session should fail, got %v", err)
	}
	if err := store.SaveCheckpoint(ctx, sess.ID, session.Checkpoint{NextCursor: -1}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStatsAndListByStatus(t *testing.T) {
	store := testsupport.MustOpenSessionStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	a := testsupport.NewSession(t, store, "a", "a.xlsx")
	b := testsupport.NewSession(t, store, "b", "b.xlsx")
	testsupport.NewSession(t, store, "c", "c.xlsx")
	if _, err := store.UpdateStatus(ctx, a.ID, session.StatusProcessing); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := store.UpdateStatus(ctx, b.ID, session.StatusFailed); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Processing != 1 || stats.Failed != 1 || stats.Completed != 0 {
		t.Fatalf("unexpected stats %#v", stats)
	}

	processing, err := store.ListByStatus(ctx, session.StatusProcessing)
	if err != nil || len(processing) != 1 || processing[0].ID != a.ID {
		t.Fatalf("ListByStatus = %v, %v", names(processing), err)
	}
	none, err := store.ListByStatus(ctx)
	if err != nil || none != nil {
		t.Fatalf("ListByStatus with no statuses = %v, %v", none, err)
	}
}

func names(list []*session.Session) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.Name)
	}
	return out
}
