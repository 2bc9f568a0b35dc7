package results

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sifter/internal/services"
)

func rows(terms ...string) []Row {
	out := make([]Row, 0, len(terms))
	for _, term := range terms {
		out = append(out, Row{Term: term, Justification: "because " + term})
	}
	return out
}

func TestMergeAppendsAcrossChunks(t *testing.T) {
	acc := NewAccumulator(t.TempDir())

	first, err := acc.Merge("s1", Batch{Start: 0, End: 100, Rows: rows("alpha", "beta")})
	if err != nil {
		t.Fatalf("Merge first: %v", err)
	}
	if first.Appended != 2 || first.Total != 2 || first.Replayed {
		t.Fatalf("unexpected first result %#v", first)
	}
	second, err := acc.Merge("s1", Batch{Start: 100, End: 200, Rows: rows("alpha", "gamma")})
	if err != nil {
		t.Fatalf("Merge second: %v", err)
	}
	if second.Total != 4 {
		t.Fatalf("expected 4 rows, got %d", second.Total)
	}

	artifact, err := acc.Load("s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	terms := make([]string, 0, len(artifact.Rows))
	for _, row := range artifact.Rows {
		terms = append(terms, row.Term)
	}
	// no dedup across chunks
	want := []string{"alpha", "beta", "alpha", "gamma"}
	if len(terms) != len(want) {
		t.Fatalf("terms = %v, want %v", terms, want)
	}
	for i := range want {
		if terms[i] != want[i] {
			t.Fatalf("terms = %v, want %v", terms, want)
		}
	}
	if artifact.Rows[3].Justification != "because gamma" {
		t.Fatalf("justification lost: %#v", artifact.Rows[3])
	}
	if len(artifact.Ledger) != 2 || artifact.Ledger[1].Start != 100 || artifact.Ledger[1].Accepted != 2 {
		t.Fatalf("unexpected ledger %#v", artifact.Ledger)
	}
}

func TestMergeReplayIsNoop(t *testing.T) {
	dir := t.TempDir()
	acc := NewAccumulator(dir)
	batch := Batch{Start: 0, End: 50, Rows: rows("one", "two")}

	if _, err := acc.Merge("s", batch); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	// a fresh accumulator simulates a restart between chunks
	restarted := NewAccumulator(dir)
	replay, err := restarted.Merge("s", batch)
	if err != nil {
		t.Fatalf("replay Merge: %v", err)
	}
	if !replay.Replayed || replay.Appended != 0 || replay.Total != 2 {
		t.Fatalf("expected replay no-op, got %#v", replay)
	}
}

func TestEmptyBatchIsRecorded(t *testing.T) {
	acc := NewAccumulator(t.TempDir())
	res, err := acc.Merge("s", Batch{Start: 0, End: 10})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.Total != 0 || !acc.Exists("s") {
		t.Fatalf("expected empty artifact on disk, got %#v", res)
	}
	if acc.Size("s") == 0 {
		t.Fatal("expected non-zero artifact size")
	}
}

func TestLoadMissingArtifactIsEmpty(t *testing.T) {
	acc := NewAccumulator(t.TempDir())
	artifact, err := acc.Load("nobody")
	if err != nil || len(artifact.Rows) != 0 || acc.Exists("nobody") {
		t.Fatalf("unexpected artifact %#v, %v", artifact, err)
	}
	if err := acc.Clear("nobody"); err != nil {
		t.Fatalf("Clear missing: %v", err)
	}
}

func TestCorruptArtifactIsNotOverwritten(t *testing.T) {
	acc := NewAccumulator(t.TempDir())
	path := acc.Path("s")
	if err := os.WriteFile(path, []byte("not a workbook"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := acc.Merge("s", Batch{Start: 0, End: 1, Rows: rows("x")}); !errors.Is(err, services.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "not a workbook" {
		t.Fatal("corrupt artifact must be left in place")
	}
}

func TestMergeRejectsInvalidRange(t *testing.T) {
	acc := NewAccumulator(t.TempDir())
	if _, err := acc.Merge("s", Batch{Start: 10, End: 5}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPathSanitizesSessionID(t *testing.T) {
	acc := NewAccumulator("/data/results")
	got := acc.Path("../../etc/passwd")
	if filepath.Dir(got) != "/data/results" {
		t.Fatalf("path escaped results dir: %q", got)
	}
}

func TestClearRemovesArtifact(t *testing.T) {
	acc := NewAccumulator(t.TempDir())
	if _, err := acc.Merge("s", Batch{Start: 0, End: 1, Rows: rows("x")}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := acc.Clear("s"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if acc.Exists("s") {
		t.Fatal("artifact should be removed")
	}
}

func TestEnsureCreatesEmptyArtifactOnce(t *testing.T) {
	acc := NewAccumulator(t.TempDir())
	path, err := acc.Ensure("s")
	if err != nil || path != acc.Path("s") || !acc.Exists("s") {
		t.Fatalf("Ensure: %q %v", path, err)
	}
	if _, err := acc.Merge("s", Batch{Start: 0, End: 2, Rows: rows("a")}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if _, err := acc.Ensure("s"); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	artifact, err := acc.Load("s")
	if err != nil || len(artifact.Rows) != 1 {
		t.Fatalf("Ensure must not reset an existing artifact: %#v %v", artifact, err)
	}
}
