package results

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"sifter/internal/services"
	"sifter/internal/textutil"
)

const (
	stageName   = "results"
	ResultSheet = "Results"
	ledgerSheet = "_chunks"
)

var (
	resultHeader = []any{"keyword", "reason"}
	ledgerHeader = []any{"chunk_start", "chunk_end", "accepted", "merged_at"}
)

// Row is one accepted keyword with its justification.
type Row struct {
	Term          string
	Justification string
}

// Batch is the accepted output of one chunk covering source rows [Start, End).
type Batch struct {
	Start int
	End   int
	Rows  []Row
}

// LedgerEntry records one merged chunk.
type LedgerEntry struct {
	Start    int
	End      int
	Accepted int
	MergedAt time.Time
}

// MergeResult reports what a Merge call did.
type MergeResult struct {
	Path     string
	Appended int
	Total    int
	// Replayed is true when the batch range was already merged.
	Replayed bool
}

// Artifact is the parsed content of a session's result file.
type Artifact struct {
	Path   string
	Rows   []Row
	Ledger []LedgerEntry
}

// Accumulator owns the result artifacts under one directory.
type Accumulator struct {
	dir   string
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	now   func() time.Time
}

// NewAccumulator stores artifacts under dir.
func NewAccumulator(dir string) *Accumulator {
	return &Accumulator{dir: dir, locks: make(map[string]*sync.Mutex), now: time.Now}
}

// Path returns the artifact location for a session.
func (a *Accumulator) Path(sessionID string) string {
	return filepath.Join(a.dir, "session_keywords_"+textutil.SanitizeToken(sessionID)+".xlsx")
}

// Merge appends batch to the session artifact with one durable rewrite. A
// batch whose range is already in the ledger leaves the artifact unchanged.
func (a *Accumulator) Merge(sessionID string, batch Batch) (MergeResult, error) {
	if batch.End < batch.Start || batch.Start < 0 {
		return MergeResult{}, services.Wrap(services.ErrValidation, stageName, "merge", fmt.Sprintf("invalid range [%d,%d)", batch.Start, batch.End), nil)
	}
	lock := a.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := a.Path(sessionID)
	artifact, err := readArtifact(path)
	if err != nil {
		return MergeResult{}, services.Wrap(services.ErrPersistence, stageName, "merge", "load artifact", err)
	}
	for _, entry := range artifact.Ledger {
		if entry.Start == batch.Start && entry.End == batch.End {
			return MergeResult{Path: path, Total: len(artifact.Rows), Replayed: true}, nil
		}
	}

	artifact.Rows = append(artifact.Rows, batch.Rows...)
	artifact.Ledger = append(artifact.Ledger, LedgerEntry{
		Start:    batch.Start,
		End:      batch.End,
		Accepted: len(batch.Rows),
		MergedAt: a.now().UTC(),
	})
	if err := writeArtifact(path, artifact); err != nil {
		return MergeResult{}, services.Wrap(services.ErrPersistence, stageName, "merge", "write artifact", err)
	}
	return MergeResult{Path: path, Appended: len(batch.Rows), Total: len(artifact.Rows)}, nil
}

// Load reads a session artifact. A missing artifact yields an empty one.
func (a *Accumulator) Load(sessionID string) (Artifact, error) {
	lock := a.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	artifact, err := readArtifact(a.Path(sessionID))
	if err != nil {
		return Artifact{}, services.Wrap(services.ErrPersistence, stageName, "load", "read artifact", err)
	}
	return artifact, nil
}

// Ensure writes an empty artifact when the session has none yet and returns
// its path.
func (a *Accumulator) Ensure(sessionID string) (string, error) {
	lock := a.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := a.Path(sessionID)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", services.Wrap(services.ErrPersistence, stageName, "ensure", "stat artifact", err)
	}
	if err := writeArtifact(path, Artifact{Path: path}); err != nil {
		return "", services.Wrap(services.ErrPersistence, stageName, "ensure", "write artifact", err)
	}
	return path, nil
}

// Exists reports whether the session has an artifact on disk.
func (a *Accumulator) Exists(sessionID string) bool {
	info, err := os.Stat(a.Path(sessionID))
	return err == nil && info.Mode().IsRegular()
}

// Size returns the artifact size in bytes, or 0 when absent.
func (a *Accumulator) Size(sessionID string) int64 {
	info, err := os.Stat(a.Path(sessionID))
	if err != nil {
		return 0
	}
	return info.Size()
}

// Clear removes the session artifact. Missing artifacts are not an error.
func (a *Accumulator) Clear(sessionID string) error {
	lock := a.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(a.Path(sessionID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrPersistence, stageName, "clear", "remove artifact", err)
	}
	return nil
}

func (a *Accumulator) sessionLock(sessionID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[sessionID] = lock
	}
	return lock
}

func readArtifact(path string) (Artifact, error) {
	artifact := Artifact{Path: path}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return artifact, nil
	} else if err != nil {
		return artifact, err
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return artifact, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := f.GetRows(ResultSheet)
	if err != nil {
		return artifact, fmt.Errorf("read %s: %w", ResultSheet, err)
	}
	for i, record := range rows {
		if i == 0 {
			continue
		}
		row := Row{}
		if len(record) > 0 {
			row.Term = record[0]
		}
		if len(record) > 1 {
			row.Justification = record[1]
		}
		artifact.Rows = append(artifact.Rows, row)
	}

	if idx, err := f.GetSheetIndex(ledgerSheet); err != nil || idx < 0 {
		return artifact, nil
	}
	ledger, err := f.GetRows(ledgerSheet)
	if err != nil {
		return artifact, fmt.Errorf("read ledger: %w", err)
	}
	for i, record := range ledger {
		if i == 0 || len(record) < 3 {
			continue
		}
		entry, err := parseLedgerEntry(record)
		if err != nil {
			return artifact, fmt.Errorf("ledger row %d: %w", i+1, err)
		}
		artifact.Ledger = append(artifact.Ledger, entry)
	}
	return artifact, nil
}

func parseLedgerEntry(record []string) (LedgerEntry, error) {
	var (
		entry LedgerEntry
		err   error
	)
	if entry.Start, err = strconv.Atoi(record[0]); err != nil {
		return entry, err
	}
	if entry.End, err = strconv.Atoi(record[1]); err != nil {
		return entry, err
	}
	if entry.Accepted, err = strconv.Atoi(record[2]); err != nil {
		return entry, err
	}
	if len(record) > 3 {
		if ts, parseErr := time.Parse(time.RFC3339, record[3]); parseErr == nil {
			entry.MergedAt = ts
		}
	}
	return entry, nil
}

func writeArtifact(path string, artifact Artifact) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ResultSheet); err != nil {
		return fmt.Errorf("name result sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(ResultSheet)
	if err != nil {
		return fmt.Errorf("stream writer: %w", err)
	}
	if err := sw.SetRow("A1", resultHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range artifact.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, []any{row.Term, row.Justification}); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush results: %w", err)
	}

	if _, err := f.NewSheet(ledgerSheet); err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}
	if err := f.SetSheetRow(ledgerSheet, "A1", &ledgerHeader); err != nil {
		return fmt.Errorf("write ledger header: %w", err)
	}
	for i, entry := range artifact.Ledger {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{
			strconv.Itoa(entry.Start),
			strconv.Itoa(entry.End),
			strconv.Itoa(entry.Accepted),
			entry.MergedAt.UTC().Format(time.RFC3339),
		}
		if err := f.SetSheetRow(ledgerSheet, cell, &values); err != nil {
			return fmt.Errorf("write ledger row: %w", err)
		}
	}
	if err := f.SetSheetVisible(ledgerSheet, false); err != nil {
		return fmt.Errorf("hide ledger: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*.xlsx")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if err := f.Write(tmp); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace artifact: %w", err)
	}
	return nil
}
