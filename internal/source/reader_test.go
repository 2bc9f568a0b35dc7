package source_test

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"sifter/internal/services"
	"sifter/internal/source"
	"sifter/internal/testsupport"
)

func TestChunksPartitionRows(t *testing.T) {
	dir := t.TempDir()
	reader := source.NewReader(source.Options{})

	for _, tc := range []struct {
		rows, size int
	}{
		{250, 100}, {100, 100}, {1, 7}, {99, 10}, {0, 5}, {37, 1},
	} {
		t.Run(strconv.Itoa(tc.rows)+"x"+strconv.Itoa(tc.size), func(t *testing.T) {
			path := filepath.Join(dir, "rows-"+strconv.Itoa(tc.rows)+".csv")
			testsupport.WriteCSV(t, path, testsupport.TermRows(tc.rows))
			table, err := reader.Open(path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if table.TotalRows() != tc.rows {
				t.Fatalf("TotalRows = %d, want %d", table.TotalRows(), tc.rows)
			}

			cursor, chunks := 0, 0
			for !table.Exhausted(cursor) {
				chunk, err := table.NextChunk(cursor, tc.size)
				if err != nil {
					t.Fatalf("NextChunk: %v", err)
				}
				if chunk.Start != cursor || chunk.NextCursor <= cursor || chunk.NextCursor-cursor > tc.size {
					t.Fatalf("bad range [%d,%d) from cursor %d", chunk.Start, chunk.NextCursor, cursor)
				}
				for i, row := range chunk.Rows {
					if row.Index != cursor+i {
						t.Fatalf("row index %d, want %d", row.Index, cursor+i)
					}
				}
				cursor = chunk.NextCursor
				chunks++
			}
			if cursor != tc.rows {
				t.Fatalf("cursor ended at %d, want %d", cursor, tc.rows)
			}
			if want := table.EstimatedChunks(tc.size); chunks != want {
				t.Fatalf("produced %d chunks, want %d", chunks, want)
			}
		})
	}
}

func TestTwoHundredFiftyRowsInChunksOfHundred(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.xlsx")
	testsupport.WriteWorkbook(t, path, testsupport.Sheet{Name: "CATEGORY", Rows: testsupport.TermRows(250)})

	table, err := source.NewReader(source.Options{}).Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var sizes []int
	cursor := 0
	for {
		chunk, err := table.NextChunk(cursor, 100)
		if err != nil {
			t.Fatalf("NextChunk: %v", err)
		}
		if chunk.Exhausted {
			break
		}
		sizes = append(sizes, len(chunk.Rows))
		cursor = chunk.NextCursor
	}
	if len(sizes) != 3 || sizes[0] != 100 || sizes[1] != 100 || sizes[2] != 50 {
		t.Fatalf("chunk sizes = %v, want [100 100 50]", sizes)
	}
}

func TestNextChunkIsDeterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k.csv")
	testsupport.WriteCSV(t, path, testsupport.TermRows(20))
	table, err := source.NewReader(source.Options{}).Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first, _ := table.NextChunk(5, 4)
	_, _ = table.NextChunk(0, 10)
	second, _ := table.NextChunk(5, 4)
	if first.NextCursor != second.NextCursor || len(first.Rows) != len(second.Rows) || first.Rows[0].Term != second.Rows[0].Term {
		t.Fatalf("NextChunk differs between calls: %#v vs %#v", first, second)
	}
	if first.Rows[0].Term != "term-6" {
		t.Fatalf("unexpected first term %q", first.Rows[0].Term)
	}
}

func TestBlankAndNullTermsAreDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k.csv")
	testsupport.WriteCSV(t, path, [][]string{
		{"Keyword", "Group"},
		{"", "a"},
		{"nan", "a"},
		{"None", "a"},
		{"  ", "a"},
		{"real term", ""},
		{"another", "b"},
	})
	table, err := source.NewReader(source.Options{DefaultCategory: "misc"}).Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	blank, err := table.NextChunk(0, 4)
	if err != nil {
		t.Fatalf("NextChunk: %v", err)
	}
	if !blank.Empty() || blank.NextCursor != 4 || blank.Exhausted {
		t.Fatalf("expected empty chunk advancing to 4, got %#v", blank)
	}

	rest, err := table.NextChunk(blank.NextCursor, 4)
	if err != nil {
		t.Fatalf("NextChunk: %v", err)
	}
	if len(rest.Rows) != 2 || rest.NextCursor != 6 {
		t.Fatalf("unexpected chunk %#v", rest)
	}
	if rest.Rows[0].Category != "misc" || rest.Rows[1].Category != "b" {
		t.Fatalf("unexpected categories %#v", rest.Rows)
	}
}

func TestSheetSelectionFallsBackToFirstSheet(t *testing.T) {
	dir := t.TempDir()
	preferred := filepath.Join(dir, "preferred.xlsx")
	testsupport.WriteWorkbook(t, preferred,
		testsupport.Sheet{Name: "Notes", Rows: [][]string{{"Text"}, {"ignore me"}}},
		testsupport.Sheet{Name: "CATEGORY", Rows: [][]string{{"Term"}, {"wanted"}}},
	)
	fallback := filepath.Join(dir, "fallback.xlsx")
	testsupport.WriteWorkbook(t, fallback,
		testsupport.Sheet{Name: "First", Rows: [][]string{{"Phrase"}, {"first sheet"}}},
		testsupport.Sheet{Name: "Second", Rows: [][]string{{"Phrase"}, {"second sheet"}}},
	)

	reader := source.NewReader(source.Options{SheetName: "CATEGORY"})
	table, err := reader.Open(preferred)
	if err != nil {
		t.Fatalf("Open preferred: %v", err)
	}
	chunk, _ := table.NextChunk(0, 10)
	if table.Sheet != "CATEGORY" || chunk.Rows[0].Term != "wanted" {
		t.Fatalf("expected CATEGORY sheet, got %q %#v", table.Sheet, chunk.Rows)
	}

	table, err = reader.Open(fallback)
	if err != nil {
		t.Fatalf("Open fallback: %v", err)
	}
	chunk, _ = table.NextChunk(0, 10)
	if table.Sheet != "First" || chunk.Rows[0].Term != "first sheet" || len(table.Sheets) != 2 {
		t.Fatalf("expected first sheet, got %q %#v", table.Sheet, chunk.Rows)
	}
}

func TestColumnDetection(t *testing.T) {
	headers := []string{"Volume", "Search Phrase", "Keyword Type", "Notes"}
	detector := source.DefaultDetector()
	term := detector.DetectTermColumn(headers)
	if term != 1 {
		t.Fatalf("term column = %d, want 1", term)
	}
	if cat := detector.DetectCategoryColumn(headers, term); cat != 2 {
		t.Fatalf("category column = %d, want 2", cat)
	}
	if got := detector.DetectTermColumn([]string{"A", "B"}); got != 0 {
		t.Fatalf("expected default first column, got %d", got)
	}
	if got := detector.DetectCategoryColumn([]string{"A", "B"}, 0); got != -1 {
		t.Fatalf("expected no category column, got %d", got)
	}

	explicit := source.DetectorFor("notes", "volume")
	if explicit.DetectTermColumn(headers) != 3 || explicit.DetectCategoryColumn(headers, 3) != 0 {
		t.Fatal("explicit columns not honored")
	}
	partial := source.DetectorFor("missing", "")
	if partial.DetectTermColumn(headers) != 1 {
		t.Fatal("explicit detector should fall back to heuristics")
	}
}

func TestOpenRejectsUnreadableSources(t *testing.T) {
	dir := t.TempDir()
	reader := source.NewReader(source.Options{})

	empty := filepath.Join(dir, "empty.xlsx")
	testsupport.WriteFile(t, empty, 0)
	garbage := filepath.Join(dir, "garbage.bin")
	testsupport.WriteFile(t, garbage, 64)
	legacy := filepath.Join(dir, "old.xls")
	if err := os.WriteFile(legacy, append([]byte{0xD0, 0xCF, 0x11, 0xE0}, make([]byte, 60)...), 0o644); err != nil {
		t.Fatal(err)
	}
	brokenZip := filepath.Join(dir, "broken.xlsx")
	if err := os.WriteFile(brokenZip, append([]byte{0x50, 0x4B, 0x03, 0x04}, make([]byte, 60)...), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{empty, garbage, legacy, brokenZip, filepath.Join(dir, "missing.xlsx")} {
		if _, err := reader.Open(path); !errors.Is(err, services.ErrSourceRead) {
			t.Errorf("Open(%s) = %v, want source read error", filepath.Base(path), err)
		}
	}
}

func TestNextChunkRejectsBadArguments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k.csv")
	testsupport.WriteCSV(t, path, testsupport.TermRows(3))
	table, err := source.NewReader(source.Options{}).Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := table.NextChunk(0, 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for zero chunk size, got %v", err)
	}
	if _, err := table.NextChunk(-1, 5); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for negative cursor, got %v", err)
	}
}

func TestMaterializeInlineUpload(t *testing.T) {
	dir := t.TempDir()
	book := filepath.Join(dir, "book.xlsx")
	testsupport.WriteWorkbook(t, book, testsupport.Sheet{Name: "CATEGORY", Rows: testsupport.TermRows(2)})
	raw, err := os.ReadFile(book)
	if err != nil {
		t.Fatal(err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	uploads := filepath.Join(dir, "uploads")

	for _, locator := range []string{
		"base64:" + encoded,
		"data:application/vnd.openxmlformats-officedocument.spreadsheetml.sheet;base64," + encoded,
		"data:" + encoded[:10] + "\n" + encoded[10:],
	} {
		path, err := source.Materialize(locator, uploads, "input_abc")
		if err != nil {
			t.Fatalf("Materialize: %v", err)
		}
		if path != filepath.Join(uploads, "input_abc.xlsx") {
			t.Fatalf("unexpected path %q", path)
		}
		table, err := source.NewReader(source.Options{}).Open(path)
		if err != nil || table.TotalRows() != 2 {
			t.Fatalf("materialized upload unreadable: %v", err)
		}
	}

	if got, err := source.Materialize("/plain/path.xlsx", uploads, "x"); err != nil || got != "/plain/path.xlsx" {
		t.Fatalf("plain paths should pass through, got %q %v", got, err)
	}
	if _, err := source.Materialize("base64:!!!", uploads, "x"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for bad base64, got %v", err)
	}
	text := base64.StdEncoding.EncodeToString([]byte("hello world"))
	if _, err := source.Materialize("base64:"+text, uploads, "x"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for non-spreadsheet, got %v", err)
	}
	xls := base64.StdEncoding.EncodeToString([]byte{0x09, 0x08, 0x10, 0x00, 1, 2, 3})
	if _, err := source.Materialize("base64:"+xls, uploads, "x"); !errors.Is(err, services.ErrSourceRead) {
		t.Fatalf("expected source read error for legacy xls, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.csv")
	testsupport.WriteCSV(t, good, testsupport.TermRows(1))
	empty := filepath.Join(dir, "empty.csv")
	testsupport.WriteFile(t, empty, 0)

	if err := source.Validate(good); err != nil {
		t.Fatalf("Validate(good) = %v", err)
	}
	for _, path := range []string{"", empty, dir, filepath.Join(dir, "missing.csv")} {
		if err := source.Validate(path); !errors.Is(err, services.ErrValidation) {
			t.Errorf("Validate(%q) = %v, want validation error", path, err)
		}
	}
}
