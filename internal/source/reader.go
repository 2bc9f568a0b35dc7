package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"sifter/internal/services"
)

const stageName = "source"

// Format identifies how a source file is parsed.
type Format string

const (
	FormatXLSX      Format = "xlsx"
	FormatCSV       Format = "csv"
	FormatLegacyXLS Format = "xls"
	FormatUnknown   Format = "unknown"
)

var (
	zipSignature   = []byte{0x50, 0x4B, 0x03, 0x04}
	oleSignature   = []byte{0xD0, 0xCF, 0x11, 0xE0}
	biff2Signature = []byte{0x09, 0x08, 0x10, 0x00}
	utf8BOM        = []byte{0xEF, 0xBB, 0xBF}
	nullSentinels  = map[string]struct{}{"": {}, "nan": {}, "none": {}, "null": {}}
)

// Defaults used when Options leaves a field empty.
const (
	DefaultSheet    = "CATEGORY"
	DefaultCategory = "general"
)

// Options configures a Reader.
type Options struct {
	// SheetName is the preferred worksheet; the first sheet is used when absent.
	SheetName string
	// DefaultCategory fills rows when no category column is found.
	DefaultCategory string
	Detector        ColumnDetector
}

// Reader opens sources into immutable tables.
type Reader struct {
	sheetName       string
	defaultCategory string
	detector        ColumnDetector
}

// NewReader builds a Reader, filling unset options with defaults.
func NewReader(opts Options) *Reader {
	r := &Reader{
		sheetName:       strings.TrimSpace(opts.SheetName),
		defaultCategory: strings.TrimSpace(opts.DefaultCategory),
		detector:        opts.Detector,
	}
	if r.sheetName == "" {
		r.sheetName = DefaultSheet
	}
	if r.defaultCategory == "" {
		r.defaultCategory = DefaultCategory
	}
	if r.detector == nil {
		r.detector = DefaultDetector()
	}
	return r
}

// Row is one usable source row.
type Row struct {
	// Index is the zero-based data row offset (header excluded).
	Index    int
	Term     string
	Category string
}

// Chunk is the result of one NextChunk call covering rows [Start, NextCursor).
type Chunk struct {
	Start      int
	NextCursor int
	// Rows holds the rows that survived blank/null filtering.
	Rows []Row
	// Exhausted is true when the requested cursor was already at or past the end.
	Exhausted bool
}

// Empty reports whether filtering left nothing to analyze.
func (c Chunk) Empty() bool { return len(c.Rows) == 0 }

// Table is a parsed source. It is read-only after Open and safe to share.
type Table struct {
	Path            string
	Format          Format
	Sheet           string
	Sheets          []string
	Headers         []string
	TermColumn      int
	CategoryColumn  int
	defaultCategory string
	rows            [][]string
}

// Open parses the file at path and resolves its columns. Any failure to read
// or parse is reported as services.ErrSourceRead.
func (r *Reader) Open(path string) (*Table, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, services.Wrap(services.ErrSourceRead, stageName, "open", path, err)
	}
	if info.IsDir() {
		return nil, services.Wrap(services.ErrSourceRead, stageName, "open", path+" is a directory", nil)
	}
	if info.Size() == 0 {
		return nil, services.Wrap(services.ErrSourceRead, stageName, "open", path+" is empty", nil)
	}

	format, err := DetectFormat(path)
	if err != nil {
		return nil, services.Wrap(services.ErrSourceRead, stageName, "detect format", path, err)
	}

	table := &Table{Path: path, Format: format, defaultCategory: r.defaultCategory}
	var grid [][]string
	switch format {
	case FormatXLSX:
		grid, err = r.readWorkbook(path, table)
	case FormatCSV:
		grid, err = readCSV(path)
		table.Sheet = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		table.Sheets = []string{table.Sheet}
	case FormatLegacyXLS:
		err = errors.New("legacy .xls workbooks are not supported; save as .xlsx")
	default:
		err = errors.New("unrecognized file format")
	}
	if err != nil {
		return nil, services.Wrap(services.ErrSourceRead, stageName, "parse", path, err)
	}
	if len(grid) == 0 {
		return nil, services.Wrap(services.ErrSourceRead, stageName, "parse", fmt.Sprintf("sheet %q has no header row", table.Sheet), nil)
	}

	table.Headers = normalizeHeaders(grid[0])
	table.rows = grid[1:]
	table.TermColumn = r.detector.DetectTermColumn(table.Headers)
	if table.TermColumn < 0 || table.TermColumn >= len(table.Headers) {
		table.TermColumn = 0
	}
	table.CategoryColumn = r.detector.DetectCategoryColumn(table.Headers, table.TermColumn)
	if table.CategoryColumn >= len(table.Headers) || table.CategoryColumn == table.TermColumn {
		table.CategoryColumn = -1
	}
	return table, nil
}

func (r *Reader) readWorkbook(path string, table *Table) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	table.Sheets = f.GetSheetList()
	table.Sheet = selectSheet(table.Sheets, r.sheetName)
	if table.Sheet == "" {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(table.Sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", table.Sheet, err)
	}
	return rows, nil
}

// selectSheet prefers an exact name match, then a caseless one, then the first sheet.
func selectSheet(sheets []string, preferred string) string {
	for _, name := range sheets {
		if name == preferred {
			return name
		}
	}
	for _, name := range sheets {
		if strings.EqualFold(name, preferred) {
			return name
		}
	}
	if len(sheets) > 0 {
		return sheets[0]
	}
	return ""
}

func readCSV(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func normalizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		headers[i] = h
	}
	if len(headers) == 0 {
		headers = []string{"column_1"}
	}
	return headers
}

// DetectFormat sniffs the file signature, falling back to the extension for
// text formats.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()
	head := make([]byte, 8)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, err
	}
	if format := sniff(head[:n]); format != FormatUnknown {
		return format, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	}
	return FormatUnknown, nil
}

func sniff(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, zipSignature):
		return FormatXLSX
	case bytes.HasPrefix(head, oleSignature), bytes.HasPrefix(head, biff2Signature):
		return FormatLegacyXLS
	}
	return FormatUnknown
}

// TotalRows is the number of data rows, header excluded, before filtering.
func (t *Table) TotalRows() int { return len(t.rows) }

// Exhausted reports whether cursor is at or past the end of the data.
func (t *Table) Exhausted(cursor int) bool { return cursor >= len(t.rows) }

// EstimatedChunks returns ceil(TotalRows/chunkSize).
func (t *Table) EstimatedChunks(chunkSize int) int {
	if chunkSize <= 0 {
		return 0
	}
	return (len(t.rows) + chunkSize - 1) / chunkSize
}

// NextChunk returns rows [cursor, min(cursor+chunkSize, TotalRows)) with blank
// and null-sentinel terms dropped. It depends only on its arguments and the
// immutable table.
func (t *Table) NextChunk(cursor, chunkSize int) (Chunk, error) {
	if chunkSize <= 0 {
		return Chunk{}, services.Wrap(services.ErrValidation, stageName, "next chunk", fmt.Sprintf("chunk size must be positive, got %d", chunkSize), nil)
	}
	if cursor < 0 {
		return Chunk{}, services.Wrap(services.ErrValidation, stageName, "next chunk", fmt.Sprintf("negative cursor %d", cursor), nil)
	}
	total := len(t.rows)
	if cursor >= total {
		return Chunk{Start: cursor, NextCursor: cursor, Exhausted: true}, nil
	}
	end := min(cursor+chunkSize, total)

	chunk := Chunk{Start: cursor, NextCursor: end, Rows: make([]Row, 0, end-cursor)}
	for i := cursor; i < end; i++ {
		record := t.rows[i]
		term := cell(record, t.TermColumn)
		if isNull(term) {
			continue
		}
		category := t.defaultCategory
		if t.CategoryColumn >= 0 {
			if value := cell(record, t.CategoryColumn); !isNull(value) {
				category = value
			}
		}
		chunk.Rows = append(chunk.Rows, Row{Index: i, Term: term, Category: category})
	}
	return chunk, nil
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func isNull(value string) bool {
	_, ok := nullSentinels[strings.ToLower(strings.TrimSpace(value))]
	return ok
}
