package source

import (
	"strings"

	"sifter/internal/textutil"
)

var (
	termSynonyms     = []string{"keyword", "term", "phrase", "word"}
	categorySynonyms = []string{"category", "type", "class", "group"}
)

// ColumnDetector picks the term and category columns from a header row.
// DetectCategoryColumn returns -1 when no column qualifies; the reader then
// uses its default category.
type ColumnDetector interface {
	DetectTermColumn(headers []string) int
	DetectCategoryColumn(headers []string, termIndex int) int
}

// HeuristicDetector matches header names against synonym lists, ignoring case.
type HeuristicDetector struct {
	TermSynonyms     []string
	CategorySynonyms []string
}

// DefaultDetector returns the synonym-based detector used when no explicit
// columns are configured.
func DefaultDetector() HeuristicDetector {
	return HeuristicDetector{TermSynonyms: termSynonyms, CategorySynonyms: categorySynonyms}
}

// DetectTermColumn returns the first header containing a term synonym, or 0.
func (d HeuristicDetector) DetectTermColumn(headers []string) int {
	synonyms := d.TermSynonyms
	if len(synonyms) == 0 {
		synonyms = termSynonyms
	}
	for i, header := range headers {
		if textutil.ContainsFold(header, synonyms...) {
			return i
		}
	}
	return 0
}

// DetectCategoryColumn returns the first header other than the term column
// containing a category synonym, or -1.
func (d HeuristicDetector) DetectCategoryColumn(headers []string, termIndex int) int {
	synonyms := d.CategorySynonyms
	if len(synonyms) == 0 {
		synonyms = categorySynonyms
	}
	for i, header := range headers {
		if i == termIndex {
			continue
		}
		if textutil.ContainsFold(header, synonyms...) {
			return i
		}
	}
	return -1
}

// ExplicitColumns selects columns by exact (caseless) header name. Empty or
// unmatched names fall back to Fallback.
type ExplicitColumns struct {
	Term     string
	Category string
	Fallback ColumnDetector
}

// DetectTermColumn implements ColumnDetector.
func (e ExplicitColumns) DetectTermColumn(headers []string) int {
	if idx := indexFold(headers, e.Term); idx >= 0 {
		return idx
	}
	return e.fallback().DetectTermColumn(headers)
}

// DetectCategoryColumn implements ColumnDetector.
func (e ExplicitColumns) DetectCategoryColumn(headers []string, termIndex int) int {
	if idx := indexFold(headers, e.Category); idx >= 0 && idx != termIndex {
		return idx
	}
	return e.fallback().DetectCategoryColumn(headers, termIndex)
}

func (e ExplicitColumns) fallback() ColumnDetector {
	if e.Fallback != nil {
		return e.Fallback
	}
	return DefaultDetector()
}

// DetectorFor returns ExplicitColumns when either name is set, otherwise the
// heuristic detector.
func DetectorFor(termColumn, categoryColumn string) ColumnDetector {
	if strings.TrimSpace(termColumn) == "" && strings.TrimSpace(categoryColumn) == "" {
		return DefaultDetector()
	}
	return ExplicitColumns{Term: termColumn, Category: categoryColumn}
}

func indexFold(headers []string, name string) int {
	want := textutil.Fold(name)
	if want == "" {
		return -1
	}
	for i, header := range headers {
		if textutil.Fold(header) == want {
			return i
		}
	}
	return -1
}
