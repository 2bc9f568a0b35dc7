// Package results accumulates accepted keywords into a per-session xlsx
// artifact.
//
// Each Merge loads the current artifact, appends the chunk's rows, and
// rewrites the whole workbook through a temp file and rename, so a crash
// between chunks never leaves a torn file. A hidden ledger sheet records the
// source range of every merged chunk; merging a range that is already in the
// ledger is a no-op, which keeps replays after a crash from duplicating rows.
// Rows are never deduplicated by term.
package results
