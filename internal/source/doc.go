// Package source reads tabular keyword inputs in bounded chunks.
//
// Open loads an xlsx/xlsm workbook (via excelize) or a csv file, selects the
// preferred sheet (falling back to the first one), and resolves the term and
// category columns through a pluggable ColumnDetector. NextChunk is a pure
// function of the loaded table, the cursor, and the chunk size: the cursor is
// owned by the caller and returned advanced, never stored here.
//
// Materialize turns inline "data:" or "base64:" uploads into files under the
// upload directory after checking spreadsheet signatures.
package source
