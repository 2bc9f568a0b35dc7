// Command sifter filters keyword spreadsheets against a topic with an LLM.
//
// Sessions are created from an xlsx/xlsm/csv source, processed chunk by chunk
// and accumulated into a results workbook. Every command except serve drives
// the engine in-process; serve hosts the same engine behind the HTTP API.
//
//	sifter session create --source terms.xlsx --topic "home fitness"
//	sifter session run <id|name>
//	sifter session download <id|name> -o results.xlsx
//	sifter serve
package main
