// Package preflight provides readiness checks for the directories, database
// and LLM endpoint sifter depends on.
//
// These checks run in two contexts:
//   - "sifter serve" calls RunAll at startup and logs failures as warnings.
//   - "sifter status" and GET /api/status render every Result.
package preflight
