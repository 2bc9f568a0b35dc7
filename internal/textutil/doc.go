// Package textutil provides small text helpers shared across packages:
// filename sanitizing for generated session names and artifact paths,
// unicode case folding for header matching, and display truncation.
package textutil
