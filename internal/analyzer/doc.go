// Package analyzer evaluates keyword chunks against a topic.
//
// Analyzer is the engine-facing contract. LLMAnalyzer implements it on top of
// any JSON-completion client (normally services/llm.Client): it renders the
// configurable instruction template, lists the chunk's terms with their
// categories, and decodes the structured reply. Every failure, whether
// transport, timeout, or a malformed reply, is reported as services.ErrAnalyzer.
package analyzer
