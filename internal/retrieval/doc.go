// Package retrieval ranks indexed file summaries against a free-text
// query. Scoring is lexical overlap; ranking is deterministic for a
// given snapshot and query.
package retrieval
