// Package mcp exposes indexing and codebase chat over the Model
// Context Protocol on stdio.
//
// Four tools are registered:
//
//	index_codebase
//	    Walk a project root, summarize new or changed files, and
//	    refresh the index. Unchanged files are skipped by content
//	    fingerprint. By default, records for files that vanished from
//	    disk are swept.
//
//	ask_codebase
//	    Answer a question grounded in the most relevant indexed file
//	    summaries. Accepts an optional session_id to continue a
//	    conversation; the reply carries the session id so follow-up
//	    questions share history.
//
//	get_status
//	    Report index counts (total, indexed, failed, pending), token
//	    totals, session count, and database size.
//
//	get_history
//	    Return the full turn log of one session in order.
//
// Tool results are JSON rendered as text content. Failures use
// JSON-RPC error codes: -32602 invalid params, -32001 unknown session,
// -32002 no relevant context, -32003 budget exceeded, -32004 model
// service failure, -32603 everything else.
//
// Nothing may write to stdout except the protocol layer; logging goes
// to stderr.
package mcp
