// Package indexer walks a codebase and maintains per-file summary
// records in the store.
//
// A run discovers files by extension, compares content fingerprints
// against existing records, and only summarizes files that are new,
// changed, or previously failed. Summarization calls run concurrently
// under a bounded worker pool; a failure on one file is recorded and
// does not abort the run. An optional sweep removes records for files
// that have vanished from disk.
package indexer
