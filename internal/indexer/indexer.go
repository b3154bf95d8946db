package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"repochat/internal/fingerprint"
	"repochat/internal/llm"
	"repochat/internal/storage"
	"repochat/pkg/types"
)

// failPreviewBytes is how much raw content is kept on a failed record
// so the failure is inspectable without re-reading the file.
const failPreviewBytes = 100

// defaultIgnoreDirs are directory names skipped during discovery, on
// top of hidden directories.
var defaultIgnoreDirs = []string{".git", "vendor", "node_modules", "target", "build", "dist"}

// Indexer walks a codebase, summarizes changed files through the model
// client, and keeps the store's file records current.
type Indexer struct {
	store  storage.Store
	client llm.Client
}

// Options configures one indexing run.
type Options struct {
	Root         string   // Directory to index (required)
	Extensions   []string // File extensions to include (default: DefaultExtensions)
	Concurrency  int      // Max in-flight summarizations (default: runtime.NumCPU())
	SweepMissing bool     // Delete records for files no longer on disk
	IgnoreDirs   []string // Extra directory names to skip
}

// RunReport summarizes one indexing run.
type RunReport struct {
	Discovered int
	Skipped    int
	Indexed    int
	Failed     int
	Swept      int
	Failures   []string
	Duration   time.Duration
}

// New creates an Indexer over the given store and model client.
func New(store storage.Store, client llm.Client) *Indexer {
	return &Indexer{store: store, client: client}
}

// Run executes one full indexing pass over opts.Root. Unchanged files
// are skipped by fingerprint, changed or new files are summarized
// concurrently, and per-file failures are recorded without aborting the
// run. Cancellation stops the run without writing partial records.
func (idx *Indexer) Run(ctx context.Context, opts Options) (*RunReport, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, types.E(types.KindIO, "stat root", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	start := time.Now()

	files, err := discoverFiles(root, opts)
	if err != nil {
		return nil, types.E(types.KindIO, "discover files", err)
	}

	var (
		skipped int32
		indexed int32
		failed  int32
	)
	var mu sync.Mutex
	var failures []string

	semaphore := make(chan struct{}, concurrency)
	g, gctx := errgroup.WithContext(ctx)

	for _, relPath := range files {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			err := idx.indexFile(gctx, root, relPath, &skipped, &indexed)
			if err == nil {
				return nil
			}
			if types.IsKind(err, types.KindCancelled) || gctx.Err() != nil {
				return err
			}

			atomic.AddInt32(&failed, 1)
			mu.Lock()
			failures = append(failures, fmt.Sprintf("%s: %v", relPath, err))
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &RunReport{
		Discovered: len(files),
		Skipped:    int(skipped),
		Indexed:    int(indexed),
		Failed:     int(failed),
		Failures:   failures,
	}

	if opts.SweepMissing {
		swept, err := idx.sweep(ctx, root, files)
		if err != nil {
			return nil, err
		}
		report.Swept = swept
	}

	report.Duration = time.Since(start)
	return report, nil
}

// discoverFiles walks root and returns the relative paths of all
// indexable files, sorted by walk order. Hidden directories and the
// ignore list are skipped whole.
func discoverFiles(root string, opts Options) ([]string, error) {
	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = DefaultExtensions()
	}
	extSet := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = true
	}

	ignore := make(map[string]bool, len(defaultIgnoreDirs)+len(opts.IgnoreDirs))
	for _, dir := range defaultIgnoreDirs {
		ignore[dir] = true
	}
	for _, dir := range opts.IgnoreDirs {
		ignore[dir] = true
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || ignore[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if !extSet[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files, err
}

// indexFile processes a single file: skip when the fingerprint matches
// an indexed record, otherwise summarize and upsert. A summarization
// failure records a failed entry and is returned for the run report.
func (idx *Indexer) indexFile(ctx context.Context, root, relPath string, skipped, indexed *int32) error {
	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		return types.E(types.KindIO, "read file", err)
	}

	fp := fingerprint.Compute(content)

	existing, err := idx.store.GetFileRecord(ctx, relPath)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if !fingerprint.NeedsReindex(existing, fp) {
		atomic.AddInt32(skipped, 1)
		return nil
	}

	language := DetectLanguage(relPath)
	now := time.Now()
	rec := &storage.FileRecord{
		Path:          relPath,
		Fingerprint:   string(fp),
		Language:      language,
		SizeBytes:     int64(len(content)),
		TokenEstimate: types.EstimateTokens(string(content)),
		LastIndexedAt: now,
	}

	summary, err := idx.client.Summarize(ctx, llm.SummarizeRequest{
		Path:     relPath,
		Language: language,
		Content:  string(content),
	})
	if err != nil {
		if types.IsKind(err, types.KindCancelled) || ctx.Err() != nil {
			return err
		}
		rec.Status = storage.StatusFailed
		rec.FailReason = err.Error()
		rec.Summary = contentPreview(content)
		if upsertErr := idx.store.UpsertFileRecord(ctx, rec); upsertErr != nil {
			return fmt.Errorf("record failure: %w (original: %v)", upsertErr, err)
		}
		return err
	}

	rec.Status = storage.StatusIndexed
	rec.Summary = summary
	if err := idx.store.UpsertFileRecord(ctx, rec); err != nil {
		return err
	}

	atomic.AddInt32(indexed, 1)
	return nil
}

// sweep deletes records whose file no longer exists under root. A
// record outside this run's discovery set (narrowed extensions, ignored
// dirs) is kept as long as its file is still on disk.
func (idx *Indexer) sweep(ctx context.Context, root string, discovered []string) (int, error) {
	seen := make(map[string]bool, len(discovered))
	for _, path := range discovered {
		seen[path] = true
	}

	snapshot, err := idx.store.Snapshot(ctx)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, rec := range snapshot.Records {
		if seen[rec.Path] {
			continue
		}
		_, statErr := os.Stat(filepath.Join(root, filepath.FromSlash(rec.Path)))
		if statErr == nil {
			continue
		}
		if !errors.Is(statErr, fs.ErrNotExist) {
			return swept, types.E(types.KindIO, "stat swept candidate", statErr)
		}
		if err := idx.store.DeleteFileRecord(ctx, rec.Path); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// contentPreview returns the first failPreviewBytes of content, cut at
// a valid byte boundary, for storing with a failed record.
func contentPreview(content []byte) string {
	if len(content) <= failPreviewBytes {
		return string(content)
	}
	return string(content[:failPreviewBytes])
}
