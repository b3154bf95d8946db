package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repochat/internal/llm"
	"repochat/internal/storage"
	"repochat/pkg/types"
)

// mockClient implements llm.Client for testing
type mockClient struct {
	mu        sync.Mutex
	calls     int
	inFlight  int32
	maxSeen   int32
	failPaths map[string]error
}

func newMockClient() *mockClient {
	return &mockClient{failPaths: make(map[string]error)}
}

func (m *mockClient) Summarize(ctx context.Context, req llm.SummarizeRequest) (string, error) {
	cur := atomic.AddInt32(&m.inFlight, 1)
	defer atomic.AddInt32(&m.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&m.maxSeen)
		if cur <= seen || atomic.CompareAndSwapInt32(&m.maxSeen, seen, cur) {
			break
		}
	}

	m.mu.Lock()
	m.calls++
	err := m.failPaths[req.Path]
	m.mu.Unlock()

	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Summary of %s (%s).", req.Path, req.Language), nil
}

func (m *mockClient) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	return "mock reply", nil
}

func (m *mockClient) Model() string { return "mock-model" }
func (m *mockClient) Close() error  { return nil }

func (m *mockClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func setupTest(t *testing.T) (*Indexer, storage.Store, *mockClient, string) {
	t.Helper()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err, "Failed to create test store")
	t.Cleanup(func() { _ = store.Close() })

	client := newMockClient()
	root := t.TempDir()
	return New(store, client), store, client, root
}

func writeFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(relPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRun_IndexesDiscoveredFiles(t *testing.T) {
	idx, store, _, root := setupTest(t)

	writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, root, "lib/parse.rs", "fn parse() {}\n")
	writeFile(t, root, "README.txt", "not indexed\n")

	report, err := idx.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Discovered)
	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 0, report.Failed)

	rec, err := store.GetFileRecord(context.Background(), "lib/parse.rs")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusIndexed, rec.Status)
	assert.Equal(t, "Rust", rec.Language)
	assert.NotEmpty(t, rec.Summary)
	assert.NotEmpty(t, rec.Fingerprint)
}

func TestRun_SecondRunSkipsUnchanged(t *testing.T) {
	idx, _, client, root := setupTest(t)

	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.go", "package b\n")

	_, err := idx.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)
	require.Equal(t, 2, client.callCount())

	report, err := idx.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 0, report.Indexed)
	assert.Equal(t, 2, client.callCount(), "unchanged files must not be summarized again")
}

func TestRun_ChangedFileIsReindexed(t *testing.T) {
	idx, store, client, root := setupTest(t)

	writeFile(t, root, "a.go", "package a\n")
	_, err := idx.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)

	writeFile(t, root, "a.go", "package a\n\nfunc Changed() {}\n")
	report, err := idx.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Indexed)
	assert.Equal(t, 2, client.callCount())

	rec, err := store.GetFileRecord(context.Background(), "a.go")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusIndexed, rec.Status)
}

func TestRun_FailureDoesNotAbortRun(t *testing.T) {
	idx, store, client, root := setupTest(t)

	writeFile(t, root, "good.go", "package good\n")
	writeFile(t, root, "bad.go", "package bad\n")
	client.failPaths["bad.go"] = types.E(types.KindServicePermanent, "model rejected input", nil)

	report, err := idx.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Indexed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0], "bad.go")

	rec, err := store.GetFileRecord(context.Background(), "bad.go")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, rec.Status)
	assert.NotEmpty(t, rec.FailReason)
	assert.Equal(t, "package bad\n", rec.Summary, "failed record keeps a content preview")

	good, err := store.GetFileRecord(context.Background(), "good.go")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusIndexed, good.Status)
}

func TestRun_FailedFileRetriedNextRun(t *testing.T) {
	idx, store, client, root := setupTest(t)

	writeFile(t, root, "flaky.go", "package flaky\n")
	client.failPaths["flaky.go"] = types.E(types.KindServiceTransient, "service unavailable", nil)

	_, err := idx.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)

	client.mu.Lock()
	delete(client.failPaths, "flaky.go")
	client.mu.Unlock()

	report, err := idx.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Indexed, "failed records are retried even when content is unchanged")

	rec, err := store.GetFileRecord(context.Background(), "flaky.go")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusIndexed, rec.Status)
	assert.Empty(t, rec.FailReason)
}

func TestRun_ConcurrencyBounded(t *testing.T) {
	idx, _, client, root := setupTest(t)

	for i := 0; i < 12; i++ {
		writeFile(t, root, fmt.Sprintf("f%02d.go", i), fmt.Sprintf("package f%02d\n", i))
	}

	_, err := idx.Run(context.Background(), Options{Root: root, Concurrency: 3})
	require.NoError(t, err)

	assert.LessOrEqual(t, atomic.LoadInt32(&client.maxSeen), int32(3))
}

func TestRun_SweepRemovesVanishedFiles(t *testing.T) {
	idx, store, _, root := setupTest(t)

	writeFile(t, root, "keep.go", "package keep\n")
	writeFile(t, root, "gone.go", "package gone\n")

	_, err := idx.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "gone.go")))

	report, err := idx.Run(context.Background(), Options{Root: root, SweepMissing: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Swept)

	_, err = store.GetFileRecord(context.Background(), "gone.go")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	_, err = store.GetFileRecord(context.Background(), "keep.go")
	assert.NoError(t, err)
}

func TestRun_SweepKeepsFilteredOutFilesOnDisk(t *testing.T) {
	idx, store, _, root := setupTest(t)

	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.rs", "fn b() {}\n")

	_, err := idx.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)

	// Narrowed run: b.rs is outside the extension filter but still on
	// disk, so it must survive the sweep.
	report, err := idx.Run(context.Background(), Options{
		Root:         root,
		Extensions:   []string{".go"},
		SweepMissing: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Swept)

	rec, err := store.GetFileRecord(context.Background(), "b.rs")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusIndexed, rec.Status)

	// Once the file is actually gone, the same narrowed run removes it.
	require.NoError(t, os.Remove(filepath.Join(root, "b.rs")))

	report, err = idx.Run(context.Background(), Options{
		Root:         root,
		Extensions:   []string{".go"},
		SweepMissing: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Swept)

	_, err = store.GetFileRecord(context.Background(), "b.rs")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestRun_NoSweepByDefault(t *testing.T) {
	idx, store, _, root := setupTest(t)

	writeFile(t, root, "gone.go", "package gone\n")
	_, err := idx.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "gone.go")))

	report, err := idx.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Swept)

	_, err = store.GetFileRecord(context.Background(), "gone.go")
	assert.NoError(t, err, "records survive without an explicit sweep")
}

func TestRun_ExtensionFilter(t *testing.T) {
	idx, _, _, root := setupTest(t)

	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.rs", "fn b() {}\n")

	report, err := idx.Run(context.Background(), Options{Root: root, Extensions: []string{".go"}})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Discovered)
	assert.Equal(t, 1, report.Indexed)
}

func TestRun_MissingRoot(t *testing.T) {
	idx, _, _, _ := setupTest(t)

	_, err := idx.Run(context.Background(), Options{Root: "/nonexistent/path/xyz"})
	require.Error(t, err)
	assert.Equal(t, types.KindIO, types.KindOf(err))
}

func TestRun_CancelledContext(t *testing.T) {
	idx, _, _, root := setupTest(t)

	writeFile(t, root, "a.go", "package a\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.Run(ctx, Options{Root: root})
	require.Error(t, err)
}

func TestDiscoverFiles_SkipsHiddenAndIgnoredDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.go", "package main\n")
	writeFile(t, root, ".git/config.go", "package git\n")
	writeFile(t, root, "vendor/dep.go", "package dep\n")
	writeFile(t, root, "node_modules/x.js", "var x\n")
	writeFile(t, root, "custom/skip.go", "package skip\n")

	files, err := discoverFiles(root, Options{IgnoreDirs: []string{"custom"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"src/main.go"}, files)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "Go", DetectLanguage("cmd/main.go"))
	assert.Equal(t, "Rust", DetectLanguage("src/lib.rs"))
	assert.Equal(t, "TypeScript", DetectLanguage("app/index.TSX"))
	assert.Equal(t, "source", DetectLanguage("Makefile"))
}
