package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mushrhyme/rebate/constants"
	"github.com/mushrhyme/rebate/internal/extract"
	"github.com/mushrhyme/rebate/internal/registry"
	"github.com/mushrhyme/rebate/internal/repository"
)

// fakeExtractor stands in for the vision pipeline. It drives the progress
// callback like the real extractor and records call concurrency.
type fakeExtractor struct {
	pages   []extract.PageResult
	images  [][]byte
	err     error
	failFor string // document name that fails even when err is nil
	delay   time.Duration

	mu          sync.Mutex
	calls       []string
	inFlight    int
	maxInFlight int
}

func (f *fakeExtractor) Extract(ctx context.Context, req extract.Request) ([]extract.PageResult, [][]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Document)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	if f.failFor != "" && req.Document == f.failFor {
		return nil, nil, &extract.Error{Page: 1, Reason: "unreadable page"}
	}
	for i := range f.pages {
		if req.Progress != nil {
			req.Progress(i+1, len(f.pages), "processed")
		}
	}
	return f.pages, f.images, nil
}

func singlePage() []extract.PageResult {
	return []extract.PageResult{{
		PageRole: "main",
		Issuer:   "山田商事株式会社",
		Items: []extract.Item{
			{ManagementID: "A-001", ProductName: "りんごジュース", Quantity: "10", Amount: "9,841"},
		},
	}}
}

func newTestHarness(t *testing.T, ext extract.Extractor) (*Processor, *registry.Registry, *repository.VersionedStore) {
	t.Helper()
	reg := registry.New(filepath.Join(t.TempDir(), "pdf_registry.json"), nil)
	db, err := repository.OpenLite(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	store := repository.NewVersionedStore(db, nil)
	return NewProcessor(nil, reg, store, ext, "batch"), reg, store
}

func TestProcessSuccess(t *testing.T) {
	ext := &fakeExtractor{pages: singlePage(), images: [][]byte{[]byte("jpeg")}}
	proc, reg, store := newTestHarness(t, ext)
	ctx := context.Background()

	var sawProcessing bool
	progress := func(page, total int, _ string) {
		rec, ok, err := reg.Get("INV001")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, constants.JobStatusProcessing, rec.Status)
		assert.Equal(t, page, rec.Pages)
		sawProcessing = true
	}

	res := proc.Process(ctx, "INV001", "/tmp/INV001.pdf", 300, progress)
	require.True(t, res.Success, "unexpected failure: %s", res.Err)
	assert.Equal(t, 1, res.Pages)
	assert.Empty(t, res.Err)
	assert.True(t, sawProcessing)

	// Completion is signaled by the registry entry's absence.
	_, ok, err := reg.Get("INV001")
	require.NoError(t, err)
	assert.False(t, ok)

	// The run became the latest session in the store.
	has, err := store.HasDocument(ctx, "INV001.pdf", true)
	require.NoError(t, err)
	assert.True(t, has)
	rows, err := store.GetResults(ctx, "INV001.pdf", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestProcessExtractionFailure(t *testing.T) {
	ext := &fakeExtractor{err: &extract.Error{Page: 2, Reason: "invalid payload"}}
	proc, reg, store := newTestHarness(t, ext)
	ctx := context.Background()

	res := proc.Process(ctx, "INV001", "/tmp/INV001.pdf", 300, nil)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Err)

	// Failed runs leave no registry entry and no store rows.
	_, ok, err := reg.Get("INV001")
	require.NoError(t, err)
	assert.False(t, ok)
	has, err := store.HasDocument(ctx, "INV001.pdf", false)
	require.NoError(t, err)
	assert.False(t, has)

	// The document is immediately re-submittable.
	ext.err = nil
	ext.pages = singlePage()
	res = proc.Process(ctx, "INV001", "/tmp/INV001.pdf", 300, nil)
	assert.True(t, res.Success)
}

func TestProcessEmptyExtraction(t *testing.T) {
	ext := &fakeExtractor{} // no pages, no error
	proc, reg, store := newTestHarness(t, ext)

	res := proc.Process(context.Background(), "INV001", "/tmp/INV001.pdf", 300, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Err, "empty extraction result")

	_, ok, err := reg.Get("INV001")
	require.NoError(t, err)
	assert.False(t, ok)
	has, err := store.HasDocument(context.Background(), "INV001.pdf", false)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestProcessPersistenceFailure(t *testing.T) {
	ext := &fakeExtractor{pages: singlePage()}
	_, reg, _ := newTestHarness(t, ext)
	ctx := context.Background()

	// Break the items table so the save transaction cannot commit.
	brokenDB, err := repository.OpenLite(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(brokenDB))
	require.NoError(t, brokenDB.Exec("DROP TABLE items").Error)
	brokenStore := repository.NewVersionedStore(brokenDB, nil)
	proc := NewProcessor(nil, reg, brokenStore, ext, "batch")

	res := proc.Process(ctx, "INV001", "/tmp/INV001.pdf", 300, nil)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Err)

	// No partial session is visible and the registry entry is reclaimed.
	has, err := brokenStore.HasDocument(ctx, "INV001.pdf", false)
	require.NoError(t, err)
	assert.False(t, has)
	_, ok, err := reg.Get("INV001")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessReportsElapsed(t *testing.T) {
	ext := &fakeExtractor{pages: singlePage(), delay: 10 * time.Millisecond}
	proc, _, _ := newTestHarness(t, ext)

	res := proc.Process(context.Background(), "INV001", "/tmp/INV001.pdf", 300, nil)
	require.True(t, res.Success)
	assert.GreaterOrEqual(t, res.Elapsed, 10*time.Millisecond)
}

func TestProcessCancelledContext(t *testing.T) {
	ext := &fakeExtractor{pages: singlePage(), delay: time.Second}
	proc, reg, _ := newTestHarness(t, ext)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := proc.Process(ctx, "INV001", "/tmp/INV001.pdf", 300, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Err, context.Canceled.Error())

	_, ok, err := reg.Get("INV001")
	require.NoError(t, err)
	assert.False(t, ok)
}
