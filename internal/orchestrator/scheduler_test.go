package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mushrhyme/rebate/internal/registry"
)

func batchOf(n int) []BatchItem {
	items := make([]BatchItem, n)
	for i := range items {
		name := fmt.Sprintf("doc-%02d", i)
		items[i] = BatchItem{Document: name, Path: "/tmp/" + name + ".pdf", DPI: 300}
	}
	return items
}

func TestProcessBatchDrainsAllItems(t *testing.T) {
	ext := &fakeExtractor{pages: singlePage()}
	proc, reg, store := newTestHarness(t, ext)

	var streamed []string
	results := proc.ProcessBatch(context.Background(), batchOf(8), 3, func(r Result) {
		streamed = append(streamed, r.Document)
	})

	require.Len(t, results, 8)
	assert.Len(t, streamed, 8)
	for _, res := range results {
		assert.True(t, res.Success, "document %s: %s", res.Document, res.Err)
	}

	// Every document got its own latest session and no registry entry remains.
	docs, err := store.DistinctDocuments(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, docs, 8)
	recs, err := reg.List(registry.Filter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestProcessBatchBoundsConcurrency(t *testing.T) {
	ext := &fakeExtractor{pages: singlePage(), delay: 20 * time.Millisecond}
	proc, _, _ := newTestHarness(t, ext)

	const workers = 2
	results := proc.ProcessBatch(context.Background(), batchOf(6), workers, nil)
	require.Len(t, results, 6)

	ext.mu.Lock()
	defer ext.mu.Unlock()
	assert.LessOrEqual(t, ext.maxInFlight, workers)
	assert.Len(t, ext.calls, 6)
}

func TestProcessBatchClampsWorkerCount(t *testing.T) {
	ext := &fakeExtractor{pages: singlePage(), delay: 10 * time.Millisecond}
	proc, _, _ := newTestHarness(t, ext)

	// More workers than items never over-schedules.
	results := proc.ProcessBatch(context.Background(), batchOf(2), 50, nil)
	require.Len(t, results, 2)
	ext.mu.Lock()
	defer ext.mu.Unlock()
	assert.LessOrEqual(t, ext.maxInFlight, 2)
}

func TestProcessBatchEmpty(t *testing.T) {
	ext := &fakeExtractor{pages: singlePage()}
	proc, _, _ := newTestHarness(t, ext)
	assert.Nil(t, proc.ProcessBatch(context.Background(), nil, 3, nil))
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	ext := &fakeExtractor{pages: singlePage()}
	proc, reg, store := newTestHarness(t, ext)

	// Serial workers make the failure window deterministic: fail the third
	// document only.
	ext.failFor = "doc-02"
	results := proc.ProcessBatch(context.Background(), batchOf(5), 1, nil)
	require.Len(t, results, 5)

	failed := 0
	for _, res := range results {
		if res.Document == "doc-02" {
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Err)
			failed++
			continue
		}
		assert.True(t, res.Success, "document %s: %s", res.Document, res.Err)
	}
	assert.Equal(t, 1, failed)

	docs, err := store.DistinctDocuments(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, docs, 4)

	_, ok, err := reg.Get("doc-02")
	require.NoError(t, err)
	assert.False(t, ok)
}
