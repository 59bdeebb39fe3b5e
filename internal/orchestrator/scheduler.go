package orchestrator

import (
	"context"
	"sync"
)

// DefaultWorkers bounds concurrent extractions when the caller does not.
const DefaultWorkers = 3

// BatchItem is one document in a batch submission.
type BatchItem struct {
	Document string
	Path     string
	DPI      int
}

// ProcessBatch runs the pipelines for a batch of documents with a fixed
// worker budget, reporting each result through onResult as it completes
// (serialized; completion order is not submission order). Per-document state
// is keyed by document identity, so items in one batch cannot interfere with
// each other. Returns all results once the batch has drained.
func (p *Processor) ProcessBatch(ctx context.Context, items []BatchItem, workers int, onResult func(Result)) []Result {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > len(items) {
		workers = len(items)
	}
	if len(items) == 0 {
		return nil
	}

	jobs := make(chan BatchItem)
	resultCh := make(chan Result)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each item arrives by value; workers share no per-document state.
			for item := range jobs {
				resultCh <- p.Process(ctx, item.Document, item.Path, item.DPI, nil)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, item := range items {
			select {
			case jobs <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]Result, 0, len(items))
	for res := range resultCh {
		if onResult != nil {
			onResult(res)
		}
		results = append(results, res)
	}
	return results
}
