package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mushrhyme/rebate/constants"
	"github.com/mushrhyme/rebate/internal/common"
	"github.com/mushrhyme/rebate/internal/extract"
	"github.com/mushrhyme/rebate/internal/registry"
	"github.com/mushrhyme/rebate/internal/repository"
)

// Result is the per-document outcome of one processing attempt.
type Result struct {
	Document string
	Success  bool
	Pages    int
	Err      string
	Elapsed  time.Duration
}

// Processor runs one document through the full pipeline: register the job,
// extract, persist the results as the new latest session, deregister. The
// registry holds an entry only while work is actually in flight; completion
// is signaled by the entry's absence, and downstream consumers check the
// store directly.
type Processor struct {
	log       *slog.Logger
	registry  *registry.Registry
	store     *repository.VersionedStore
	extractor extract.Extractor
	source    string
}

func NewProcessor(log *slog.Logger, reg *registry.Registry, store *repository.VersionedStore, extractor extract.Extractor, source string) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if source == "" {
		source = "session"
	}
	return &Processor{
		log:       log,
		registry:  reg,
		store:     store,
		extractor: extractor,
		source:    source,
	}
}

// Process runs the state machine for one document.
//
//	Queued → Registering → Extracting → Persisting → Done
//	                     ↘ Failed (extraction or persistence error)
//
// Failed runs record the error in the registry, then remove the entry, so a
// failed document is immediately re-submittable. Only a registry write
// failure leaves the entry behind — job tracking itself is broken then, and
// the attempt aborts before any extraction work.
func (p *Processor) Process(ctx context.Context, document, path string, dpi int, progress extract.ProgressFunc) Result {
	start := time.Now()
	runID := uuid.New().String()
	log := p.log.With("run_id", runID, "document", document)

	// Registering
	if _, err := p.registry.Ensure(document, registry.Record{Source: p.source}); err != nil {
		log.Error("orchestrator.register.failed", "error", err)
		return Result{Document: document, Err: err.Error(), Elapsed: time.Since(start)}
	}
	processing := constants.JobStatusProcessing
	zero := 0
	if _, err := p.registry.Update(document, registry.Mutation{
		Status:   &processing,
		Pages:    &zero,
		ClearErr: true,
	}); err != nil {
		log.Error("orchestrator.register.failed", "error", err)
		return Result{Document: document, Err: err.Error(), Elapsed: time.Since(start)}
	}

	// Extracting. Page progress doubles as the registry heartbeat.
	heartbeat := func(page, total int, message string) {
		if _, err := p.registry.Update(document, registry.Mutation{Pages: &page}); err != nil {
			log.Warn("orchestrator.heartbeat.failed", "page", page, "error", err)
		}
		if progress != nil {
			progress(page, total, message)
		}
	}
	pages, images, err := p.extractor.Extract(ctx, extract.Request{
		Document: document,
		Path:     path,
		DPI:      dpi,
		Progress: heartbeat,
	})
	if err != nil {
		log.Error("orchestrator.extract.failed", "error", err)
		p.fail(document, err, log)
		return Result{Document: document, Err: err.Error(), Elapsed: time.Since(start)}
	}
	if len(pages) == 0 {
		err := &extract.Error{Page: -1, Reason: "empty extraction result"}
		p.fail(document, err, log)
		return Result{Document: document, Err: err.Error(), Elapsed: time.Since(start)}
	}
	log.Info("orchestrator.extract.ok", "pages", len(pages))

	// Persisting
	sessionID, err := p.store.Save(ctx, repository.SaveRequest{
		PDFFilename: document + ".pdf",
		Pages:       pages,
		Images:      images,
		Notes:       "vision analysis",
	})
	if err != nil {
		perr := &common.PersistenceError{Document: document, Cause: err}
		log.Error("orchestrator.persist.failed", "error", perr)
		p.fail(document, perr, log)
		return Result{Document: document, Err: perr.Error(), Elapsed: time.Since(start)}
	}
	log.Info("orchestrator.persist.ok", "session_id", sessionID, "pages", len(pages))

	// Done: the job's absence is the completion signal.
	if err := p.registry.Remove(document); err != nil {
		log.Error("orchestrator.deregister.failed", "error", err)
		return Result{Document: document, Pages: len(pages), Err: err.Error(), Elapsed: time.Since(start)}
	}

	return Result{Document: document, Success: true, Pages: len(pages), Elapsed: time.Since(start)}
}

// fail records the error on the registry entry, then removes it. A transient
// reader mid-failure observes an error status rather than a silently
// vanishing job; afterwards the document is free to re-submit.
func (p *Processor) fail(document string, cause error, log *slog.Logger) {
	msg := cause.Error()
	status := constants.JobStatusError
	if _, err := p.registry.Update(document, registry.Mutation{Status: &status, Err: &msg}); err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			log.Warn("orchestrator.fail.update_failed", "error", err)
		}
	}
	if err := p.registry.Remove(document); err != nil {
		log.Warn("orchestrator.fail.remove_failed", "error", err)
	}
}
