package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/docask/internal/parser"
	"github.com/dgallion1/docask/internal/store"
	"github.com/dgallion1/docask/internal/telemetry"
)

// Worker processes a single document job.
type Worker struct {
	store   store.Store
	log     *slog.Logger
	metrics *telemetry.Metrics

	pdfFallback bool
	retries     int
	backoff     func(attempt int) time.Duration
}

func NewWorker(st store.Store, log *slog.Logger, metrics *telemetry.Metrics, pdfFallback bool, retries int) *Worker {
	if retries <= 0 {
		retries = MaxRetries
	}
	return &Worker{
		store:       st,
		log:         log,
		metrics:     metrics,
		pdfFallback: pdfFallback,
		retries:     retries,
		backoff:     Backoff,
	}
}

// Process parses the upload, checks for an existing copy and stores the
// document.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID, "user_id", job.UserID)
	defer job.releaseFileData()

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	p, err := parser.ForFile(job.Filename)
	if err != nil {
		log.Error("unsupported format", "error", err)
		w.fail(job, "parsing", err.Error())
		return
	}
	if pdf, ok := p.(*parser.PDFParser); ok {
		pdf.FallbackPdftotext = w.pdfFallback
	}

	doc, err := p.Parse(bytes.NewReader(job.FileData()), job.Filename)
	if err != nil {
		log.Error("parse failed", "error", err)
		w.fail(job, "parsing", fmt.Sprintf("parse: %s", err))
		return
	}
	if len(doc.Blocks) == 0 {
		log.Warn("no text extracted")
		w.fail(job, "parsing", "no extractable content")
		return
	}
	doc.ID = job.DocID
	doc.Hash = job.ContentHash
	doc.Source = job.Filename
	if job.Title != "" {
		doc.Title = job.Title
	}
	job.SetParsed(doc.Title, len(doc.SectionLabels()), len(doc.Blocks), len(doc.Refs))
	log.Info("parsed document", "blocks", len(doc.Blocks), "refs", len(doc.Refs), "bytes", doc.Len())

	// Phase 2: Dedup check. A concurrent upload of the same file may have
	// landed since the API checked.
	existing, err := w.store.FindByHash(ctx, job.UserID, job.ContentHash)
	switch {
	case err == nil:
		log.Info("duplicate document, skipping", "existing_doc_id", existing)
		job.SetDocID(existing)
		w.finish(job, StatusDuplicate, "dedup")
		return
	case !errors.Is(err, store.ErrNotFound):
		log.Warn("dedup check failed, proceeding", "error", err)
	}

	// Phase 3: Store.
	job.SetStatus(StatusStoring, "storing")
	rec := &store.Record{
		Document:  doc,
		Owner:     job.UserID,
		Filename:  job.Filename,
		CreatedAt: job.CreatedAt,
	}
	if err := w.withRetry(ctx, log, func() error { return w.store.Put(ctx, rec) }); err != nil {
		log.Error("store failed", "error", err)
		w.fail(job, "storing", fmt.Sprintf("store: %s", err))
		return
	}

	log.Info("document stored")
	w.finish(job, StatusCompleted, "done")
}

func (w *Worker) withRetry(ctx context.Context, log *slog.Logger, fn func() error) error {
	var lastErr error
	for attempt := range w.retries {
		lastErr = fn()
		if lastErr == nil || !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == w.retries-1 {
			break
		}
		log.Warn("retryable store error", "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(w.backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (w *Worker) fail(job *Job, phase, msg string) {
	job.AddError(msg)
	w.finish(job, StatusFailed, phase)
}

func (w *Worker) finish(job *Job, status JobStatus, phase string) {
	job.SetStatus(status, phase)
	w.metrics.ObserveIngest(string(status))
}
