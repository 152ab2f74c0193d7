package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"imovel-scraper/models"
	"imovel-scraper/queue"
	"imovel-scraper/scraper/caixa"
	"imovel-scraper/utils"
)

// ScrapeOne runs the listing workflow for a single code and wraps the
// result in a run summary. A failed listing is handed to the queue for
// its remaining attempts.
func (o *Orchestrator) ScrapeOne(ctx context.Context, code string, opts Options) (*models.RunSummary, *Result) {
	res := o.ScrapeListing(ctx, code, opts)
	summary := &models.RunSummary{Mode: "single", Total: 1}
	o.tally(ctx, summary, res, opts.Priority)
	return summary, res
}

// RunCatalog is the catalog workflow: download the feed, check its
// structure, upsert the catalog and scrape every new or stale listing.
// With force every listing in the feed is scraped.
func (o *Orchestrator) RunCatalog(ctx context.Context, force bool) (*models.RunSummary, error) {
	mode := models.RunModeCatalog
	if force {
		mode = models.RunModeFull
	}

	page, err := o.fetch(ctx, o.FeedURL())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: download feed: %w", err)
	}
	feed, err := caixa.ParseFeed(page.Body)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: parse feed: %w", err)
	}
	o.logger.Info("[orchestrator] feed: %d listings, %d rows skipped (%s)", len(feed.Rows), feed.Skipped, feed.Encoding)

	if drift, err := o.detector.DetectFeed(ctx, feed); err != nil {
		o.logger.Warn("[orchestrator] feed structure check: %v", err)
	} else if drift.Changed {
		o.logger.Warn("[orchestrator] feed structure changed: severity=%s", drift.Severity)
	}

	listings := make([]models.ListingRecord, len(feed.Rows))
	for i, r := range feed.Rows {
		listings[i] = r.Listing()
	}
	inserted, err := o.store.UpsertCatalog(ctx, listings)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: upsert catalog: %w", err)
	}
	o.logger.Info("[orchestrator] catalog upserted: %d new of %d", inserted, len(listings))

	codes := feed.Codes()
	if !force {
		codes, err = o.newOrStale(ctx, codes)
		if err != nil {
			return nil, err
		}
	}
	return o.runBatch(ctx, mode, codes, Options{Force: force})
}

// newOrStale keeps the codes never scraped or scraped before the stale
// cutoff, minus those another worker just handled.
func (o *Orchestrator) newOrStale(ctx context.Context, codes []string) ([]string, error) {
	known, err := o.store.KnownCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: known codes: %w", err)
	}
	cutoff := o.now().Add(-o.cfg.StaleAfter)

	var out []string
	for _, code := range codes {
		scraped := known[code]
		if scraped != nil && scraped.After(cutoff) {
			continue
		}
		if !o.cache.ShouldProcess(ctx, code, nil) {
			continue
		}
		out = append(out, code)
	}
	return out, nil
}

// RunDue scrapes up to limit listings that were never scraped or went stale.
func (o *Orchestrator) RunDue(ctx context.Context, limit int) (*models.RunSummary, error) {
	codes, err := o.store.Due(ctx, o.now().Add(-o.cfg.StaleAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: due listings: %w", err)
	}
	return o.runBatch(ctx, models.RunModeDue, codes, Options{})
}

// EnqueueDue queues a scrape task for up to limit due listings.
func (o *Orchestrator) EnqueueDue(ctx context.Context, limit int) (int, error) {
	if o.queue == nil {
		return 0, fmt.Errorf("orchestrator: no task queue configured")
	}
	codes, err := o.store.Due(ctx, o.now().Add(-o.cfg.StaleAfter), limit)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: due listings: %w", err)
	}
	queued := 0
	for _, code := range codes {
		t := &models.Task{Type: models.TaskScrapeListing, Code: code, Priority: models.PriorityDefault}
		if err := o.queue.Enqueue(ctx, t, 0); err != nil {
			return queued, fmt.Errorf("orchestrator: enqueue %s: %w", code, err)
		}
		queued++
	}
	return queued, nil
}

// runBatch scrapes codes on the worker pool and keeps the run audit log.
// One listing's failure never stops the others.
func (o *Orchestrator) runBatch(ctx context.Context, mode string, codes []string, opts Options) (*models.RunSummary, error) {
	codes = uniqueCodes(codes)
	run := &models.ScrapeRun{
		ID:        uuid.NewString(),
		Mode:      mode,
		StartedAt: o.now().UTC(),
		Total:     len(codes),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("orchestrator: create run: %w", err)
	}
	o.logger.Info("[orchestrator] run %s (%s): %d listings", run.ID, mode, len(codes))

	summary := &models.RunSummary{RunID: run.ID, Mode: mode, Total: len(codes)}
	var mu sync.Mutex
	pool := utils.NewWorkerPool(o.cfg.MaxConcurrency, o.cfg.RateLimitMs)
	for _, code := range codes {
		if ctx.Err() != nil {
			break
		}
		pool.Submit(func() {
			res := o.ScrapeListing(ctx, code, opts)
			mu.Lock()
			defer mu.Unlock()
			o.tally(ctx, summary, res, opts.Priority)
		})
	}
	pool.Wait()

	completed := o.now().UTC()
	run.CompletedAt = &completed
	run.Scraped = summary.Processed
	run.Errors = summary.Errors
	run.Skipped = summary.Skipped
	run.Failures = summary.Failures
	if run.Total > 0 {
		run.SuccessRate = float64(run.Scraped) / float64(run.Total) * 100
	}
	if err := o.store.CompleteRun(ctx, run); err != nil {
		o.logger.Error("[orchestrator] complete run %s: %v", run.ID, err)
	}

	o.logger.Info("[orchestrator] run %s done: scraped=%d errors=%d skipped=%d deferred=%d total=%d",
		run.ID, summary.Processed, summary.Errors, summary.Skipped, summary.Deferred, summary.Total)
	return summary, ctx.Err()
}

// uniqueCodes drops repeated codes and keeps the first occurrence order.
func uniqueCodes(codes []string) []string {
	seen := utils.NewKeySet()
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		if seen.Add(code) {
			out = append(out, code)
		}
	}
	return out
}

// tally folds res into summary and hands failures to the queue.
func (o *Orchestrator) tally(ctx context.Context, summary *models.RunSummary, res *Result, priority string) {
	switch res.Outcome {
	case OutcomeScraped:
		summary.Processed++
	case OutcomeSkipped:
		summary.Skipped++
	case OutcomeDeferred:
		summary.Deferred++
		o.requeue(ctx, res.Code, priority, 0, time.Minute)
	case OutcomeFailed:
		summary.Errors++
		summary.Failures = append(summary.Failures, models.FailureReason{Code: res.Code, Error: res.Error()})
		o.requeue(ctx, res.Code, priority, 1, queue.DefaultBackoff[0])
	}
}

// requeue schedules another attempt of code through the task queue, which
// owns the remaining retry budget.
func (o *Orchestrator) requeue(ctx context.Context, code, priority string, attempts int, delay time.Duration) {
	if o.queue == nil {
		return
	}
	t := &models.Task{Type: models.TaskScrapeListing, Code: code, Priority: priority, Attempts: attempts}
	if err := o.queue.Enqueue(ctx, t, delay); err != nil {
		o.logger.Warn("[orchestrator] %s: requeue: %v", code, err)
	}
}
