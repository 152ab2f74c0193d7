package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"imovel-scraper/cache"
	"imovel-scraper/detector"
	"imovel-scraper/models"
	"imovel-scraper/scraper/caixa"
	"imovel-scraper/storage"
)

// Outcome of one listing workflow.
type Outcome string

const (
	OutcomeScraped  Outcome = "scraped"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeDeferred Outcome = "deferred"
	OutcomeFailed   Outcome = "failed"
)

// Skip reasons.
const (
	SkipFresh           = "scraped_recently"
	SkipTooManyAttempts = "too_many_recent_attempts"
)

// Confidence of a persisted extraction.
const (
	confidenceStandard = 1.0
	confidenceAI       = 0.8
	confidencePartial  = 0.5
)

// Delays of the analysis tasks dispatched after a successful scrape.
const (
	geocodeDelay    = time.Minute
	investmentDelay = 2 * time.Minute
	marketDelay     = 5 * time.Minute
)

// Options tune one run of the listing workflow.
type Options struct {
	// Force bypasses the skip policy.
	Force bool
	// Priority is the task priority the listing was scheduled with.
	Priority string
}

// Result is the outcome of one listing workflow.
type Result struct {
	Code       string                `json:"code"`
	Outcome    Outcome               `json:"outcome"`
	SkipReason string                `json:"skip_reason,omitempty"`
	Record     *models.ListingRecord `json:"record,omitempty"`
	UsedAI     bool                  `json:"used_ai"`
	Gaps       []string              `json:"gaps,omitempty"`
	Drift      *detector.Result      `json:"drift,omitempty"`
	Err        error                 `json:"-"`
}

// Error returns the failure text, if any.
func (r *Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ScrapeListing runs the listing workflow: skip policy, rate gate, fetch,
// extraction with AI fallback, validation, persistence and dispatch of the
// dependent analyses. Failures are recorded on the listing and returned in
// the result; they never panic or abort a caller's batch.
func (o *Orchestrator) ScrapeListing(ctx context.Context, code string, opts Options) *Result {
	res := &Result{Code: code}
	now := o.now().UTC()

	rec, err := o.store.Listing(ctx, code)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rec = nil
	case err != nil:
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("orchestrator: load %s: %w", code, err)
		o.count("failed")
		return res
	}

	if !opts.Force {
		if reason := o.skipReason(rec, now); reason != "" {
			o.logger.Debug("[orchestrator] %s skipped: %s", code, reason)
			res.Outcome, res.SkipReason = OutcomeSkipped, reason
			o.count("skipped")
			return res
		}
	}

	if !o.gate.Allow(ctx, cache.ServiceScraping, gateIdentifier) {
		o.logger.Warn("[orchestrator] %s deferred: scraping rate limit reached", code)
		res.Outcome, res.Err = OutcomeDeferred, caixa.ErrRateLimited
		o.count("deferred")
		return res
	}

	if _, err := o.store.BeginAttempt(ctx, code, now); err != nil {
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("orchestrator: begin attempt %s: %w", code, err)
		o.count("failed")
		return res
	}

	url := o.DetailURL(code)
	page, err := o.fetch(ctx, url)
	if err != nil {
		return o.fail(ctx, res, err)
	}
	html, err := page.HTML()
	if err != nil {
		return o.fail(ctx, res, err)
	}

	var (
		p        models.PartialRecord
		complete bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		drift, err := o.detector.DetectPage(gctx, url, html)
		if err != nil {
			o.logger.Warn("[orchestrator] %s: structure check: %v", code, err)
			return nil
		}
		res.Drift = drift
		return nil
	})
	g.Go(func() error {
		p, complete = o.extract(gctx, url, html)
		return nil
	})
	_ = g.Wait()

	if !complete && o.ai != nil {
		o.logger.Info("[orchestrator] %s: missing %v, trying AI fallback", code, p.Missing())
		aiRec := o.ai.ExtractWithAI(ctx, html, code)
		res.UsedAI = !aiRec.Empty()
		p.FillMissing(aiRec)
	}

	o.cleaner.Clean(code, &p)

	out := models.ListingRecord{Code: code}
	if rec != nil {
		out = *rec
	}
	out.Apply(p)
	out.Source = models.SourceScrape
	out.Confidence = confidenceFor(complete, p.Complete())
	out.ScrapedAt = &now
	out.LastScrapeError = nil
	out.FailedAt = nil
	if out.ScrapeStatus != "" {
		out.ScrapeStatus = models.StatusActive
	}
	if err := o.store.SaveScrape(ctx, &out); err != nil {
		return o.fail(ctx, res, err)
	}
	res.Record = &out

	res.Gaps = p.Missing()
	o.recordGaps(ctx, code, res.Gaps, now)
	o.cache.MarkProcessed(ctx, code)
	o.dispatchAnalyses(ctx, &out)

	o.logger.Info("[orchestrator] %s scraped (confidence %.1f, ai=%t, gaps=%d)",
		code, out.Confidence, res.UsedAI, len(res.Gaps))
	res.Outcome = OutcomeScraped
	o.count("success")
	return res
}

// skipReason applies the skip policy: recently scraped listings and
// listings with too many recent attempts are left alone.
func (o *Orchestrator) skipReason(rec *models.ListingRecord, now time.Time) string {
	if rec == nil {
		return ""
	}
	if rec.ScrapedAt != nil && now.Sub(*rec.ScrapedAt) < o.cfg.ScrapeFreshness {
		return SkipFresh
	}
	if rec.ScrapeAttempts > o.cfg.FailedAttemptLimit && rec.LastAttemptAt != nil &&
		now.Sub(*rec.LastAttemptAt) < o.cfg.FailedAttemptWindow {
		return SkipTooManyAttempts
	}
	return ""
}

// extract runs the rules plus any cached candidate selectors for url, and
// reports the outcome back to the selector cache.
func (o *Orchestrator) extract(ctx context.Context, url, html string) (models.PartialRecord, bool) {
	set, ok := o.cache.Selectors(ctx, url)
	if !ok {
		return o.extractor.Extract(html)
	}
	p, complete := o.extractor.ExtractWithCandidates(html, set.Selectors)
	if err := o.cache.UpdateStructureSuccessRate(ctx, url, complete); err != nil {
		o.logger.Warn("[orchestrator] selector success rate for %s: %v", url, err)
	}
	return p, complete
}

func confidenceFor(standardComplete, complete bool) float64 {
	switch {
	case standardComplete:
		return confidenceStandard
	case complete:
		return confidenceAI
	}
	return confidencePartial
}

// fail records a failed attempt on the listing and in the change log.
func (o *Orchestrator) fail(ctx context.Context, res *Result, err error) *Result {
	msg := err.Error()
	o.logger.Error("[orchestrator] %s failed: %s", res.Code, msg)

	if rerr := o.store.RecordError(ctx, res.Code, msg); rerr != nil {
		o.logger.Error("[orchestrator] %s: record error: %v", res.Code, rerr)
	}
	event := &models.ChangeEvent{
		Type:         models.EventScrapingFailure,
		Subject:      res.Code,
		Severity:     models.SeverityLow,
		ActionTaken:  "attempt_recorded",
		ErrorMessage: msg,
		CreatedAt:    o.now().UTC(),
	}
	if eerr := o.store.InsertEvent(ctx, event); eerr != nil {
		o.logger.Error("[orchestrator] %s: failure event: %v", res.Code, eerr)
	}

	res.Outcome, res.Err = OutcomeFailed, err
	o.count("failed")
	return res
}

// MarkFailed is the terminal step once a listing's retry budget is spent.
// High priority listings are escalated to an operator.
func (o *Orchestrator) MarkFailed(ctx context.Context, code, priority string, cause error) error {
	msg := cause.Error()
	if err := o.store.MarkFailed(ctx, code, msg, o.now().UTC()); err != nil {
		return fmt.Errorf("orchestrator: mark failed %s: %w", code, err)
	}
	o.logger.Error("[orchestrator] %s marked failed: %s", code, msg)
	if priority == models.PriorityHigh && o.notifier != nil {
		o.notifier.ListingFailed(ctx, code, msg)
	}
	return nil
}

func (o *Orchestrator) recordGaps(ctx context.Context, code string, gaps []string, now time.Time) {
	for _, field := range gaps {
		event := &models.ChangeEvent{
			Type:         models.EventExtractionGap,
			Subject:      code,
			Severity:     models.SeverityLow,
			ActionTaken:  "stored_as_null",
			ErrorMessage: "missing field: " + field,
			CreatedAt:    now,
		}
		if err := o.store.InsertEvent(ctx, event); err != nil {
			o.logger.Warn("[orchestrator] %s: gap event: %v", code, err)
		}
		if o.metrics != nil {
			o.metrics.ExtractionGaps.WithLabelValues(field).Inc()
		}
	}
}

// dispatchAnalyses queues the dependent analyses with staggered delays.
func (o *Orchestrator) dispatchAnalyses(ctx context.Context, rec *models.ListingRecord) {
	if o.queue == nil {
		return
	}

	type dispatch struct {
		typ   string
		delay time.Duration
	}
	var tasks []dispatch
	if rec.SaleValue != nil && rec.AcceptsFinancing != nil {
		tasks = append(tasks, dispatch{models.TaskInvestmentAnalysis, investmentDelay})
	}
	if rec.HasAddress() {
		tasks = append(tasks, dispatch{models.TaskGeocode, geocodeDelay})
	}
	tasks = append(tasks, dispatch{models.TaskMarketAnalysis, marketDelay})

	for _, d := range tasks {
		t := &models.Task{
			Type:     d.typ,
			Code:     rec.Code,
			Priority: models.PriorityDefault,
			Payload:  analysisPayload(rec),
		}
		if err := o.queue.Enqueue(ctx, t, d.delay); err != nil {
			o.logger.Warn("[orchestrator] %s: dispatch %s: %v", rec.Code, d.typ, err)
		}
	}
}

func analysisPayload(rec *models.ListingRecord) map[string]string {
	payload := map[string]string{
		"region": regionOf(rec),
	}
	if rec.PropertyType != nil {
		payload["property_type"] = *rec.PropertyType
	}
	return payload
}

func regionOf(rec *models.ListingRecord) string {
	if rec.City == "" {
		return rec.State
	}
	return rec.State + "/" + rec.City
}
