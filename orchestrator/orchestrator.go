// Package orchestrator runs the per-listing scrape workflow and the batch
// workflows built on it: catalog runs, due scans and queued tasks.
package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"imovel-scraper/cache"
	"imovel-scraper/config"
	"imovel-scraper/detector"
	"imovel-scraper/extractor"
	"imovel-scraper/metrics"
	"imovel-scraper/models"
	"imovel-scraper/notify"
	"imovel-scraper/scraper/caixa"
	"imovel-scraper/services"
	"imovel-scraper/storage"
	"imovel-scraper/utils"
)

// gateIdentifier is the rate gate bucket shared by every detail fetch.
const gateIdentifier = "detail_page"

// StructureDetector observes pages and the feed for drift.
type StructureDetector interface {
	DetectPage(ctx context.Context, url, page string) (*detector.Result, error)
	DetectFeed(ctx context.Context, feed *caixa.Feed) (*detector.Result, error)
}

// AIFallback extracts fields the rules could not find.
type AIFallback interface {
	ExtractWithAI(ctx context.Context, page, code string) models.PartialRecord
}

// ScrapeCache is the part of the intelligent cache the workflows use.
type ScrapeCache interface {
	Selectors(ctx context.Context, url string) (*cache.SelectorSet, bool)
	UpdateStructureSuccessRate(ctx context.Context, url string, success bool) error
	ShouldProcess(ctx context.Context, code string, lastModified *time.Time) bool
	MarkProcessed(ctx context.Context, code string)
	PutMarketAnalysis(ctx context.Context, region, propertyType string, analysis any) error
	MarketAnalysis(ctx context.Context, region, propertyType string, dst any) bool
}

// Gate admits calls to rate limited services.
type Gate interface {
	Allow(ctx context.Context, service, identifier string) bool
}

// TaskQueue accepts deferred work.
type TaskQueue interface {
	Enqueue(ctx context.Context, t *models.Task, delay time.Duration) error
}

// Deps are the collaborators of an Orchestrator. AI, Queue and Notifier
// may be nil.
type Deps struct {
	Store     storage.Store
	Fetcher   caixa.Fetcher
	Extractor *extractor.Extractor
	AI        AIFallback
	Detector  StructureDetector
	Cache     ScrapeCache
	Gate      Gate
	Cleaner   *services.Cleaner
	Queue     TaskQueue
	Notifier  notify.Notifier
	Logger    *utils.Logger
	Metrics   *metrics.Metrics
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	cfg       *config.Config
	store     storage.Store
	fetcher   caixa.Fetcher
	extractor *extractor.Extractor
	ai        AIFallback
	detector  StructureDetector
	cache     ScrapeCache
	gate      Gate
	cleaner   *services.Cleaner
	queue     TaskQueue
	notifier  notify.Notifier
	logger    *utils.Logger
	metrics   *metrics.Metrics
	retry     *utils.RetryPolicy
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRetryPolicy replaces the fetch retry policy.
func WithRetryPolicy(p *utils.RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// New creates an Orchestrator.
func New(cfg *config.Config, deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		ai:        deps.AI,
		detector:  deps.Detector,
		cache:     deps.Cache,
		gate:      deps.Gate,
		cleaner:   deps.Cleaner,
		queue:     deps.Queue,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		retry: &utils.RetryPolicy{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.RetryBaseDelay,
			IsRetryable: retryableFetch,
			Logger:      deps.Logger,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DetailURL returns the detail page URL of code.
func (o *Orchestrator) DetailURL(code string) string {
	return o.cfg.DetailURL(code)
}

// FeedURL returns the catalog feed URL.
func (o *Orchestrator) FeedURL() string {
	return o.cfg.FeedURL()
}

// fetch runs one fetch under the retry policy.
func (o *Orchestrator) fetch(ctx context.Context, url string) (*caixa.Page, error) {
	start := time.Now()
	var page *caixa.Page
	err := o.retry.Do(ctx, "fetch "+url, func(ctx context.Context, _ int) error {
		p, err := o.fetcher.Fetch(ctx, url)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if o.metrics != nil {
		o.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

// retryableFetch rejects client errors other than 408 and 429.
func retryableFetch(err error) bool {
	var fe *caixa.FetchError
	if errors.As(err, &fe) && fe.Status >= 400 && fe.Status < 500 {
		return fe.Status == http.StatusRequestTimeout || fe.Status == http.StatusTooManyRequests
	}
	return true
}

func (o *Orchestrator) count(result string) {
	if o.metrics != nil {
		o.metrics.ScrapeResults.WithLabelValues(result).Inc()
	}
}
