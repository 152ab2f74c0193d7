package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"imovel-scraper/cache"
	"imovel-scraper/models"
	"imovel-scraper/scraper/caixa"
)

// deferDelay is how long a task denied by the rate gate waits.
const deferDelay = time.Minute

// MarketSnapshot is the locally computed market view of a region and
// property type.
type MarketSnapshot struct {
	Region           string    `json:"region"`
	PropertyType     string    `json:"property_type"`
	Listings         int       `json:"listings"`
	AverageSaleValue float64   `json:"average_sale_value"`
	AverageDiscount  float64   `json:"average_discount"`
	ComputedAt       time.Time `json:"computed_at"`
}

// Handle runs one queued task.
func (o *Orchestrator) Handle(ctx context.Context, t *models.Task) error {
	switch t.Type {
	case models.TaskScrapeListing:
		return o.handleScrape(ctx, t)
	case models.TaskStructureAnalysis:
		return o.handleStructureAnalysis(ctx, t)
	case models.TaskMarketAnalysis:
		return o.handleMarket(ctx, t)
	case models.TaskGeocode:
		return o.handleGeocode(ctx, t)
	case models.TaskInvestmentAnalysis:
		o.logger.Info("[tasks] investment analysis for %s handed to the scoring service", t.Code)
		return nil
	}
	o.logger.Warn("[tasks] dropping task %s of unknown type %q", t.ID, t.Type)
	return nil
}

// Exhausted marks a listing failed once its scrape task ran out of retries.
func (o *Orchestrator) Exhausted(ctx context.Context, t *models.Task, err error) {
	if t.Type != models.TaskScrapeListing {
		o.logger.Error("[tasks] %s %s gave up: %v", t.Type, t.ID, err)
		return
	}
	if merr := o.MarkFailed(ctx, t.Code, t.Priority, err); merr != nil {
		o.logger.Error("[tasks] %v", merr)
	}
}

func (o *Orchestrator) handleScrape(ctx context.Context, t *models.Task) error {
	res := o.ScrapeListing(ctx, t.Code, Options{
		Force:    t.Payload["force"] == "true",
		Priority: t.Priority,
	})
	switch res.Outcome {
	case OutcomeFailed:
		return res.Err
	case OutcomeDeferred:
		// the gate denial does not spend an attempt
		if o.queue != nil {
			return o.queue.Enqueue(ctx, t, deferDelay)
		}
		return res.Err
	}
	return nil
}

// handleStructureAnalysis re-checks the feed and the sampled listing pages
// against their snapshots.
func (o *Orchestrator) handleStructureAnalysis(ctx context.Context, t *models.Task) error {
	page, err := o.fetch(ctx, o.FeedURL())
	if err != nil {
		return fmt.Errorf("orchestrator: structure analysis feed: %w", err)
	}
	feed, err := caixa.ParseFeed(page.Body)
	if err != nil {
		return fmt.Errorf("orchestrator: structure analysis feed: %w", err)
	}
	if res, err := o.detector.DetectFeed(ctx, feed); err != nil {
		o.logger.Warn("[tasks] feed check: %v", err)
	} else {
		o.logger.Info("[tasks] feed check: %s severity=%s", res.Reason, res.Severity)
	}

	for _, code := range strings.Split(t.Payload["codes"], ",") {
		if code == "" {
			continue
		}
		url := o.DetailURL(code)
		p, err := o.fetch(ctx, url)
		if err != nil {
			o.logger.Warn("[tasks] structure analysis %s: %v", code, err)
			continue
		}
		html, err := p.HTML()
		if err != nil {
			o.logger.Warn("[tasks] structure analysis %s: %v", code, err)
			continue
		}
		res, err := o.detector.DetectPage(ctx, url, html)
		if err != nil {
			o.logger.Warn("[tasks] structure analysis %s: %v", code, err)
			continue
		}
		o.logger.Info("[tasks] page check %s: %s severity=%s", code, res.Reason, res.Severity)
	}
	return nil
}

// handleMarket computes the market snapshot of a listing's region and
// property type unless a cached one is still valid.
func (o *Orchestrator) handleMarket(ctx context.Context, t *models.Task) error {
	region, propertyType := t.Payload["region"], t.Payload["property_type"]

	var cached MarketSnapshot
	if o.cache.MarketAnalysis(ctx, region, propertyType, &cached) {
		o.logger.Debug("[tasks] market %s/%s cached", region, propertyType)
		return nil
	}

	listings, err := o.store.Listings(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: market listings: %w", err)
	}
	snap := marketSnapshot(listings, region, propertyType, o.now().UTC())
	if err := o.cache.PutMarketAnalysis(ctx, region, propertyType, snap); err != nil {
		o.logger.Warn("[tasks] market cache: %v", err)
	}
	o.logger.Info("[tasks] market %s/%s: %d listings, avg R$ %.2f", region, propertyType, snap.Listings, snap.AverageSaleValue)
	return nil
}

func marketSnapshot(listings []models.ListingRecord, region, propertyType string, now time.Time) MarketSnapshot {
	snap := MarketSnapshot{Region: region, PropertyType: propertyType, ComputedAt: now}
	var total, discounts float64
	var discounted int
	for i := range listings {
		l := &listings[i]
		if regionOf(l) != region || l.SaleValue == nil {
			continue
		}
		if propertyType != "" && (l.PropertyType == nil || *l.PropertyType != propertyType) {
			continue
		}
		snap.Listings++
		total += *l.SaleValue
		if l.AppraisalValue != nil && *l.AppraisalValue > 0 {
			discounts += 1 - *l.SaleValue / *l.AppraisalValue
			discounted++
		}
	}
	if snap.Listings > 0 {
		snap.AverageSaleValue = total / float64(snap.Listings)
	}
	if discounted > 0 {
		snap.AverageDiscount = discounts / float64(discounted)
	}
	return snap
}

// handleGeocode only admits the call through the maps rate gate; the
// geocoding itself belongs to the maps integration.
func (o *Orchestrator) handleGeocode(ctx context.Context, t *models.Task) error {
	if !o.gate.Allow(ctx, cache.ServiceMaps, "geocode") {
		o.logger.Warn("[tasks] geocode %s deferred: maps rate limit reached", t.Code)
		if o.queue != nil {
			return o.queue.Enqueue(ctx, t, deferDelay)
		}
		return nil
	}
	o.logger.Info("[tasks] geocode for %s (%s) handed to the maps integration", t.Code, t.Payload["region"])
	return nil
}
