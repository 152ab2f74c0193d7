// Package detector fingerprints detail pages and the catalog feed, diffs
// each observation against the subject's latest snapshot and keeps the
// append-only snapshot chain and change log up to date.
package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imovel-scraper/ai"
	"imovel-scraper/cache"
	"imovel-scraper/metrics"
	"imovel-scraper/models"
	"imovel-scraper/notify"
	"imovel-scraper/scraper/caixa"
	"imovel-scraper/storage"
	"imovel-scraper/utils"
)

const (
	// FeedSubject is the subject key and name of the catalog feed.
	FeedSubject = "catalog_feed"

	baselineConfidence = 1.0
	driftConfidence    = 0.5
	// generatedSelectorConfidence is the trial confidence of selectors
	// proposed after a high severity drift.
	generatedSelectorConfidence = 0.7
	// promoteAfterClean is the number of consecutive clean checks that
	// return a drifted subject to full confidence.
	promoteAfterClean = 3
)

// Reasons reported in Result.
const (
	ReasonBaseline  = "baseline"
	ReasonNoChanges = "no_changes"
	ReasonIdentical = "identical_content"
	ReasonDrift     = "structure_changed"
	ReasonPromoted  = "promoted"
)

// Store is the persistence the detector needs.
type Store interface {
	storage.SnapshotStore
	storage.EventStore
}

// Advisor gives a qualitative opinion on a drift and proposes selectors.
type Advisor interface {
	AnalyzeStructureChange(ctx context.Context, previous, current models.StructureSummary,
		changes models.Changes, page string) (*ai.StructureAnalysis, bool)
	GenerateSelectors(ctx context.Context, page string, fields []string) map[string][]string
}

// SelectorCache stores candidate selectors for trial use.
type SelectorCache interface {
	PutSelectors(ctx context.Context, url string, selectors map[string][]string, confidence float64) error
}

// Result is the outcome of one observation.
type Result struct {
	SubjectKey string                    `json:"subject_key"`
	State      models.SubjectState       `json:"state"`
	Changed    bool                      `json:"changed"`
	Severity   models.Severity           `json:"severity,omitempty"`
	Changes    models.Changes            `json:"changes,omitempty"`
	Reason     string                    `json:"reason"`
	Snapshot   *models.StructureSnapshot `json:"snapshot,omitempty"`
	Event      *models.ChangeEvent       `json:"event,omitempty"`
	Analysis   *ai.StructureAnalysis     `json:"analysis,omitempty"`
}

// Detector runs the drift state machine of every subject. Observations of
// the same subject are serialized.
type Detector struct {
	store     Store
	advisor   Advisor
	selectors SelectorCache
	notifier  notify.Notifier
	logger    *utils.Logger
	metrics   *metrics.Metrics
	locks     *utils.KeyedMutex
	now       func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// New creates a Detector. advisor and selectors may be nil, which turns
// off the AI second opinion and selector regeneration.
func New(store Store, advisor Advisor, selectors SelectorCache, notifier notify.Notifier,
	logger *utils.Logger, m *metrics.Metrics, opts ...Option) *Detector {
	d := &Detector{
		store:     store,
		advisor:   advisor,
		selectors: selectors,
		notifier:  notifier,
		logger:    logger,
		metrics:   m,
		locks:     utils.NewKeyedMutex(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// observation is one fingerprinted look at a subject.
type observation struct {
	subject string
	key     string
	typ     models.SnapshotType
	hash    string
	summary models.StructureSummary
	page    string
	compare func(previous models.StructureSummary) (models.Changes, models.Severity)
}

// DetectPage observes the detail page at url.
func (d *Detector) DetectPage(ctx context.Context, url, page string) (*Result, error) {
	fp, err := PageFingerprint(page)
	if err != nil {
		return nil, err
	}
	return d.observe(ctx, observation{
		subject: url,
		key:     cache.Hash(url),
		typ:     models.PageStructure,
		hash:    cache.Hash(page),
		summary: models.StructureSummary{Page: fp},
		page:    page,
		compare: func(prev models.StructureSummary) (models.Changes, models.Severity) {
			if prev.Page == nil {
				return nil, models.SeverityNone
			}
			return ComparePages(prev.Page, fp)
		},
	})
}

// DetectFeed observes the catalog feed.
func (d *Detector) DetectFeed(ctx context.Context, feed *caixa.Feed) (*Result, error) {
	fp := FeedFingerprint(feed)
	return d.observe(ctx, observation{
		subject: FeedSubject,
		key:     FeedSubject,
		typ:     models.CSVStructure,
		hash:    cache.Hash(feed.Text),
		summary: models.StructureSummary{Feed: fp},
		compare: func(prev models.StructureSummary) (models.Changes, models.Severity) {
			if prev.Feed == nil {
				return nil, models.SeverityNone
			}
			return CompareFeeds(prev.Feed, fp)
		},
	})
}

func (d *Detector) observe(ctx context.Context, obs observation) (*Result, error) {
	unlock := d.locks.Lock(string(obs.typ) + ":" + obs.key)
	defer unlock()

	now := d.now().UTC()
	latest, err := d.store.LatestSnapshot(ctx, obs.key, obs.typ)
	if errors.Is(err, storage.ErrNotFound) {
		return d.baseline(ctx, obs, now)
	}
	if err != nil {
		return nil, fmt.Errorf("detector: latest snapshot: %w", err)
	}

	status, err := d.status(ctx, obs, latest)
	if err != nil {
		return nil, err
	}

	if d.identical(ctx, obs, latest) {
		return d.clean(ctx, obs, latest, status, ReasonIdentical, now)
	}
	changes, severity := obs.compare(latest.Summary)
	if len(changes) == 0 {
		return d.clean(ctx, obs, latest, status, ReasonNoChanges, now)
	}
	return d.drift(ctx, obs, latest, status, changes, severity, now)
}

// identical reports whether the observed content is byte-identical to the
// latest snapshot.
func (d *Detector) identical(ctx context.Context, obs observation, latest *models.StructureSnapshot) bool {
	prior, err := d.store.SnapshotByHash(ctx, obs.typ, obs.hash)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			d.logger.Warn("[detector] hash lookup for %s: %v", obs.subject, err)
		}
		return false
	}
	return prior.SubjectKey == obs.key && prior.ID == latest.ID
}

func (d *Detector) status(ctx context.Context, obs observation, latest *models.StructureSnapshot) (*models.SubjectStatus, error) {
	st, err := d.store.SubjectStatus(ctx, obs.key, obs.typ)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("detector: subject status: %w", err)
	}
	state := models.StateStable
	if latest.Confidence < baselineConfidence {
		state = models.StateDrifted
	}
	return &models.SubjectStatus{SubjectKey: obs.key, Type: obs.typ, State: state}, nil
}

func (d *Detector) baseline(ctx context.Context, obs observation, now time.Time) (*Result, error) {
	snap := &models.StructureSnapshot{
		SubjectKey:  obs.key,
		Type:        obs.typ,
		Subject:     obs.subject,
		ContentHash: obs.hash,
		Summary:     obs.summary,
		Confidence:  baselineConfidence,
		CapturedAt:  now,
	}
	if err := d.store.CreateSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("detector: baseline snapshot: %w", err)
	}
	if err := d.saveStatus(ctx, obs, models.StateStable, 0, now); err != nil {
		return nil, err
	}
	d.countSnapshot(obs.typ, ReasonBaseline)
	d.logger.Info("[detector] baseline snapshot %d for %s", snap.ID, obs.subject)

	return &Result{
		SubjectKey: obs.key,
		State:      models.StateStable,
		Reason:     ReasonBaseline,
		Snapshot:   snap,
	}, nil
}

// clean handles an observation without changes. A drifted subject goes
// back to full confidence after enough consecutive clean checks.
func (d *Detector) clean(ctx context.Context, obs observation, latest *models.StructureSnapshot,
	status *models.SubjectStatus, reason string, now time.Time) (*Result, error) {
	res := &Result{SubjectKey: obs.key, Reason: reason, Snapshot: latest}

	if status.State == models.StateDrifted {
		status.CleanChecks++
		if status.CleanChecks >= promoteAfterClean {
			parent := latest.ID
			snap := &models.StructureSnapshot{
				SubjectKey:  obs.key,
				Type:        obs.typ,
				Subject:     obs.subject,
				ContentHash: obs.hash,
				Summary:     obs.summary,
				Confidence:  baselineConfidence,
				CapturedAt:  now,
				ParentID:    &parent,
			}
			if err := d.store.CreateSnapshot(ctx, snap); err != nil {
				return nil, fmt.Errorf("detector: promote snapshot: %w", err)
			}
			d.countSnapshot(obs.typ, ReasonPromoted)
			d.logger.Info("[detector] %s stable again after %d clean checks", obs.subject, status.CleanChecks)
			status.State = models.StateStable
			status.CleanChecks = 0
			res.Reason = ReasonPromoted
			res.Snapshot = snap
		}
	}

	if err := d.saveStatus(ctx, obs, status.State, status.CleanChecks, now); err != nil {
		return nil, err
	}
	res.State = status.State
	return res, nil
}

func (d *Detector) drift(ctx context.Context, obs observation, latest *models.StructureSnapshot,
	status *models.SubjectStatus, changes models.Changes, severity models.Severity, now time.Time) (*Result, error) {
	parent := latest.ID
	snap := &models.StructureSnapshot{
		SubjectKey:  obs.key,
		Type:        obs.typ,
		Subject:     obs.subject,
		ContentHash: obs.hash,
		Summary:     obs.summary,
		Confidence:  driftConfidence,
		CapturedAt:  now,
		ParentID:    &parent,
	}
	if err := d.store.CreateSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("detector: drift snapshot: %w", err)
	}
	if err := d.saveStatus(ctx, obs, models.StateDrifted, 0, now); err != nil {
		return nil, err
	}
	d.countSnapshot(obs.typ, ReasonDrift)

	eventType := models.EventPageStructureChange
	if obs.typ == models.CSVStructure {
		eventType = models.EventCSVStructureChange
	}
	event := &models.ChangeEvent{
		Type:              eventType,
		Subject:           obs.subject,
		Severity:          severity,
		Changes:           changes,
		ActionTaken:       "snapshot_created",
		RequiresAttention: severity == models.SeverityHigh,
		CreatedAt:         now,
	}
	if err := d.store.InsertEvent(ctx, event); err != nil {
		d.logger.Error("[detector] change event for %s: %v", obs.subject, err)
		event = nil
	} else if d.metrics != nil {
		d.metrics.ChangeEvents.WithLabelValues(eventType, string(severity)).Inc()
	}

	d.logger.Warn("[detector] %s drifted: severity=%s changes=%d snapshot=%d",
		obs.subject, severity, len(changes), snap.ID)

	res := &Result{
		SubjectKey: obs.key,
		State:      models.StateDrifted,
		Changed:    true,
		Severity:   severity,
		Changes:    changes,
		Reason:     ReasonDrift,
		Snapshot:   snap,
		Event:      event,
	}

	if severity == models.SeverityHigh {
		res.Analysis = d.escalate(ctx, obs, latest, changes)
		if d.notifier != nil {
			d.notifier.StructureChanged(ctx, obs.subject, severity, changes)
		}
	}
	return res, nil
}

// escalate asks the advisor about a high severity drift and, for pages,
// caches regenerated selectors at trial confidence.
func (d *Detector) escalate(ctx context.Context, obs observation, latest *models.StructureSnapshot,
	changes models.Changes) *ai.StructureAnalysis {
	if d.advisor == nil {
		return nil
	}
	analysis, ok := d.advisor.AnalyzeStructureChange(ctx, latest.Summary, obs.summary, changes, obs.page)
	if !ok {
		return nil
	}
	if !analysis.NewSelectorsNeeded || obs.typ != models.PageStructure || d.selectors == nil {
		return analysis
	}

	selectors := d.advisor.GenerateSelectors(ctx, obs.page, ai.SelectorFields)
	if len(selectors) == 0 {
		return analysis
	}
	if err := d.selectors.PutSelectors(ctx, obs.subject, selectors, generatedSelectorConfidence); err != nil {
		d.logger.Warn("[detector] caching selectors for %s: %v", obs.subject, err)
	} else {
		d.logger.Info("[detector] cached %d regenerated selectors for %s", len(selectors), obs.subject)
	}
	return analysis
}

func (d *Detector) saveStatus(ctx context.Context, obs observation, state models.SubjectState, clean int, now time.Time) error {
	st := &models.SubjectStatus{
		SubjectKey:    obs.key,
		Type:          obs.typ,
		State:         state,
		CleanChecks:   clean,
		LastCheckedAt: now,
	}
	if err := d.store.SaveSubjectStatus(ctx, st); err != nil {
		return fmt.Errorf("detector: save status: %w", err)
	}
	return nil
}

func (d *Detector) countSnapshot(typ models.SnapshotType, reason string) {
	if d.metrics != nil {
		d.metrics.Snapshots.WithLabelValues(string(typ), reason).Inc()
	}
}
