// Package metrics holds the Prometheus counters of the scraping pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace prefixes every metric name.
	Namespace = "imovel"
)

// Metrics holds all Prometheus metrics of the pipeline.
type Metrics struct {
	// Cache metrics
	CacheOutcomes *prometheus.CounterVec
	CacheFlushes  *prometheus.CounterVec

	// Rate gate metrics
	GateDecisions *prometheus.CounterVec

	// Scrape metrics
	ScrapeResults  *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	AIExtractions  *prometheus.CounterVec
	ExtractionGaps *prometheus.CounterVec

	// Structure metrics
	ChangeEvents *prometheus.CounterVec
	Snapshots    *prometheus.CounterVec

	// Queue metrics
	TasksEnqueued  *prometheus.CounterVec
	TasksProcessed *prometheus.CounterVec
}

// New creates and registers all metrics on reg. A nil reg gets a private
// registry so tests can build as many instances as they like.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initCacheMetrics(factory)
	m.initScrapeMetrics(factory)
	m.initStructureMetrics(factory)
	m.initQueueMetrics(factory)

	return m
}

func (m *Metrics) initCacheMetrics(factory promauto.Factory) {
	m.CacheOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "outcomes_total",
			Help:      "Cache operations by namespace and outcome (hit, miss, store, invalidated, low_confidence)",
		},
		[]string{"namespace", "outcome"},
	)

	m.CacheFlushes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "flushes_total",
			Help:      "Namespaces flushed by the low hit-rate cleanup",
		},
		[]string{"namespace"},
	)

	m.GateDecisions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "rate_gate",
			Name:      "decisions_total",
			Help:      "Rate gate decisions by service",
		},
		[]string{"service", "decision"},
	)
}

func (m *Metrics) initScrapeMetrics(factory promauto.Factory) {
	m.ScrapeResults = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scrape",
			Name:      "results_total",
			Help:      "Listing scrapes by result (success, failed, retry, skipped, deferred)",
		},
		[]string{"result"},
	)

	m.FetchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "scrape",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of detail page fetches including retries",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	m.AIExtractions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ai",
			Name:      "extractions_total",
			Help:      "AI fallback extractions by outcome (cached, called, denied, failed)",
		},
		[]string{"outcome"},
	)

	m.ExtractionGaps = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scrape",
			Name:      "extraction_gaps_total",
			Help:      "Critical fields left empty after the AI fallback",
		},
		[]string{"field"},
	)
}

func (m *Metrics) initStructureMetrics(factory promauto.Factory) {
	m.ChangeEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "structure",
			Name:      "change_events_total",
			Help:      "Change log entries by type and severity",
		},
		[]string{"type", "severity"},
	)

	m.Snapshots = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "structure",
			Name:      "snapshots_total",
			Help:      "Structure snapshots created by type and reason (baseline, structure_changed, promoted)",
		},
		[]string{"type", "reason"},
	)
}

func (m *Metrics) initQueueMetrics(factory promauto.Factory) {
	m.TasksEnqueued = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "tasks_enqueued_total",
			Help:      "Tasks enqueued by type and priority",
		},
		[]string{"type", "priority"},
	)

	m.TasksProcessed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "tasks_processed_total",
			Help:      "Tasks handled by type and status",
		},
		[]string{"type", "status"},
	)
}
