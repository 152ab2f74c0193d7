package detector

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cloudflare/ahocorasick"

	"imovel-scraper/models"
	"imovel-scraper/storage"
	"imovel-scraper/utils"
)

const (
	// DefaultFailureWindow is the trailing window the monitor samples.
	DefaultFailureWindow = 6 * time.Hour
	// DefaultFailureThreshold is the failure volume that must be exceeded
	// before the vocabulary is consulted.
	DefaultFailureThreshold = 10

	commonErrorCount = 5
	// sampleCodes bounds the listings handed to the structure analysis.
	sampleCodes = 3
)

// StructuralVocabulary are folded error fragments that point at markup
// drift rather than network trouble.
var StructuralVocabulary = []string{
	"element not found",
	"selector failed",
	"xpath error",
	"table structure",
	"missing field",
	"no such element",
	"label not found",
}

// TaskQueue accepts deferred work.
type TaskQueue interface {
	Enqueue(ctx context.Context, t *models.Task, delay time.Duration) error
}

// ErrorCount is one distinct error message and how often it was seen.
type ErrorCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// FailureReport summarizes one monitor pass.
type FailureReport struct {
	Since        time.Time    `json:"since"`
	Failures     int          `json:"failures"`
	Structural   int          `json:"structural"`
	CommonErrors []ErrorCount `json:"common_errors"`
	SampleCodes  []string     `json:"sample_codes,omitempty"`
	Escalated    bool         `json:"escalated"`
	TaskID       string       `json:"task_id,omitempty"`
}

// FailureMonitor watches recent scrape failures for signs of structural
// drift the per-fetch diff missed.
type FailureMonitor struct {
	events    storage.EventStore
	queue     TaskQueue
	logger    *utils.Logger
	window    time.Duration
	threshold int
	now       func() time.Time

	mu      sync.Mutex
	matcher *ahocorasick.Matcher
}

// NewFailureMonitor creates a FailureMonitor with the default window and
// threshold.
func NewFailureMonitor(events storage.EventStore, queue TaskQueue, logger *utils.Logger) *FailureMonitor {
	return &FailureMonitor{
		events:    events,
		queue:     queue,
		logger:    logger,
		window:    DefaultFailureWindow,
		threshold: DefaultFailureThreshold,
		now:       time.Now,
		matcher:   ahocorasick.NewStringMatcher(StructuralVocabulary),
	}
}

// SetClock replaces time.Now.
func (fm *FailureMonitor) SetClock(now func() time.Time) {
	fm.now = now
}

// Check samples the failure window and escalates to a high priority
// structure analysis when failures exceed the threshold and most of them
// read like structural errors. A window already escalated is not
// escalated again.
func (fm *FailureMonitor) Check(ctx context.Context) (*FailureReport, error) {
	now := fm.now().UTC()
	since := now.Add(-fm.window)

	failures, err := fm.events.RecentEvents(ctx,
		[]string{models.EventScrapingFailure, models.EventExtractionGap}, since)
	if err != nil {
		return nil, fmt.Errorf("detector: recent failures: %w", err)
	}

	report := &FailureReport{Since: since, Failures: len(failures)}
	counts := make(map[string]int)
	for _, e := range failures {
		if e.ErrorMessage == "" {
			continue
		}
		counts[e.ErrorMessage]++
		if fm.structural(e.ErrorMessage) {
			report.Structural++
			if len(report.SampleCodes) < sampleCodes && e.Subject != "" && !slices.Contains(report.SampleCodes, e.Subject) {
				report.SampleCodes = append(report.SampleCodes, e.Subject)
			}
		}
	}
	report.CommonErrors = topErrors(counts, commonErrorCount)

	if report.Failures <= fm.threshold || report.Structural*2 <= report.Failures {
		fm.logger.Debug("[monitor] %d failures, %d structural: nothing to escalate",
			report.Failures, report.Structural)
		return report, nil
	}

	prior, err := fm.events.RecentEvents(ctx, []string{models.EventFailurePattern}, since)
	if err != nil {
		return nil, fmt.Errorf("detector: recent escalations: %w", err)
	}
	if len(prior) > 0 {
		fm.logger.Info("[monitor] failure pattern already escalated at %s", prior[len(prior)-1].CreatedAt)
		return report, nil
	}

	task := &models.Task{
		Type:     models.TaskStructureAnalysis,
		Priority: models.PriorityHigh,
		Payload: map[string]string{
			"failures":   strconv.Itoa(report.Failures),
			"structural": strconv.Itoa(report.Structural),
			"since":      since.Format(time.RFC3339),
			"codes":      strings.Join(report.SampleCodes, ","),
		},
	}
	if err := fm.queue.Enqueue(ctx, task, 0); err != nil {
		return nil, fmt.Errorf("detector: enqueue structure analysis: %w", err)
	}
	report.Escalated = true
	report.TaskID = task.ID

	event := &models.ChangeEvent{
		Type:              models.EventFailurePattern,
		Subject:           "scrape_failures",
		Severity:          models.SeverityHigh,
		ActionTaken:       "structure_analysis_queued",
		RequiresAttention: true,
		ErrorMessage: fmt.Sprintf("%d of %d failures in the last %s look structural",
			report.Structural, report.Failures, fm.window),
		CreatedAt: now,
	}
	if err := fm.events.InsertEvent(ctx, event); err != nil {
		fm.logger.Error("[monitor] failure pattern event: %v", err)
	}
	fm.logger.Warn("[monitor] escalated: %d/%d structural failures, task %s",
		report.Structural, report.Failures, task.ID)
	return report, nil
}

func (fm *FailureMonitor) structural(message string) bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return len(fm.matcher.Match([]byte(utils.Fold(message)))) > 0
}

func topErrors(counts map[string]int, n int) []ErrorCount {
	out := make([]ErrorCount, 0, len(counts))
	for msg, c := range counts {
		out = append(out, ErrorCount{Message: msg, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Message < out[j].Message
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
