package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Run modes.
const (
	RunModeCatalog = "catalog"
	RunModeFull    = "full"
	RunModeDue     = "due"
)

// Failures is a JSONB list of per-listing failure reasons.
type Failures []FailureReason

// Value implements driver.Valuer.
func (f Failures) Value() (driver.Value, error) {
	if f == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner.
func (f *Failures) Scan(src any) error {
	return scanJSON(src, f)
}

// ScrapeRun is the audit record of one batch run.
type ScrapeRun struct {
	ID          string     `db:"id" json:"id"`
	Mode        string     `db:"mode" json:"mode"`
	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at"`
	Total       int        `db:"total" json:"total"`
	Scraped     int        `db:"scraped" json:"scraped"`
	Errors      int        `db:"errors" json:"errors"`
	Skipped     int        `db:"skipped" json:"skipped"`
	SuccessRate float64    `db:"success_rate" json:"success_rate"`
	Failures    Failures   `db:"failures" json:"failures"`
}

// Task types carried by the work queue.
const (
	TaskScrapeListing      = "scrape_listing"
	TaskStructureAnalysis  = "structure_analysis"
	TaskInvestmentAnalysis = "investment_analysis"
	TaskGeocode            = "geocode"
	TaskMarketAnalysis     = "market_analysis"
)

// Task priorities.
const (
	PriorityHigh    = "high"
	PriorityDefault = "default"
)

// Task is one unit of deferred work.
type Task struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Code          string            `json:"code,omitempty"`
	Priority      string            `json:"priority"`
	Attempts      int               `json:"attempts"`
	FirstQueuedAt time.Time         `json:"first_queued_at"`
	RunAt         time.Time         `json:"run_at"`
	Payload       map[string]string `json:"payload,omitempty"`
}
