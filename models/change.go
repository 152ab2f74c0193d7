package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Severity of a detected change.
type Severity string

const (
	SeverityNone   Severity = ""
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities so the worst of several diffs can be kept.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// Max returns the more severe of s and o.
func (s Severity) Max(o Severity) Severity {
	if o.Rank() > s.Rank() {
		return o
	}
	return s
}

// Event types written to the change log.
const (
	EventPageStructureChange = "page_structure_change"
	EventCSVStructureChange  = "csv_structure_change"
	EventScrapingFailure     = "scraping_failure"
	EventExtractionGap       = "extraction_gap"
	EventFailurePattern      = "failure_pattern"
)

// ChangeType names one kind of structural diff.
type ChangeType string

const (
	ChangeElementCount   ChangeType = "element_count_change"
	ChangeTableCount     ChangeType = "table_count_change"
	ChangeTableRows      ChangeType = "table_rows_change"
	ChangeColumnsAdded   ChangeType = "columns_added"
	ChangeColumnsRemoved ChangeType = "columns_removed"
	ChangeColumnsReorder ChangeType = "columns_reordered"
	ChangeColumnCount    ChangeType = "column_count_change"
	ChangeRowCount       ChangeType = "row_count_change"
)

// Change is one typed diff between two fingerprints.
type Change struct {
	Type     ChangeType `json:"type"`
	Metric   string     `json:"metric,omitempty"`
	Old      int        `json:"old"`
	New      int        `json:"new"`
	Ratio    float64    `json:"change_ratio,omitempty"`
	Columns  []string   `json:"columns,omitempty"`
	Severity Severity   `json:"severity"`
}

// Changes is stored as a JSONB array.
type Changes []Change

// Value implements driver.Valuer.
func (c Changes) Value() (driver.Value, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *Changes) Scan(src any) error {
	return scanJSON(src, c)
}

// ChangeEvent is an entry in the structure change log. Only an operator
// resolving it mutates it after insert.
type ChangeEvent struct {
	ID                int64      `db:"id" json:"id"`
	Type              string     `db:"type" json:"type"`
	Subject           string     `db:"subject" json:"subject"`
	Severity          Severity   `db:"severity" json:"severity"`
	Changes           Changes    `db:"changes" json:"changes"`
	ActionTaken       string     `db:"action_taken" json:"action_taken"`
	RequiresAttention bool       `db:"requires_attention" json:"requires_attention"`
	ErrorMessage      string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt        *time.Time `db:"resolved_at" json:"resolved_at"`
	ResolvedBy        string     `db:"resolved_by" json:"resolved_by,omitempty"`
}
