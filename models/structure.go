package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// SnapshotType distinguishes detail-page fingerprints from feed fingerprints.
type SnapshotType string

const (
	PageStructure SnapshotType = "page_structure"
	CSVStructure  SnapshotType = "csv_structure"
)

// SubjectState is the drift state of one snapshot subject.
type SubjectState string

const (
	StateNoSnapshot SubjectState = "NO_SNAPSHOT"
	StateStable     SubjectState = "STABLE"
	StateDrifted    SubjectState = "DRIFTED"
)

// StructureSnapshot is an immutable fingerprint of a page or feed. ParentID
// points at the previous snapshot of the same subject; the first snapshot
// of a subject has none.
type StructureSnapshot struct {
	ID          int64            `db:"id" json:"id"`
	SubjectKey  string           `db:"subject_key" json:"subject_key"`
	Type        SnapshotType     `db:"type" json:"type"`
	Subject     string           `db:"subject" json:"subject"`
	ContentHash string           `db:"content_hash" json:"content_hash"`
	Summary     StructureSummary `db:"structure_summary" json:"structure_summary"`
	Confidence  float64          `db:"confidence" json:"confidence"`
	CapturedAt  time.Time        `db:"captured_at" json:"captured_at"`
	ParentID    *int64           `db:"parent_snapshot_id" json:"parent_snapshot_id"`
}

// SubjectStatus is the mutable bookkeeping kept next to a snapshot chain:
// snapshots themselves never change after insert.
type SubjectStatus struct {
	SubjectKey    string       `db:"subject_key" json:"subject_key"`
	Type          SnapshotType `db:"type" json:"type"`
	State         SubjectState `db:"state" json:"state"`
	CleanChecks   int          `db:"clean_checks" json:"clean_checks"`
	LastCheckedAt time.Time    `db:"last_checked_at" json:"last_checked_at"`
}

// StructureSummary holds exactly one of Page or Feed.
type StructureSummary struct {
	Page *PageFingerprint `json:"page,omitempty"`
	Feed *FeedFingerprint `json:"feed,omitempty"`
}

// Value implements driver.Valuer so the summary is stored as JSONB.
func (s StructureSummary) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *StructureSummary) Scan(src any) error {
	return scanJSON(src, s)
}

// PageCounters are the tracked element counts of a page.
type PageCounters struct {
	TotalElements int `json:"total_elements"`
	TableCount    int `json:"table_count"`
	FormCount     int `json:"form_count"`
	LinkCount     int `json:"link_count"`
}

// TableShape describes one table on a page.
type TableShape struct {
	RowCount  int  `json:"row_count"`
	HasHeader bool `json:"has_header"`
}

// FormShape describes one form on a page.
type FormShape struct {
	InputCount int    `json:"input_count"`
	Action     string `json:"action"`
	Method     string `json:"method"`
}

// PageFingerprint is the structure of a detail page.
type PageFingerprint struct {
	TitleSelectors map[string]string `json:"title_selectors"`
	Tables         []TableShape      `json:"table_structure"`
	Forms          []FormShape       `json:"form_elements"`
	KeyPatterns    map[string]int    `json:"key_patterns"`
	Counters       PageCounters      `json:"meta_info"`
}

// FeedFingerprint is the structure of a catalog feed.
type FeedFingerprint struct {
	Columns     []string          `json:"columns"`
	ColumnCount int               `json:"column_count"`
	RowCount    int               `json:"row_count"`
	Delimiter   string            `json:"delimiter"`
	Encoding    string            `json:"encoding"`
	ColumnTypes map[string]string `json:"column_types"`
	Sample      [][]string        `json:"sample_data"`
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	}
	return errors.New("models: unsupported JSON column type")
}
