package storage

import (
	"context"
	"errors"
	"time"

	"imovel-scraper/models"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrChainConflict is returned when a snapshot would fork its subject's
	// chain: its parent already has a child, or a second root is created.
	ErrChainConflict = errors.New("storage: snapshot chain conflict")
)

// ListingStore persists listings keyed by their code.
type ListingStore interface {
	Listing(ctx context.Context, code string) (*models.ListingRecord, error)
	// UpsertCatalog inserts unknown codes and refreshes the feed fields of
	// known ones. It returns how many codes were new.
	UpsertCatalog(ctx context.Context, listings []models.ListingRecord) (int, error)
	// SaveScrape writes the extracted fields and provenance of rec. The
	// attempt counter is left alone.
	SaveScrape(ctx context.Context, rec *models.ListingRecord) error
	// BeginAttempt atomically increments the attempt counter of code,
	// creating the row if needed, and returns the new count.
	BeginAttempt(ctx context.Context, code string, at time.Time) (int, error)
	RecordError(ctx context.Context, code, message string) error
	MarkFailed(ctx context.Context, code, message string, at time.Time) error
	// ResetAttempts is the manual override: it zeroes the counter and
	// clears a failed status.
	ResetAttempts(ctx context.Context, code string) error
	// Due lists codes never scraped or scraped before staleBefore.
	Due(ctx context.Context, staleBefore time.Time, limit int) ([]string, error)
	// KnownCodes maps every stored code to its last scrape time.
	KnownCodes(ctx context.Context) (map[string]*time.Time, error)
	Listings(ctx context.Context) ([]models.ListingRecord, error)
}

// SnapshotStore is the append-only log of structure snapshots.
type SnapshotStore interface {
	LatestSnapshot(ctx context.Context, subjectKey string, typ models.SnapshotType) (*models.StructureSnapshot, error)
	SnapshotByHash(ctx context.Context, typ models.SnapshotType, contentHash string) (*models.StructureSnapshot, error)
	// CreateSnapshot appends s and sets its ID. s.ParentID must name the
	// current latest snapshot of the subject, or be nil for the first one.
	CreateSnapshot(ctx context.Context, s *models.StructureSnapshot) error
	// Chain returns the snapshots of a subject, oldest first.
	Chain(ctx context.Context, subjectKey string, typ models.SnapshotType) ([]models.StructureSnapshot, error)
	SubjectStatus(ctx context.Context, subjectKey string, typ models.SnapshotType) (*models.SubjectStatus, error)
	SaveSubjectStatus(ctx context.Context, st *models.SubjectStatus) error
}

// EventStore keeps the change log.
type EventStore interface {
	InsertEvent(ctx context.Context, e *models.ChangeEvent) error
	// ResolveEvent marks an unresolved event as handled by an operator.
	ResolveEvent(ctx context.Context, id int64, by string, at time.Time) error
	PendingEvents(ctx context.Context) ([]models.ChangeEvent, error)
	RecentEvents(ctx context.Context, types []string, since time.Time) ([]models.ChangeEvent, error)
}

// RunStore keeps the audit log of batch runs.
type RunStore interface {
	CreateRun(ctx context.Context, r *models.ScrapeRun) error
	CompleteRun(ctx context.Context, r *models.ScrapeRun) error
}

// Store is everything the pipeline persists.
type Store interface {
	ListingStore
	SnapshotStore
	EventStore
	RunStore
	Close() error
}
