package storage

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"

	"imovel-scraper/models"
)

type subjectRef struct {
	key string
	typ models.SnapshotType
}

// MemoryStore keeps everything in process memory. Snapshots live in one
// append-only arena; a subject's chain is a list of arena indexes and each
// snapshot refers to its parent by ID only. It is safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[string]*models.ListingRecord
	arena    []models.StructureSnapshot
	chains   map[subjectRef][]int
	statuses map[subjectRef]models.SubjectStatus
	events   []models.ChangeEvent
	runs     map[string]models.ScrapeRun
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[string]*models.ListingRecord),
		chains:   make(map[subjectRef][]int),
		statuses: make(map[subjectRef]models.SubjectStatus),
		runs:     make(map[string]models.ScrapeRun),
		now:      time.Now,
	}
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// Listing returns a copy of the listing stored under code.
func (m *MemoryStore) Listing(_ context.Context, code string) (*models.ListingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listings[code]
	if !ok {
		return nil, ErrNotFound
	}
	c := *l
	return &c, nil
}

// UpsertCatalog inserts unknown codes and refreshes feed fields of known ones.
func (m *MemoryStore) UpsertCatalog(_ context.Context, listings []models.ListingRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	inserted := 0
	for _, in := range listings {
		l, ok := m.listings[in.Code]
		if !ok {
			c := in
			c.Source = models.SourceCatalogFeed
			c.CreatedAt, c.UpdatedAt = now, now
			m.listings[in.Code] = &c
			inserted++
			continue
		}
		l.State, l.City, l.Neighborhood = in.State, in.City, in.Neighborhood
		l.Address, l.Link = in.Address, in.Link
		l.UpdatedAt = now
	}
	return inserted, nil
}

// SaveScrape stores rec, keeping the stored attempt bookkeeping and the
// catalog text rec leaves empty.
func (m *MemoryStore) SaveScrape(_ context.Context, rec *models.ListingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *rec
	now := m.now().UTC()
	if old, ok := m.listings[rec.Code]; ok {
		c.ScrapeAttempts = old.ScrapeAttempts
		c.LastAttemptAt = old.LastAttemptAt
		c.State, c.City, c.Neighborhood = old.State, old.City, old.Neighborhood
		c.Address, c.Link = old.Address, old.Link
		if c.Description == "" {
			c.Description = old.Description
		}
		if c.SaleModality == "" {
			c.SaleModality = old.SaleModality
		}
		c.CreatedAt = old.CreatedAt
	} else {
		c.ScrapeAttempts = 0
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.listings[rec.Code] = &c
	return nil
}

// BeginAttempt increments the attempt counter of code.
func (m *MemoryStore) BeginAttempt(_ context.Context, code string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[code]
	if !ok {
		now := m.now().UTC()
		l = &models.ListingRecord{Code: code, Source: models.SourceScrape, CreatedAt: now, UpdatedAt: now}
		m.listings[code] = l
	}
	l.ScrapeAttempts++
	t := at
	l.LastAttemptAt = &t
	return l.ScrapeAttempts, nil
}

// RecordError stores the error of a failed attempt.
func (m *MemoryStore) RecordError(_ context.Context, code, message string) error {
	return m.update(code, func(l *models.ListingRecord) {
		msg := message
		l.LastScrapeError = &msg
	})
}

// MarkFailed marks code as terminally failed.
func (m *MemoryStore) MarkFailed(_ context.Context, code, message string, at time.Time) error {
	return m.update(code, func(l *models.ListingRecord) {
		msg := message
		t := at
		l.ScrapeStatus = models.StatusFailed
		l.LastScrapeError = &msg
		l.FailedAt = &t
	})
}

// ResetAttempts zeroes the attempt counter and clears a failed status.
func (m *MemoryStore) ResetAttempts(_ context.Context, code string) error {
	return m.update(code, func(l *models.ListingRecord) {
		l.ScrapeAttempts = 0
		if l.ScrapeStatus == models.StatusFailed {
			l.ScrapeStatus = models.StatusActive
		}
		l.LastScrapeError = nil
		l.FailedAt = nil
	})
}

func (m *MemoryStore) update(code string, fn func(*models.ListingRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[code]
	if !ok {
		return ErrNotFound
	}
	fn(l)
	l.UpdatedAt = m.now().UTC()
	return nil
}

// Due lists codes never scraped or scraped before staleBefore.
func (m *MemoryStore) Due(_ context.Context, staleBefore time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*models.ListingRecord
	for _, l := range m.listings {
		if l.ScrapeStatus == models.StatusFailed {
			continue
		}
		if l.ScrapedAt == nil || l.ScrapedAt.Before(staleBefore) {
			due = append(due, l)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].ScrapedAt, due[j].ScrapedAt
		switch {
		case a == nil && b == nil:
			return due[i].Code < due[j].Code
		case a == nil:
			return true
		case b == nil:
			return false
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return due[i].Code < due[j].Code
	})

	codes := make([]string, 0, len(due))
	for _, l := range due {
		if limit > 0 && len(codes) >= limit {
			break
		}
		codes = append(codes, l.Code)
	}
	return codes, nil
}

// KnownCodes maps every stored code to its scraped_at.
func (m *MemoryStore) KnownCodes(_ context.Context) (map[string]*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	known := make(map[string]*time.Time, len(m.listings))
	for code, l := range m.listings {
		if l.ScrapedAt != nil {
			t := *l.ScrapedAt
			known[code] = &t
		} else {
			known[code] = nil
		}
	}
	return known, nil
}

// Listings returns copies of every listing ordered by code.
func (m *MemoryStore) Listings(_ context.Context) ([]models.ListingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ListingRecord, 0, len(m.listings))
	for _, l := range m.listings {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// LatestSnapshot returns the newest snapshot of a subject.
func (m *MemoryStore) LatestSnapshot(_ context.Context, subjectKey string, typ models.SnapshotType) (*models.StructureSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chain := m.chains[subjectRef{subjectKey, typ}]
	if len(chain) == 0 {
		return nil, ErrNotFound
	}
	s := cloneSnapshot(m.arena[chain[len(chain)-1]])
	return &s, nil
}

// SnapshotByHash returns the newest snapshot of typ with contentHash.
func (m *MemoryStore) SnapshotByHash(_ context.Context, typ models.SnapshotType, contentHash string) (*models.StructureSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.arena) - 1; i >= 0; i-- {
		if m.arena[i].Type == typ && m.arena[i].ContentHash == contentHash {
			s := cloneSnapshot(m.arena[i])
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

// CreateSnapshot appends s to the arena. Its parent must be the subject's
// current latest snapshot.
func (m *MemoryStore) CreateSnapshot(_ context.Context, s *models.StructureSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := subjectRef{s.SubjectKey, s.Type}
	chain := m.chains[ref]
	switch {
	case len(chain) == 0 && s.ParentID != nil:
		return ErrChainConflict
	case len(chain) > 0 && (s.ParentID == nil || *s.ParentID != m.arena[chain[len(chain)-1]].ID):
		return ErrChainConflict
	}

	stored := cloneSnapshot(*s)
	stored.ID = int64(len(m.arena) + 1)
	m.arena = append(m.arena, stored)
	m.chains[ref] = append(chain, len(m.arena)-1)
	s.ID = stored.ID
	return nil
}

// Chain returns copies of a subject's snapshots, oldest first.
func (m *MemoryStore) Chain(_ context.Context, subjectKey string, typ models.SnapshotType) ([]models.StructureSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chain := m.chains[subjectRef{subjectKey, typ}]
	out := make([]models.StructureSnapshot, 0, len(chain))
	for _, i := range chain {
		out = append(out, cloneSnapshot(m.arena[i]))
	}
	return out, nil
}

// SubjectStatus returns the drift bookkeeping of a subject.
func (m *MemoryStore) SubjectStatus(_ context.Context, subjectKey string, typ models.SnapshotType) (*models.SubjectStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[subjectRef{subjectKey, typ}]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

// SaveSubjectStatus stores st.
func (m *MemoryStore) SaveSubjectStatus(_ context.Context, st *models.SubjectStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[subjectRef{st.SubjectKey, st.Type}] = *st
	return nil
}

// InsertEvent appends e and sets its ID.
func (m *MemoryStore) InsertEvent(_ context.Context, e *models.ChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now().UTC()
	}
	e.ID = int64(len(m.events) + 1)
	c := *e
	c.Changes = slices.Clone(e.Changes)
	m.events = append(m.events, c)
	return nil
}

// ResolveEvent marks an unresolved event as resolved.
func (m *MemoryStore) ResolveEvent(_ context.Context, id int64, by string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 1 || int(id) > len(m.events) || m.events[id-1].ResolvedAt != nil {
		return ErrNotFound
	}
	t := at
	m.events[id-1].ResolvedAt = &t
	m.events[id-1].ResolvedBy = by
	return nil
}

// PendingEvents lists unresolved events that require attention.
func (m *MemoryStore) PendingEvents(_ context.Context) ([]models.ChangeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ChangeEvent
	for _, e := range m.events {
		if e.RequiresAttention && e.ResolvedAt == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// RecentEvents lists events of the given types created at or after since.
func (m *MemoryStore) RecentEvents(_ context.Context, types []string, since time.Time) ([]models.ChangeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ChangeEvent
	for _, e := range m.events {
		if slices.Contains(types, e.Type) && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// CreateRun stores the start of a run.
func (m *MemoryStore) CreateRun(_ context.Context, r *models.ScrapeRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = *r
	return nil
}

// CompleteRun stores the final state of a run.
func (m *MemoryStore) CompleteRun(_ context.Context, r *models.ScrapeRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[r.ID]; !ok {
		return ErrNotFound
	}
	m.runs[r.ID] = *r
	return nil
}

// Run returns a stored run, for inspection in tests and reports.
func (m *MemoryStore) Run(id string) (models.ScrapeRun, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	return r, ok
}

// cloneSnapshot deep-copies s so callers can never reach stored state.
func cloneSnapshot(s models.StructureSnapshot) models.StructureSnapshot {
	c := s
	if s.ParentID != nil {
		p := *s.ParentID
		c.ParentID = &p
	}
	raw, err := json.Marshal(s.Summary)
	if err == nil {
		var sum models.StructureSummary
		if json.Unmarshal(raw, &sum) == nil {
			c.Summary = sum
		}
	}
	return c
}
