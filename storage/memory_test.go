package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imovel-scraper/models"
)

func pageSnapshot(key string, parent *int64, at time.Time, links int) *models.StructureSnapshot {
	return &models.StructureSnapshot{
		SubjectKey:  key,
		Type:        models.PageStructure,
		ContentHash: "h",
		Summary: models.StructureSummary{Page: &models.PageFingerprint{
			TitleSelectors: map[string]string{"h1": "Imóvel"},
			Counters:       models.PageCounters{LinkCount: links},
		}},
		Confidence: 1,
		CapturedAt: at,
		ParentID:   parent,
	}
}

func TestMemorySnapshotChainAppendOnly(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	root := pageSnapshot("k", nil, t0, 10)
	require.NoError(t, m.CreateSnapshot(ctx, root))
	first, err := m.LatestSnapshot(ctx, "k", models.PageStructure)
	require.NoError(t, err)

	child := pageSnapshot("k", &root.ID, t0.Add(time.Hour), 20)
	require.NoError(t, m.CreateSnapshot(ctx, child))

	// mutate what the caller holds; the store must not change
	first.Summary.Page.Counters.LinkCount = 999
	first.Summary.Page.TitleSelectors["h1"] = "x"
	child.Confidence = 0

	chain, err := m.Chain(ctx, "k", models.PageStructure)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Nil(t, chain[0].ParentID)
	assert.Equal(t, 10, chain[0].Summary.Page.Counters.LinkCount)
	assert.Equal(t, "Imóvel", chain[0].Summary.Page.TitleSelectors["h1"])
	assert.Equal(t, root.ID, *chain[1].ParentID)
	assert.Equal(t, 1.0, chain[1].Confidence)
	for i := 1; i < len(chain); i++ {
		assert.False(t, chain[i].CapturedAt.Before(chain[i-1].CapturedAt))
	}

	latest, err := m.LatestSnapshot(ctx, "k", models.PageStructure)
	require.NoError(t, err)
	assert.Equal(t, chain[1], *latest)
}

func TestMemorySnapshotConflicts(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Now()

	root := pageSnapshot("k", nil, now, 1)
	require.NoError(t, m.CreateSnapshot(ctx, root))

	assert.ErrorIs(t, m.CreateSnapshot(ctx, pageSnapshot("k", nil, now, 1)), ErrChainConflict, "second root")

	a := pageSnapshot("k", &root.ID, now, 2)
	require.NoError(t, m.CreateSnapshot(ctx, a))
	assert.ErrorIs(t, m.CreateSnapshot(ctx, pageSnapshot("k", &root.ID, now, 3)), ErrChainConflict, "fork of root")

	orphan := int64(42)
	assert.ErrorIs(t, m.CreateSnapshot(ctx, pageSnapshot("other", &orphan, now, 1)), ErrChainConflict)
}

func TestMemorySnapshotConcurrentWritersSerialize(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	root := pageSnapshot("k", nil, time.Now(), 1)
	require.NoError(t, m.CreateSnapshot(ctx, root))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.CreateSnapshot(ctx, pageSnapshot("k", &root.ID, time.Now(), 2)) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins, "only one writer may claim the same parent")
}

func TestMemoryAttemptsAndFailure(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		n, err := m.BeginAttempt(ctx, "X1", at)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	require.NoError(t, m.MarkFailed(ctx, "X1", "fetch: 500", at))

	l, err := m.Listing(ctx, "X1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, l.ScrapeStatus)
	require.NotNil(t, l.LastScrapeError)
	require.NotNil(t, l.FailedAt)

	// a save keeps the attempt counter
	l.Confidence = 1
	require.NoError(t, m.SaveScrape(ctx, l))
	l, _ = m.Listing(ctx, "X1")
	assert.Equal(t, 3, l.ScrapeAttempts)

	require.NoError(t, m.ResetAttempts(ctx, "X1"))
	l, _ = m.Listing(ctx, "X1")
	assert.Equal(t, 0, l.ScrapeAttempts)
	assert.Equal(t, models.StatusActive, l.ScrapeStatus)
	assert.Nil(t, l.FailedAt)

	assert.ErrorIs(t, m.MarkFailed(ctx, "nope", "x", at), ErrNotFound)
}

func TestMemorySaveScrapeKeepsCatalogText(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.UpsertCatalog(ctx, []models.ListingRecord{{Code: "A", Description: "Casa, 2 quartos", SaleModality: "Venda Online"}})
	require.NoError(t, err)

	require.NoError(t, m.SaveScrape(ctx, &models.ListingRecord{Code: "A", Confidence: 0.5}))
	l, err := m.Listing(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "Casa, 2 quartos", l.Description)
	assert.Equal(t, "Venda Online", l.SaleModality)

	require.NoError(t, m.SaveScrape(ctx, &models.ListingRecord{Code: "A", SaleModality: "Leilão SFI"}))
	l, _ = m.Listing(ctx, "A")
	assert.Equal(t, "Leilão SFI", l.SaleModality)
	assert.Equal(t, "Casa, 2 quartos", l.Description)
}

func TestMemoryCatalogAndDue(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	n, err := m.UpsertCatalog(ctx, []models.ListingRecord{{Code: "A", City: "Recife"}, {Code: "B"}, {Code: "C"}})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = m.UpsertCatalog(ctx, []models.ListingRecord{{Code: "A", City: "Olinda"}, {Code: "D"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	fresh := now.Add(-time.Hour)
	old := now.Add(-48 * time.Hour)
	require.NoError(t, m.SaveScrape(ctx, &models.ListingRecord{Code: "B", ScrapedAt: &fresh}))
	require.NoError(t, m.SaveScrape(ctx, &models.ListingRecord{Code: "C", ScrapedAt: &old}))
	require.NoError(t, m.MarkFailed(ctx, "D", "gone", now))

	due, err := m.Due(ctx, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, due)

	a, _ := m.Listing(ctx, "A")
	assert.Equal(t, "Olinda", a.City)

	known, err := m.KnownCodes(ctx)
	require.NoError(t, err)
	assert.Len(t, known, 4)
	assert.Nil(t, known["A"])
	assert.True(t, known["B"].Equal(fresh))
}

func TestMemoryEvents(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	high := &models.ChangeEvent{Type: models.EventPageStructureChange, Subject: "u", Severity: models.SeverityHigh,
		RequiresAttention: true, CreatedAt: now}
	low := &models.ChangeEvent{Type: models.EventPageStructureChange, Subject: "u", Severity: models.SeverityLow, CreatedAt: now}
	fail := &models.ChangeEvent{Type: models.EventScrapingFailure, Subject: "X", CreatedAt: now.Add(-7 * time.Hour)}
	for _, e := range []*models.ChangeEvent{high, low, fail} {
		require.NoError(t, m.InsertEvent(ctx, e))
	}

	pending, err := m.PendingEvents(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, high.ID, pending[0].ID)

	require.NoError(t, m.ResolveEvent(ctx, high.ID, "ops", now))
	assert.ErrorIs(t, m.ResolveEvent(ctx, high.ID, "ops", now), ErrNotFound)
	pending, _ = m.PendingEvents(ctx)
	assert.Empty(t, pending)

	recent, err := m.RecentEvents(ctx, []string{models.EventScrapingFailure}, now.Add(-6*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, recent)
}
