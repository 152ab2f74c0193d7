package storage

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imovel-scraper/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return NewPostgresStoreFromDB(sqlx.NewDb(mockDB, "postgres")), mock
}

func TestPostgresBeginAttemptIncrementsAtomically(t *testing.T) {
	ps, mock := newMockStore(t)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("scrape_attempts = listings.scrape_attempts + 1")).
		WithArgs("X123", models.SourceScrape, at).
		WillReturnRows(sqlmock.NewRows([]string{"scrape_attempts"}).AddRow(4))

	n, err := ps.BeginAttempt(context.Background(), "X123", at)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkFailedUnknownCode(t *testing.T) {
	ps, mock := newMockStore(t)
	at := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("SET scrape_status = 'failed'")).
		WithArgs("nope", "boom", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := ps.MarkFailed(context.Background(), "nope", "boom", at)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListingNotFound(t *testing.T) {
	ps, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM listings WHERE code = $1")).
		WithArgs("X").
		WillReturnError(sql.ErrNoRows)

	_, err := ps.Listing(context.Background(), "X")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresCreateSnapshotConflict(t *testing.T) {
	ps, mock := newMockStore(t)
	parent := int64(7)
	s := &models.StructureSnapshot{
		SubjectKey: "k", Type: models.PageStructure, ContentHash: "h",
		Summary: models.StructureSummary{Page: &models.PageFingerprint{}}, Confidence: 0.5,
		CapturedAt: time.Now(), ParentID: &parent,
	}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO structure_snapshots")).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := ps.CreateSnapshot(context.Background(), s)
	assert.ErrorIs(t, err, ErrChainConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateSnapshotSetsID(t *testing.T) {
	ps, mock := newMockStore(t)
	s := &models.StructureSnapshot{
		SubjectKey: "k", Type: models.CSVStructure, ContentHash: "h",
		Summary: models.StructureSummary{Feed: &models.FeedFingerprint{Columns: []string{"a"}}}, Confidence: 1,
		CapturedAt: time.Now(),
	}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO structure_snapshots")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))

	require.NoError(t, ps.CreateSnapshot(context.Background(), s))
	assert.Equal(t, int64(12), s.ID)
}

func TestPostgresLatestSnapshot(t *testing.T) {
	ps, mock := newMockStore(t)
	captured := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "subject_key", "type", "subject", "content_hash",
		"structure_summary", "confidence", "captured_at", "parent_snapshot_id"}).
		AddRow(3, "k", "page_structure", "https://x", "h", []byte(`{"page":{"meta_info":{"total_elements":40}}}`),
			0.5, captured, 2)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY captured_at DESC, id DESC LIMIT 1")).
		WithArgs("k", models.PageStructure).
		WillReturnRows(rows)

	s, err := ps.LatestSnapshot(context.Background(), "k", models.PageStructure)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.ID)
	require.NotNil(t, s.ParentID)
	assert.Equal(t, int64(2), *s.ParentID)
	require.NotNil(t, s.Summary.Page)
	assert.Equal(t, 40, s.Summary.Page.Counters.TotalElements)
}

func TestPostgresUpsertCatalogCountsInserts(t *testing.T) {
	ps, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (code) DO UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (code) DO UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(false))
	mock.ExpectCommit()

	n, err := ps.UpsertCatalog(context.Background(), []models.ListingRecord{{Code: "A"}, {Code: "B"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveScrapeKeepsCatalogText(t *testing.T) {
	ps, mock := newMockStore(t)
	mock.ExpectExec("(?s)" + regexp.QuoteMeta("descricao = COALESCE(NULLIF(EXCLUDED.descricao, ''), listings.descricao)") +
		".*" + regexp.QuoteMeta("modalidade_venda = COALESCE(NULLIF(EXCLUDED.modalidade_venda, ''), listings.modalidade_venda)")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ps.SaveScrape(context.Background(), &models.ListingRecord{Code: "X1", Source: models.SourceScrape})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecentEvents(t *testing.T) {
	ps, mock := newMockStore(t)
	since := time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "type", "subject", "severity", "changes", "action_taken",
		"requires_attention", "error_message", "created_at", "resolved_at", "resolved_by"}).
		AddRow(1, models.EventScrapingFailure, "X1", "", []byte(`[]`), "", false, "element not found",
			since.Add(time.Hour), nil, "")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE type = ANY($1) AND created_at >= $2")).
		WillReturnRows(rows)

	events, err := ps.RecentEvents(context.Background(), []string{models.EventScrapingFailure}, since)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "element not found", events[0].ErrorMessage)
	assert.Nil(t, events[0].ResolvedAt)
}
