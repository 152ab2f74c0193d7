package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"imovel-scraper/models"
)

const listingColumns = `code, uf, cidade, bairro, endereco, descricao, modalidade_venda, link,
	aceita_financiamento, valor_venda, valor_avaliacao, endereco_completo, situacao_imovel,
	ocupacao, tipo_imovel, matricula, area_privativa, area_total, quartos, banheiros, vagas_garagem,
	source, confidence, scraped_at, scrape_attempts, last_attempt_at, last_scrape_error,
	scrape_status, failed_at, created_at, updated_at`

const snapshotColumns = `id, subject_key, type, subject, content_hash, structure_summary,
	confidence, captured_at, parent_snapshot_id`

const eventColumns = `id, type, subject, severity, changes, action_taken, requires_attention,
	error_message, created_at, resolved_at, resolved_by`

// uniqueViolation is the Postgres error code of a unique index violation.
const uniqueViolation = "23505"

// PostgresStore persists the pipeline state in PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresStore.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := NewPostgresStoreFromDB(db)
	if err := ps.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return ps, nil
}

// NewPostgresStoreFromDB wraps an open connection without migrating it.
func NewPostgresStoreFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (ps *PostgresStore) migrate(ctx context.Context) error {
	_, err := ps.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			code                 TEXT PRIMARY KEY,
			uf                   TEXT NOT NULL DEFAULT '',
			cidade               TEXT NOT NULL DEFAULT '',
			bairro               TEXT NOT NULL DEFAULT '',
			endereco             TEXT NOT NULL DEFAULT '',
			descricao            TEXT NOT NULL DEFAULT '',
			modalidade_venda     TEXT NOT NULL DEFAULT '',
			link                 TEXT NOT NULL DEFAULT '',
			aceita_financiamento BOOLEAN,
			valor_venda          NUMERIC(14,2),
			valor_avaliacao      NUMERIC(14,2),
			endereco_completo    TEXT,
			situacao_imovel      TEXT,
			ocupacao             TEXT,
			tipo_imovel          TEXT,
			matricula            TEXT,
			area_privativa       NUMERIC(12,2),
			area_total           NUMERIC(12,2),
			quartos              INTEGER,
			banheiros            INTEGER,
			vagas_garagem        INTEGER,
			source               VARCHAR(20)  NOT NULL DEFAULT 'catalog_feed',
			confidence           NUMERIC(4,3) NOT NULL DEFAULT 0,
			scraped_at           TIMESTAMPTZ,
			scrape_attempts      INTEGER      NOT NULL DEFAULT 0,
			last_attempt_at      TIMESTAMPTZ,
			last_scrape_error    TEXT,
			scrape_status        VARCHAR(10)  NOT NULL DEFAULT '',
			failed_at            TIMESTAMPTZ,
			created_at           TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			CONSTRAINT failed_has_reason CHECK (
				scrape_status <> 'failed' OR (last_scrape_error IS NOT NULL AND failed_at IS NOT NULL)
			)
		);

		CREATE INDEX IF NOT EXISTS idx_listings_scraped_at ON listings(scraped_at);
		CREATE INDEX IF NOT EXISTS idx_listings_status     ON listings(scrape_status);

		CREATE TABLE IF NOT EXISTS structure_snapshots (
			id                 BIGSERIAL PRIMARY KEY,
			subject_key        TEXT         NOT NULL,
			type               VARCHAR(20)  NOT NULL,
			subject            TEXT         NOT NULL DEFAULT '',
			content_hash       VARCHAR(64)  NOT NULL,
			structure_summary  JSONB        NOT NULL,
			confidence         NUMERIC(4,3) NOT NULL,
			captured_at        TIMESTAMPTZ  NOT NULL,
			parent_snapshot_id BIGINT REFERENCES structure_snapshots(id)
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_latest
			ON structure_snapshots(subject_key, type, captured_at DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_snapshots_hash ON structure_snapshots(type, content_hash);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_parent ON structure_snapshots(parent_snapshot_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_root
			ON structure_snapshots(subject_key, type) WHERE parent_snapshot_id IS NULL;

		CREATE TABLE IF NOT EXISTS snapshot_subjects (
			subject_key     TEXT        NOT NULL,
			type            VARCHAR(20) NOT NULL,
			state           VARCHAR(20) NOT NULL,
			clean_checks    INTEGER     NOT NULL DEFAULT 0,
			last_checked_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (subject_key, type)
		);

		CREATE TABLE IF NOT EXISTS change_events (
			id                 BIGSERIAL PRIMARY KEY,
			type               VARCHAR(40) NOT NULL,
			subject            TEXT        NOT NULL,
			severity           VARCHAR(10) NOT NULL DEFAULT '',
			changes            JSONB       NOT NULL DEFAULT '[]',
			action_taken       TEXT        NOT NULL DEFAULT '',
			requires_attention BOOLEAN     NOT NULL DEFAULT FALSE,
			error_message      TEXT        NOT NULL DEFAULT '',
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at        TIMESTAMPTZ,
			resolved_by        TEXT        NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_change_events_type_created ON change_events(type, created_at);
		CREATE INDEX IF NOT EXISTS idx_change_events_pending
			ON change_events(created_at) WHERE requires_attention AND resolved_at IS NULL;

		CREATE TABLE IF NOT EXISTS scrape_runs (
			id           UUID PRIMARY KEY,
			mode         VARCHAR(20)  NOT NULL,
			started_at   TIMESTAMPTZ  NOT NULL,
			completed_at TIMESTAMPTZ,
			total        INTEGER      NOT NULL DEFAULT 0,
			scraped      INTEGER      NOT NULL DEFAULT 0,
			errors       INTEGER      NOT NULL DEFAULT 0,
			skipped      INTEGER      NOT NULL DEFAULT 0,
			success_rate NUMERIC(5,2) NOT NULL DEFAULT 0,
			failures     JSONB        NOT NULL DEFAULT '[]'
		);
	`)
	return err
}

// Close closes the database connection.
func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

// Listing loads one listing by code.
func (ps *PostgresStore) Listing(ctx context.Context, code string) (*models.ListingRecord, error) {
	var l models.ListingRecord
	err := ps.db.GetContext(ctx, &l, `SELECT `+listingColumns+` FROM listings WHERE code = $1`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get listing %s: %w", code, err)
	}
	return &l, nil
}

// UpsertCatalog inserts or refreshes the feed fields of listings in one
// transaction.
func (ps *PostgresStore) UpsertCatalog(ctx context.Context, listings []models.ListingRecord) (int, error) {
	if len(listings) == 0 {
		return 0, nil
	}

	tx, err := ps.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for i := range listings {
		l := &listings[i]
		var isNew bool
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO listings (code, uf, cidade, bairro, endereco, descricao, modalidade_venda, link, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (code) DO UPDATE SET
				uf = EXCLUDED.uf, cidade = EXCLUDED.cidade, bairro = EXCLUDED.bairro,
				endereco = EXCLUDED.endereco, link = EXCLUDED.link, updated_at = NOW()
			RETURNING (xmax = 0)
		`, l.Code, l.State, l.City, l.Neighborhood, l.Address, l.Description, l.SaleModality, l.Link,
			models.SourceCatalogFeed).Scan(&isNew)
		if err != nil {
			return 0, fmt.Errorf("postgres: upsert catalog %s: %w", l.Code, err)
		}
		if isNew {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("postgres: commit catalog: %w", err)
	}
	return inserted, nil
}

// SaveScrape upserts the extracted fields and provenance of rec. An empty
// description or sale modality keeps the stored value, which the catalog
// import may have written since rec was read.
func (ps *PostgresStore) SaveScrape(ctx context.Context, rec *models.ListingRecord) error {
	_, err := ps.db.NamedExecContext(ctx, `
		INSERT INTO listings (code, descricao, modalidade_venda, aceita_financiamento, valor_venda,
			valor_avaliacao, endereco_completo, situacao_imovel, ocupacao, tipo_imovel, matricula,
			area_privativa, area_total, quartos, banheiros, vagas_garagem, source, confidence,
			scraped_at, last_scrape_error, scrape_status, failed_at)
		VALUES (:code, :descricao, :modalidade_venda, :aceita_financiamento, :valor_venda,
			:valor_avaliacao, :endereco_completo, :situacao_imovel, :ocupacao, :tipo_imovel, :matricula,
			:area_privativa, :area_total, :quartos, :banheiros, :vagas_garagem, :source, :confidence,
			:scraped_at, :last_scrape_error, :scrape_status, :failed_at)
		ON CONFLICT (code) DO UPDATE SET
			descricao = COALESCE(NULLIF(EXCLUDED.descricao, ''), listings.descricao),
			modalidade_venda = COALESCE(NULLIF(EXCLUDED.modalidade_venda, ''), listings.modalidade_venda),
			aceita_financiamento = EXCLUDED.aceita_financiamento,
			valor_venda = EXCLUDED.valor_venda,
			valor_avaliacao = EXCLUDED.valor_avaliacao,
			endereco_completo = EXCLUDED.endereco_completo,
			situacao_imovel = EXCLUDED.situacao_imovel,
			ocupacao = EXCLUDED.ocupacao,
			tipo_imovel = EXCLUDED.tipo_imovel,
			matricula = EXCLUDED.matricula,
			area_privativa = EXCLUDED.area_privativa,
			area_total = EXCLUDED.area_total,
			quartos = EXCLUDED.quartos,
			banheiros = EXCLUDED.banheiros,
			vagas_garagem = EXCLUDED.vagas_garagem,
			source = EXCLUDED.source,
			confidence = EXCLUDED.confidence,
			scraped_at = EXCLUDED.scraped_at,
			last_scrape_error = EXCLUDED.last_scrape_error,
			scrape_status = EXCLUDED.scrape_status,
			failed_at = EXCLUDED.failed_at,
			updated_at = NOW()
	`, rec)
	if err != nil {
		return fmt.Errorf("postgres: save scrape %s: %w", rec.Code, err)
	}
	return nil
}

// BeginAttempt increments the attempt counter of code in one statement.
func (ps *PostgresStore) BeginAttempt(ctx context.Context, code string, at time.Time) (int, error) {
	var attempts int
	err := ps.db.QueryRowxContext(ctx, `
		INSERT INTO listings (code, source, scrape_attempts, last_attempt_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (code) DO UPDATE SET
			scrape_attempts = listings.scrape_attempts + 1,
			last_attempt_at = EXCLUDED.last_attempt_at,
			updated_at = NOW()
		RETURNING scrape_attempts
	`, code, models.SourceScrape, at).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin attempt %s: %w", code, err)
	}
	return attempts, nil
}

// RecordError stores the error of a failed attempt that will be retried.
func (ps *PostgresStore) RecordError(ctx context.Context, code, message string) error {
	return ps.updateOne(ctx, "record error", code,
		`UPDATE listings SET last_scrape_error = $2, updated_at = NOW() WHERE code = $1`, code, message)
}

// MarkFailed marks code as terminally failed.
func (ps *PostgresStore) MarkFailed(ctx context.Context, code, message string, at time.Time) error {
	return ps.updateOne(ctx, "mark failed", code, `
		UPDATE listings
		SET scrape_status = 'failed', last_scrape_error = $2, failed_at = $3, updated_at = NOW()
		WHERE code = $1
	`, code, message, at)
}

// ResetAttempts zeroes the attempt counter and clears a failed status.
func (ps *PostgresStore) ResetAttempts(ctx context.Context, code string) error {
	return ps.updateOne(ctx, "reset attempts", code, `
		UPDATE listings
		SET scrape_attempts = 0,
			scrape_status = CASE WHEN scrape_status = 'failed' THEN 'active' ELSE scrape_status END,
			last_scrape_error = NULL, failed_at = NULL, updated_at = NOW()
		WHERE code = $1
	`, code)
}

func (ps *PostgresStore) updateOne(ctx context.Context, op, code, query string, args ...any) error {
	res, err := ps.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: %s %s: %w", op, code, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: %s %s: %w", op, code, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Due lists codes that were never scraped or went stale, oldest first.
// Failed listings wait for a manual reset.
func (ps *PostgresStore) Due(ctx context.Context, staleBefore time.Time, limit int) ([]string, error) {
	var codes []string
	err := ps.db.SelectContext(ctx, &codes, `
		SELECT code FROM listings
		WHERE (scraped_at IS NULL OR scraped_at < $1) AND scrape_status <> 'failed'
		ORDER BY scraped_at NULLS FIRST, code
		LIMIT $2
	`, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: due: %w", err)
	}
	return codes, nil
}

// KnownCodes maps every stored code to its scraped_at.
func (ps *PostgresStore) KnownCodes(ctx context.Context) (map[string]*time.Time, error) {
	rows, err := ps.db.QueryxContext(ctx, `SELECT code, scraped_at FROM listings`)
	if err != nil {
		return nil, fmt.Errorf("postgres: known codes: %w", err)
	}
	defer rows.Close()

	known := make(map[string]*time.Time)
	for rows.Next() {
		var code string
		var scrapedAt sql.NullTime
		if err := rows.Scan(&code, &scrapedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan known code: %w", err)
		}
		if scrapedAt.Valid {
			t := scrapedAt.Time
			known[code] = &t
		} else {
			known[code] = nil
		}
	}
	return known, rows.Err()
}

// Listings returns every listing ordered by code.
func (ps *PostgresStore) Listings(ctx context.Context) ([]models.ListingRecord, error) {
	var out []models.ListingRecord
	if err := ps.db.SelectContext(ctx, &out, `SELECT `+listingColumns+` FROM listings ORDER BY code`); err != nil {
		return nil, fmt.Errorf("postgres: listings: %w", err)
	}
	return out, nil
}

// LatestSnapshot returns the newest snapshot of a subject.
func (ps *PostgresStore) LatestSnapshot(ctx context.Context, subjectKey string, typ models.SnapshotType) (*models.StructureSnapshot, error) {
	return ps.getSnapshot(ctx, `SELECT `+snapshotColumns+` FROM structure_snapshots
		WHERE subject_key = $1 AND type = $2
		ORDER BY captured_at DESC, id DESC LIMIT 1`, subjectKey, typ)
}

// SnapshotByHash returns any snapshot of typ with the given content hash.
func (ps *PostgresStore) SnapshotByHash(ctx context.Context, typ models.SnapshotType, contentHash string) (*models.StructureSnapshot, error) {
	return ps.getSnapshot(ctx, `SELECT `+snapshotColumns+` FROM structure_snapshots
		WHERE type = $1 AND content_hash = $2
		ORDER BY id DESC LIMIT 1`, typ, contentHash)
}

func (ps *PostgresStore) getSnapshot(ctx context.Context, query string, args ...any) (*models.StructureSnapshot, error) {
	var s models.StructureSnapshot
	err := ps.db.GetContext(ctx, &s, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get snapshot: %w", err)
	}
	return &s, nil
}

// CreateSnapshot appends s. The unique indexes on the parent reference and
// on the chain root turn a forked chain into ErrChainConflict.
func (ps *PostgresStore) CreateSnapshot(ctx context.Context, s *models.StructureSnapshot) error {
	err := ps.db.QueryRowxContext(ctx, `
		INSERT INTO structure_snapshots
			(subject_key, type, subject, content_hash, structure_summary, confidence, captured_at, parent_snapshot_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, s.SubjectKey, s.Type, s.Subject, s.ContentHash, s.Summary, s.Confidence, s.CapturedAt, s.ParentID).Scan(&s.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrChainConflict
		}
		return fmt.Errorf("postgres: create snapshot: %w", err)
	}
	return nil
}

// Chain returns the snapshots of a subject in capture order.
func (ps *PostgresStore) Chain(ctx context.Context, subjectKey string, typ models.SnapshotType) ([]models.StructureSnapshot, error) {
	var out []models.StructureSnapshot
	err := ps.db.SelectContext(ctx, &out, `SELECT `+snapshotColumns+` FROM structure_snapshots
		WHERE subject_key = $1 AND type = $2
		ORDER BY captured_at, id`, subjectKey, typ)
	if err != nil {
		return nil, fmt.Errorf("postgres: chain: %w", err)
	}
	return out, nil
}

// SubjectStatus returns the drift bookkeeping of a subject.
func (ps *PostgresStore) SubjectStatus(ctx context.Context, subjectKey string, typ models.SnapshotType) (*models.SubjectStatus, error) {
	var st models.SubjectStatus
	err := ps.db.GetContext(ctx, &st, `
		SELECT subject_key, type, state, clean_checks, last_checked_at
		FROM snapshot_subjects WHERE subject_key = $1 AND type = $2
	`, subjectKey, typ)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: subject status: %w", err)
	}
	return &st, nil
}

// SaveSubjectStatus upserts st.
func (ps *PostgresStore) SaveSubjectStatus(ctx context.Context, st *models.SubjectStatus) error {
	_, err := ps.db.NamedExecContext(ctx, `
		INSERT INTO snapshot_subjects (subject_key, type, state, clean_checks, last_checked_at)
		VALUES (:subject_key, :type, :state, :clean_checks, :last_checked_at)
		ON CONFLICT (subject_key, type) DO UPDATE SET
			state = EXCLUDED.state,
			clean_checks = EXCLUDED.clean_checks,
			last_checked_at = EXCLUDED.last_checked_at
	`, st)
	if err != nil {
		return fmt.Errorf("postgres: save subject status: %w", err)
	}
	return nil
}

// InsertEvent appends e to the change log and sets its ID.
func (ps *PostgresStore) InsertEvent(ctx context.Context, e *models.ChangeEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := ps.db.QueryRowxContext(ctx, `
		INSERT INTO change_events
			(type, subject, severity, changes, action_taken, requires_attention, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, e.Type, e.Subject, e.Severity, e.Changes, e.ActionTaken, e.RequiresAttention, e.ErrorMessage, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("postgres: insert event: %w", err)
	}
	return nil
}

// ResolveEvent sets resolved_at on an unresolved event.
func (ps *PostgresStore) ResolveEvent(ctx context.Context, id int64, by string, at time.Time) error {
	return ps.updateOne(ctx, "resolve event", fmt.Sprint(id), `
		UPDATE change_events SET resolved_at = $2, resolved_by = $3
		WHERE id = $1 AND resolved_at IS NULL
	`, id, at, by)
}

// PendingEvents lists unresolved events that require attention.
func (ps *PostgresStore) PendingEvents(ctx context.Context) ([]models.ChangeEvent, error) {
	var out []models.ChangeEvent
	err := ps.db.SelectContext(ctx, &out, `SELECT `+eventColumns+` FROM change_events
		WHERE requires_attention AND resolved_at IS NULL
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending events: %w", err)
	}
	return out, nil
}

// RecentEvents lists events of the given types created at or after since.
func (ps *PostgresStore) RecentEvents(ctx context.Context, types []string, since time.Time) ([]models.ChangeEvent, error) {
	var out []models.ChangeEvent
	err := ps.db.SelectContext(ctx, &out, `SELECT `+eventColumns+` FROM change_events
		WHERE type = ANY($1) AND created_at >= $2
		ORDER BY created_at, id`, pq.Array(types), since)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent events: %w", err)
	}
	return out, nil
}

// CreateRun records the start of a batch run.
func (ps *PostgresStore) CreateRun(ctx context.Context, r *models.ScrapeRun) error {
	_, err := ps.db.NamedExecContext(ctx, `
		INSERT INTO scrape_runs (id, mode, started_at, total)
		VALUES (:id, :mode, :started_at, :total)
	`, r)
	if err != nil {
		return fmt.Errorf("postgres: create run: %w", err)
	}
	return nil
}

// CompleteRun stores the final counts of a batch run.
func (ps *PostgresStore) CompleteRun(ctx context.Context, r *models.ScrapeRun) error {
	_, err := ps.db.NamedExecContext(ctx, `
		UPDATE scrape_runs SET completed_at = :completed_at, total = :total, scraped = :scraped,
			errors = :errors, skipped = :skipped, success_rate = :success_rate, failures = :failures
		WHERE id = :id
	`, r)
	if err != nil {
		return fmt.Errorf("postgres: complete run: %w", err)
	}
	return nil
}
