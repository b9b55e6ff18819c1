// Package postgres provides the Postgres-backed job ledger.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirewire/jobscraper/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// LedgerConfig controls the Postgres connection pool used for ledger rows.
type LedgerConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Cooldown        time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Ledger persists tracked jobs in Postgres. The conditional upsert in Admit
// is the single serialization point for concurrent admissions of one
// fingerprint.
type Ledger struct {
	pool     pgxPool
	table    string
	cooldown time.Duration
}

// NewLedger creates a Postgres-backed Ledger using the provided config.
func NewLedger(ctx context.Context, cfg LedgerConfig) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := resolveTable(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Ledger{pool: pool, table: table, cooldown: resolveCooldown(cfg.Cooldown)}, nil
}

// NewLedgerWithPool constructs a Ledger from an existing pool (primarily for testing).
func NewLedgerWithPool(pool pgxPool, table string, cooldown time.Duration) (*Ledger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	resolved, err := resolveTable(table)
	if err != nil {
		return nil, err
	}
	return &Ledger{pool: pool, table: resolved, cooldown: resolveCooldown(cooldown)}, nil
}

func resolveTable(table string) (string, error) {
	if table == "" {
		table = "scraped_jobs"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

func resolveCooldown(cooldown time.Duration) time.Duration {
	if cooldown <= 0 {
		return 24 * time.Hour
	}
	return cooldown
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// Migrate creates the ledger table and indexes if they do not exist.
func (l *Ledger) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id UUID NOT NULL,
	normalized_url TEXT NOT NULL,
	fingerprint CHAR(64) UNIQUE NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued'
		CHECK (status IN ('queued', 'scraping', 'scraped', 'failed')),
	scraped_payload JSONB,
	last_scraped_at TIMESTAMPTZ,
	is_archived BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
)`, l.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%[1]s_id ON %[1]s (id)`, l.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%[1]s_fingerprint ON %[1]s (fingerprint)`, l.table),
	}
	for _, stmt := range statements {
		if _, err := l.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
	}
	return nil
}

// Admit performs the conditional enqueue write. A fresh fingerprint inserts
// a queued row; an existing row is re-queued only when it is not archived,
// not already queued or scraping, and its last terminal outcome is older
// than the cooldown window. The row-level atomicity of the upsert is what
// serializes concurrent admissions; no application lock is held.
func (l *Ledger) Admit(ctx context.Context, id, normalizedURL, fingerprint string) (bool, error) {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (id, normalized_url, fingerprint, status)
VALUES ($1, $2, $3, 'queued')
ON CONFLICT (fingerprint) DO UPDATE
SET status = 'queued',
    updated_at = now()
WHERE %[1]s.is_archived = false
  AND %[1]s.status NOT IN ('queued', 'scraping')
  AND (%[1]s.last_scraped_at IS NULL
       OR %[1]s.last_scraped_at < now() - make_interval(secs => $4))
RETURNING id`, l.table)

	var returnedID string
	err := l.pool.QueryRow(ctx, query, id, normalizedURL, fingerprint, l.cooldown.Seconds()).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("admit job: %w", err)
	}
	return true, nil
}

// MarkScraping flags the row as in-flight.
func (l *Ledger) MarkScraping(ctx context.Context, fingerprint string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'scraping',
    updated_at = now()
WHERE fingerprint = $1`, l.table)
	if _, err := l.pool.Exec(ctx, query, fingerprint); err != nil {
		return fmt.Errorf("mark scraping: %w", err)
	}
	return nil
}

// MarkScraped stores the payload and stamps the terminal outcome.
func (l *Ledger) MarkScraped(ctx context.Context, fingerprint string, payload *scrape.Posting) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s
SET scraped_payload = $2,
    status = 'scraped',
    last_scraped_at = now(),
    updated_at = now()
WHERE fingerprint = $1`, l.table)
	if _, err := l.pool.Exec(ctx, query, fingerprint, data); err != nil {
		return fmt.Errorf("mark scraped: %w", err)
	}
	return nil
}

// MarkArchived records a confirmed-gone target. Archived rows are never
// re-queued by Admit.
func (l *Ledger) MarkArchived(ctx context.Context, fingerprint string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'scraped',
    is_archived = true,
    last_scraped_at = now(),
    updated_at = now()
WHERE fingerprint = $1`, l.table)
	if _, err := l.pool.Exec(ctx, query, fingerprint); err != nil {
		return fmt.Errorf("mark archived: %w", err)
	}
	return nil
}

// MarkFailed stamps a failed attempt; the row stays eligible for a later
// admission once the cooldown elapses.
func (l *Ledger) MarkFailed(ctx context.Context, fingerprint string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'failed',
    last_scraped_at = now(),
    updated_at = now()
WHERE fingerprint = $1`, l.table)
	if _, err := l.pool.Exec(ctx, query, fingerprint); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// GetJob fetches one ledger row by fingerprint.
func (l *Ledger) GetJob(ctx context.Context, fingerprint string) (scrape.TrackedJob, error) {
	query := fmt.Sprintf(`
SELECT id, normalized_url, fingerprint, status, scraped_payload,
       last_scraped_at, is_archived, created_at, updated_at, deleted_at
FROM %s
WHERE fingerprint = $1`, l.table)

	var (
		job     scrape.TrackedJob
		status  string
		payload []byte
	)
	err := l.pool.QueryRow(ctx, query, fingerprint).Scan(
		&job.ID,
		&job.NormalizedURL,
		&job.Fingerprint,
		&status,
		&payload,
		&job.LastScrapedAt,
		&job.IsArchived,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.TrackedJob{}, scrape.ErrJobNotFound
	}
	if err != nil {
		return scrape.TrackedJob{}, fmt.Errorf("get job: %w", err)
	}
	job.Status = scrape.Status(status)
	if len(payload) > 0 {
		var posting scrape.Posting
		if err := json.Unmarshal(payload, &posting); err != nil {
			return scrape.TrackedJob{}, fmt.Errorf("unmarshal payload: %w", err)
		}
		job.Payload = &posting
	}
	return job, nil
}
