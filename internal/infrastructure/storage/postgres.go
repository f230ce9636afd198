package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"ResearchRadar/internal/domain"
	"ResearchRadar/internal/ports"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store backs the dedup, cursor and verdict contracts with Postgres.
// Seen/delivery marking relies on ON CONFLICT upserts, which gives the
// per-identity atomicity the pipeline needs when sources run concurrently.
type Store struct {
	db *sql.DB
}

var _ ports.DedupStore = (*Store)(nil)
var _ ports.CursorStore = (*Store)(nil)
var _ ports.VerdictStore = (*Store)(nil)

// Open connects and verifies the database is reachable.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &domain.StoreError{Op: "open", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.StoreError{Op: "ping", Err: err}
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection (used by tests and wiring).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the persisted state layout if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS seen_items (
			identity      TEXT PRIMARY KEY,
			source_type   TEXT NOT NULL,
			title         TEXT NOT NULL DEFAULT '',
			url           TEXT NOT NULL DEFAULT '',
			first_seen_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			identity     TEXT NOT NULL,
			sink         TEXT NOT NULL,
			delivered_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (identity, sink)
		)`,
		`CREATE TABLE IF NOT EXISTS source_cursors (
			source_type TEXT PRIMARY KEY,
			marker      TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS relevance_verdicts (
			identity      TEXT NOT NULL,
			model_version TEXT NOT NULL,
			relevant      BOOLEAN NOT NULL,
			score         DOUBLE PRECISION NOT NULL,
			degraded      BOOLEAN NOT NULL DEFAULT FALSE,
			decided_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (identity, model_version)
		)`,
		`CREATE TABLE IF NOT EXISTS archive_items (
			identity    TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			url         TEXT NOT NULL DEFAULT '',
			summary     TEXT NOT NULL DEFAULT '',
			keywords    TEXT NOT NULL DEFAULT '',
			archived_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &domain.StoreError{Op: "migrate", Err: err}
		}
	}
	return nil
}

// HasSeen reports whether the identity was normalized in any prior run.
func (s *Store) HasSeen(ctx context.Context, identity string) (bool, error) {
	query, args, err := psql.Select("1").
		From("seen_items").
		Where(sq.Eq{"identity": identity}).
		ToSql()
	if err != nil {
		return false, &domain.StoreError{Op: "has_seen", Err: err}
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &domain.StoreError{Op: "has_seen", Err: err}
	}
	return true, nil
}

// MarkSeen records the identity; a concurrent duplicate insert is a no-op.
func (s *Store) MarkSeen(ctx context.Context, rec domain.SeenRecord) error {
	query, args, err := psql.Insert("seen_items").
		Columns("identity", "source_type", "title", "url", "first_seen_at").
		Values(rec.Identity, string(rec.SourceType), rec.Title, rec.URL, rec.FirstSeenAt).
		Suffix("ON CONFLICT (identity) DO NOTHING").
		ToSql()
	if err != nil {
		return &domain.StoreError{Op: "mark_seen", Err: err}
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &domain.StoreError{Op: "mark_seen", Err: err}
	}
	return nil
}

// IsDelivered reports whether the identity already reached the sink.
func (s *Store) IsDelivered(ctx context.Context, identity, sink string) (bool, error) {
	query, args, err := psql.Select("1").
		From("deliveries").
		Where(sq.Eq{"identity": identity, "sink": sink}).
		ToSql()
	if err != nil {
		return false, &domain.StoreError{Op: "is_delivered", Err: err}
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &domain.StoreError{Op: "is_delivered", Err: err}
	}
	return true, nil
}

// MarkDelivered flags a successful sink delivery; repeats are no-ops.
func (s *Store) MarkDelivered(ctx context.Context, identity, sink string, at time.Time) error {
	query, args, err := psql.Insert("deliveries").
		Columns("identity", "sink", "delivered_at").
		Values(identity, sink, at).
		Suffix("ON CONFLICT (identity, sink) DO NOTHING").
		ToSql()
	if err != nil {
		return &domain.StoreError{Op: "mark_delivered", Err: err}
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &domain.StoreError{Op: "mark_delivered", Err: err}
	}
	return nil
}

// Cursor loads the per-source resume marker; nil means never fetched.
func (s *Store) Cursor(ctx context.Context, source string) (*time.Time, error) {
	query, args, err := psql.Select("marker").
		From("source_cursors").
		Where(sq.Eq{"source_type": source}).
		ToSql()
	if err != nil {
		return nil, &domain.StoreError{Op: "cursor", Err: err}
	}

	var marker time.Time
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&marker)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "cursor", Err: err}
	}
	return &marker, nil
}

// SaveCursor upserts the per-source resume marker.
func (s *Store) SaveCursor(ctx context.Context, source string, marker time.Time) error {
	query, args, err := psql.Insert("source_cursors").
		Columns("source_type", "marker", "updated_at").
		Values(source, marker, time.Now().UTC()).
		Suffix("ON CONFLICT (source_type) DO UPDATE SET marker = EXCLUDED.marker, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return &domain.StoreError{Op: "save_cursor", Err: err}
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &domain.StoreError{Op: "save_cursor", Err: err}
	}
	return nil
}

// SaveVerdict appends to the verdict history. One row per
// (identity, model_version); re-running the same model version keeps the
// earlier decision.
func (s *Store) SaveVerdict(ctx context.Context, v domain.RelevanceVerdict) error {
	query, args, err := psql.Insert("relevance_verdicts").
		Columns("identity", "model_version", "relevant", "score", "degraded", "decided_at").
		Values(v.Identity, v.ModelVersion, v.Relevant, v.Score, v.Degraded, v.DecidedAt).
		Suffix("ON CONFLICT (identity, model_version) DO NOTHING").
		ToSql()
	if err != nil {
		return &domain.StoreError{Op: "save_verdict", Err: err}
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &domain.StoreError{Op: "save_verdict", Err: err}
	}
	return nil
}

// Latest returns the most recent verdict recorded for the identity, or nil
// when the identity was never classified.
func (s *Store) Latest(ctx context.Context, identity string) (*domain.RelevanceVerdict, error) {
	query, args, err := psql.Select("identity", "model_version", "relevant", "score", "degraded", "decided_at").
		From("relevance_verdicts").
		Where(sq.Eq{"identity": identity}).
		OrderBy("decided_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, &domain.StoreError{Op: "latest_verdict", Err: err}
	}

	var v domain.RelevanceVerdict
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&v.Identity, &v.ModelVersion, &v.Relevant, &v.Score, &v.Degraded, &v.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "latest_verdict", Err: err}
	}
	return &v, nil
}

// archive upserts the delivered item into the local archive table.
func (s *Store) archive(ctx context.Context, item domain.CanonicalItem, insight domain.ExtractedInsight, keywords string) error {
	query, args, err := psql.Insert("archive_items").
		Columns("identity", "title", "url", "summary", "keywords", "archived_at").
		Values(item.Identity, item.Title, item.URL, insight.Summary, keywords, time.Now().UTC()).
		Suffix(`ON CONFLICT (identity) DO UPDATE
			SET summary = EXCLUDED.summary,
			    keywords = EXCLUDED.keywords,
			    archived_at = EXCLUDED.archived_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build archive query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return nil
}
