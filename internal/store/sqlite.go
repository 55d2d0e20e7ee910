package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/shopglide/cartcore/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS search_cache (
	id         TEXT PRIMARY KEY,
	cache_key  TEXT NOT NULL UNIQUE,
	candidates TEXT NOT NULL,
	cached_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS analytics_events (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	kind        TEXT NOT NULL,
	product_id  TEXT,
	variant_id  TEXT,
	payload     TEXT,
	occurred_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_search_cache_key ON search_cache(cache_key);
CREATE INDEX IF NOT EXISTS idx_search_cache_expires_at ON search_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_analytics_events_session ON analytics_events(session_id);
CREATE INDEX IF NOT EXISTS idx_analytics_events_kind ON analytics_events(kind);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetCachedSearch(ctx context.Context, key string) ([]model.Candidate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT candidates FROM search_cache
		 WHERE cache_key = ? AND expires_at > datetime('now')
		 ORDER BY cached_at DESC LIMIT 1`,
		key,
	)

	var candidatesJSON string
	err := row.Scan(&candidatesJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached search")
	}

	var candidates []model.Candidate
	if err := json.Unmarshal([]byte(candidatesJSON), &candidates); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached candidates")
	}
	return candidates, nil
}

func (s *SQLiteStore) SetCachedSearch(ctx context.Context, key string, candidates []model.Candidate, ttl time.Duration) error {
	now := time.Now().UTC()

	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal candidates")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO search_cache (id, cache_key, candidates, cached_at, expires_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET candidates = excluded.candidates,
		 cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		uuid.New().String(), key, string(candidatesJSON), now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set cached search")
}

func (s *SQLiteStore) DeleteExpiredSearches(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM search_cache WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired searches")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) SaveEvent(ctx context.Context, ev EventRecord) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analytics_events (id, session_id, kind, product_id, variant_id, payload, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.Kind, ev.ProductID, ev.VariantID, ev.Payload, ev.OccurredAt,
	)
	return eris.Wrap(err, "sqlite: save event")
}

func (s *SQLiteStore) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM analytics_events`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count events")
}
