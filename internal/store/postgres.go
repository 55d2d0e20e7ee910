package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/shopglide/cartcore/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot store operations.
var preparedStatements = map[string]string{
	"get_cached_search":       `SELECT candidates FROM search_cache WHERE cache_key = $1 AND expires_at > now() ORDER BY cached_at DESC LIMIT 1`,
	"set_cached_search":       `INSERT INTO search_cache (id, cache_key, candidates, cached_at, expires_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (cache_key) DO UPDATE SET candidates = EXCLUDED.candidates, cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
	"delete_expired_searches": `DELETE FROM search_cache WHERE expires_at <= now()`,
	"save_event":              `INSERT INTO analytics_events (id, session_id, kind, product_id, variant_id, payload, occurred_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS search_cache (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	cache_key  TEXT NOT NULL UNIQUE,
	candidates JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS analytics_events (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	session_id  TEXT NOT NULL,
	kind        TEXT NOT NULL,
	product_id  TEXT,
	variant_id  TEXT,
	payload     JSONB,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_search_cache_key ON search_cache(cache_key);
CREATE INDEX IF NOT EXISTS idx_search_cache_expires_at ON search_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_analytics_events_session ON analytics_events(session_id);
CREATE INDEX IF NOT EXISTS idx_analytics_events_kind ON analytics_events(kind);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetCachedSearch(ctx context.Context, key string) ([]model.Candidate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT candidates FROM search_cache
		 WHERE cache_key = $1 AND expires_at > now()
		 ORDER BY cached_at DESC LIMIT 1`,
		key,
	)

	var candidatesJSON []byte
	err := row.Scan(&candidatesJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached search")
	}

	var candidates []model.Candidate
	if err := json.Unmarshal(candidatesJSON, &candidates); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached candidates")
	}
	return candidates, nil
}

func (s *PostgresStore) SetCachedSearch(ctx context.Context, key string, candidates []model.Candidate, ttl time.Duration) error {
	now := time.Now().UTC()

	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal candidates")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO search_cache (id, cache_key, candidates, cached_at, expires_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (cache_key) DO UPDATE SET candidates = EXCLUDED.candidates,
		 cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
		uuid.New().String(), key, candidatesJSON, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached search")
}

func (s *PostgresStore) DeleteExpiredSearches(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM search_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired searches")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) SaveEvent(ctx context.Context, ev EventRecord) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	var payload any
	if ev.Payload != "" {
		payload = ev.Payload
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO analytics_events (id, session_id, kind, product_id, variant_id, payload, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.SessionID, ev.Kind, ev.ProductID, ev.VariantID, payload, ev.OccurredAt,
	)
	return eris.Wrap(err, "postgres: save event")
}

func (s *PostgresStore) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM analytics_events`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count events")
}
