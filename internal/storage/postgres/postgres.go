// Package postgres is the Postgres storage collaborator. Records of every
// domain type live in one table keyed by (domain_type, natural_key) with
// their fields as jsonb.
package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/healthingest/internal/core"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ingested_records (
	id          BIGSERIAL PRIMARY KEY,
	domain_type TEXT        NOT NULL,
	natural_key TEXT        NOT NULL,
	fields      JSONB       NOT NULL DEFAULT '{}'::jsonb,
	source      TEXT        NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (domain_type, natural_key)
)`

const findSQL = `
SELECT id, fields, source
FROM ingested_records
WHERE domain_type = $1 AND natural_key = $2`

// upsertSQL merges non-blank incoming fields into the stored ones, or
// replaces them when $5 is true. xmax = 0 only for freshly inserted rows.
const upsertSQL = `
INSERT INTO ingested_records (domain_type, natural_key, fields, source)
VALUES ($1, $2, $3::jsonb, $4)
ON CONFLICT (domain_type, natural_key) DO UPDATE SET
	fields = CASE WHEN $5::boolean THEN EXCLUDED.fields
	              ELSE ingested_records.fields || EXCLUDED.fields END,
	source = EXCLUDED.source,
	updated_at = now()
RETURNING (xmax = 0) AS inserted`

// Store implements core.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// PoolOptions tunes the connection pool. Zero fields keep pgx defaults.
type PoolOptions struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Open connects to url, pings the server and ensures the table exists.
func Open(ctx context.Context, url string, opts PoolOptions) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		cfg.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the records table if missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// FindExistingByNaturalKey returns the stored record, or nil when none exists.
func (s *Store) FindExistingByNaturalKey(ctx context.Context, t core.DomainType, key string) (*core.ExistingRecord, error) {
	var (
		id     int64
		raw    []byte
		source string
	)
	err := s.pool.QueryRow(ctx, findSQL, string(t), key).Scan(&id, &raw, &source)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find %s %s: %w", t, key, err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, fmt.Errorf("find %s %s: %w", t, key, err)
	}
	return &core.ExistingRecord{
		Ref:    "pg:" + strconv.FormatInt(id, 10),
		Record: &core.Record{Type: t, Fields: fields, Source: source},
	}, nil
}

// Persist upserts records in one transaction under their core.StorageKey.
// Either every record is written or none is.
func (s *Store) Persist(ctx context.Context, records []*core.Record) (core.PersistResult, error) {
	start := time.Now()
	var res core.PersistResult

	batch := &pgx.Batch{}
	for i, r := range records {
		fields, err := json.Marshal(r.Fields)
		if err != nil {
			return res, fmt.Errorf("record %d (%s): %w", i, r.Source, err)
		}
		batch.Queue(upsertSQL, string(r.Type), core.StorageKey(r), fields, r.Source, r.Overwrite)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	br := tx.SendBatch(ctx, batch)
	for i := range records {
		var inserted bool
		if err := br.QueryRow().Scan(&inserted); err != nil {
			br.Close()
			return core.PersistResult{}, fmt.Errorf("record %d (%s): %w", i, records[i].Source, err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	if err := br.Close(); err != nil {
		return core.PersistResult{}, fmt.Errorf("close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return core.PersistResult{}, fmt.Errorf("commit transaction: %w", err)
	}
	res.Duration = time.Since(start)
	return res, nil
}

// decodeFields keeps numbers as json.Number so identifiers survive intact.
func decodeFields(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	fields := make(map[string]any)
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	for k, v := range fields {
		if list, ok := v.([]any); ok {
			out := make([]string, 0, len(list))
			for _, item := range list {
				out = append(out, core.ValueString(item))
			}
			fields[k] = out
		}
	}
	return fields, nil
}
