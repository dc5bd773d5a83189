package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on top of two plain tables:
//
//	CREATE TABLE kv_hash (
//	    key   text NOT NULL,
//	    field text NOT NULL,
//	    value text NOT NULL,
//	    PRIMARY KEY (key, field)
//	);
//	CREATE TABLE kv_list (
//	    id    bigserial PRIMARY KEY,
//	    key   text NOT NULL,
//	    value text NOT NULL
//	);
//	CREATE INDEX kv_list_key_idx ON kv_list (key, id);
//
// List order is FIFO by insertion id.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) HGet(ctx context.Context, key, field string) (string, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM kv_hash WHERE key = $1 AND field = $2`, key, field,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("hget %s/%s: %w", key, field, err)
	}
	return value, nil
}

func (p *Postgres) HSet(ctx context.Context, key, field, value string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO kv_hash (key, field, value) VALUES ($1, $2, $3)
		 ON CONFLICT (key, field) DO UPDATE SET value = EXCLUDED.value`,
		key, field, value)
	if err != nil {
		return fmt.Errorf("hset %s/%s: %w", key, field, err)
	}
	return nil
}

func (p *Postgres) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx,
		`DELETE FROM kv_hash WHERE key = $1 AND field = ANY($2)`, key, fields)
	if err != nil {
		return fmt.Errorf("hdel %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT field, value FROM kv_hash WHERE key = $1`, key)
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("hgetall %s: %w", key, err)
		}
		out[field] = value
	}
	return out, rows.Err()
}

func (p *Postgres) ListPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, v := range values {
		batch.Queue(`INSERT INTO kv_list (key, value) VALUES ($1, $2)`, key, v)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("list push %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) ListPop(ctx context.Context, key string, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	// SKIP LOCKED keeps concurrent dispatcher workers from popping the
	// same rows.
	rows, err := p.pool.Query(ctx,
		`DELETE FROM kv_list WHERE id IN (
		     SELECT id FROM kv_list WHERE key = $1
		     ORDER BY id LIMIT $2 FOR UPDATE SKIP LOCKED
		 ) RETURNING value`, key, count)
	if err != nil {
		return nil, fmt.Errorf("list pop %s: %w", key, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("list pop %s: %w", key, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *Postgres) ListLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM kv_list WHERE key = $1`, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("list len %s: %w", key, err)
	}
	return n, nil
}
