package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"flavorfind/internal/data"
	"flavorfind/internal/store"
)

// queryer is the part of *sql.DB and *sql.Tx the repository uses.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository is a store.Repository over the records table.
type Repository struct {
	db *sql.DB
	q  queryer
	tx *sql.Tx // set inside Atomically
}

var (
	_ store.Repository = (*Repository)(nil)
	_ store.Atomic     = (*Repository)(nil)
)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, q: db}
}

// Atomically runs fn inside one transaction, committing when fn succeeds.
func (r *Repository) Atomically(ctx context.Context, fn func(store.Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&Repository{db: r.db, q: tx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Insert(ctx context.Context, rec *store.Record) error {
	body, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", rec.Kind, rec.ID, err)
	}
	_, err = r.q.ExecContext(ctx,
		`insert into records (kind, id, created_at, updated_at, data) values ($1, $2, $3, $4, $5)`,
		rec.Kind, rec.ID, rec.CreatedAt, rec.UpdatedAt, body)
	return mapErr(err)
}

func (r *Repository) Update(ctx context.Context, rec *store.Record) error {
	body, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", rec.Kind, rec.ID, err)
	}
	res, err := r.q.ExecContext(ctx,
		`update records set updated_at = $3, data = $4 where kind = $1 and id = $2`,
		rec.Kind, rec.ID, rec.UpdatedAt, body)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, kind, id string) (*store.Record, error) {
	row := r.q.QueryRowContext(ctx,
		`select id, created_at, updated_at, data from records where kind = $1 and id = $2`, kind, id)
	rec, err := scanRecord(kind, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return rec, err
}

// List returns a kind's records in id order.
func (r *Repository) List(ctx context.Context, kind string) ([]*store.Record, error) {
	rows, err := r.q.QueryContext(ctx,
		`select id, created_at, updated_at, data from records where kind = $1 order by id`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Record
	for rows.Next() {
		rec, err := scanRecord(kind, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes the ids in one transaction, or in the caller's when
// already inside Atomically.
func (r *Repository) Delete(ctx context.Context, kind string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.Atomically(ctx, func(repo store.Repository) error {
		q := repo.(*Repository).q
		for _, id := range ids {
			if _, err := q.ExecContext(ctx, `delete from records where kind = $1 and id = $2`, kind, id); err != nil {
				return err
			}
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(kind string, s scanner) (*store.Record, error) {
	var (
		rec  = &store.Record{Kind: kind}
		body []byte
	)
	if err := s.Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt, &body); err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if err := json.Unmarshal(body, &rec.Data); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", kind, rec.ID, err)
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	return rec, nil
}

// mapErr turns a unique index hit into data.ErrConflict.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", data.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
