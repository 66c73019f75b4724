package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wildbook/encounterdesk/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// Table names reach the SQL text only after lookup against the index
// registry; values always travel as arguments.

func (r *repoPG) Search(ctx context.Context, table string, where *Clause, limit, offset int) ([]*Document, int, error) {
	var total int
	countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, table, where.SQL)
	if err := r.conn(ctx).QueryRow(ctx, countSQL, where.Args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", table, err)
	}

	n := len(where.Args)
	query := fmt.Sprintf(`SELECT id, data, updated_at FROM %s WHERE %s ORDER BY id LIMIT $%d OFFSET $%d`,
		table, where.SQL, n+1, n+2)
	args := append(append([]interface{}{}, where.Args...), limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search %s: %w", table, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

func (r *repoPG) Get(ctx context.Context, table, id string) (*Document, error) {
	return scanDoc(r.conn(ctx).QueryRow(ctx,
		fmt.Sprintf(`SELECT id, data, updated_at FROM %s WHERE id = $1`, table), id))
}

func (r *repoPG) Upsert(ctx context.Context, table string, doc *Document) error {
	err := r.conn(ctx).QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, data) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
		RETURNING updated_at`, table),
		doc.ID, doc.Data,
	).Scan(&doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, table, id string) error {
	tag, err := r.conn(ctx).Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface{ Scan(dest ...interface{}) error }

func scanDoc(row scannable) (*Document, error) {
	var d Document
	if err := row.Scan(&d.ID, &d.Data, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	if d.Data == nil {
		d.Data = make(map[string]interface{})
	}
	return &d, nil
}
