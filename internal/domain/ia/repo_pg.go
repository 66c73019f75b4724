package ia

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
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
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) Create(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ia_task (id, status, request)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		t.ID, t.Status, t.Request,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ia task: %w", err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, id string) (*Task, error) {
	var t Task
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, status, request, created_at FROM ia_task WHERE id = $1`, id,
	).Scan(&t.ID, &t.Status, &t.Request, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ia task: %w", err)
	}
	return &t, nil
}
