package encounter

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
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const encCols = `id, data, version, created_at, updated_at`

const pgUniqueViolation = "23505"

func (r *repoPG) Create(ctx context.Context, enc *Encounter) error {
	if enc.ID == "" {
		enc.ID = uuid.New().String()
	}
	if enc.Data == nil {
		enc.Data = make(map[string]interface{})
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounter (id, data, version)
		VALUES ($1, $2, 1)
		RETURNING version, created_at, updated_at`,
		enc.ID, enc.Data,
	).Scan(&enc.Version, &enc.CreatedAt, &enc.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrExists, enc.ID)
		}
		return fmt.Errorf("insert encounter: %w", err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, id string) (*Encounter, error) {
	return scanEnc(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounter WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id string) (*Encounter, error) {
	return scanEnc(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounter WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, enc *Encounter) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE encounter SET data = $2, version = $3, updated_at = NOW()
		WHERE id = $1`,
		enc.ID, enc.Data, enc.Version,
	)
	if err != nil {
		return fmt.Errorf("update encounter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM encounter`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count encounters: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+encCols+` FROM encounter
		ORDER BY updated_at DESC, id
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list encounters: %w", err)
	}
	defer rows.Close()

	var items []*Encounter
	for rows.Next() {
		enc, err := scanEnc(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, enc)
	}
	return items, total, rows.Err()
}

type scannable interface{ Scan(dest ...interface{}) error }

func scanEnc(row scannable) (*Encounter, error) {
	var enc Encounter
	if err := row.Scan(&enc.ID, &enc.Data, &enc.Version, &enc.CreatedAt, &enc.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan encounter: %w", err)
	}
	if enc.Data == nil {
		enc.Data = make(map[string]interface{})
	}
	return &enc, nil
}
