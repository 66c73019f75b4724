package search

import "context"

type Repository interface {
	Search(ctx context.Context, table string, where *Clause, limit, offset int) ([]*Document, int, error)
	Get(ctx context.Context, table, id string) (*Document, error)
	Upsert(ctx context.Context, table string, doc *Document) error
	Delete(ctx context.Context, table, id string) error
}
