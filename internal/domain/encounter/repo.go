package encounter

import "context"

type Repository interface {
	Create(ctx context.Context, enc *Encounter) error
	Get(ctx context.Context, id string) (*Encounter, error)
	// GetForUpdate reads the encounter and locks its row until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Encounter, error)
	Update(ctx context.Context, enc *Encounter) error
	List(ctx context.Context, limit, offset int) ([]*Encounter, int, error)
}
