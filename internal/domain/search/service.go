package search

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wildbook/encounterdesk/pkg/pagination"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Search runs a query body against the named index and returns one page of
// hits plus the total match count.
func (s *Service) Search(ctx context.Context, name string, body map[string]interface{}, p pagination.Params) ([]map[string]interface{}, int, error) {
	idx, err := lookup(name)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s", err, name)
	}
	where, err := Compile(body, 1)
	if err != nil {
		return nil, 0, err
	}

	docs, total, err := s.repo.Search(ctx, idx.table, where, p.Size, p.From)
	if err != nil {
		return nil, 0, err
	}
	hits := make([]map[string]interface{}, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, d.Hit())
	}
	s.logger.Debug().Str("index", name).Int("total", total).Int("returned", len(hits)).Msg("search")
	return hits, total, nil
}

func (s *Service) Get(ctx context.Context, name, id string) (*Document, error) {
	idx, err := lookup(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, name)
	}
	return s.repo.Get(ctx, idx.table, id)
}

// Index stores or replaces a document. The id member of data is ignored in
// favour of id.
func (s *Service) Index(ctx context.Context, name, id string, data map[string]interface{}) (*Document, error) {
	idx, err := s.writable(name)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("document id is required")
	}
	clean := make(map[string]interface{}, len(data))
	for k, v := range data {
		if k != "id" {
			clean[k] = v
		}
	}
	doc := &Document{ID: id, Data: clean}
	if err := s.repo.Upsert(ctx, idx.table, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Service) Delete(ctx context.Context, name, id string) error {
	idx, err := s.writable(name)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, idx.table, id)
}

func (s *Service) writable(name string) (index, error) {
	idx, err := lookup(name)
	if err != nil {
		return index{}, fmt.Errorf("%w: %s", err, name)
	}
	if !idx.writable {
		return index{}, fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	return idx, nil
}
