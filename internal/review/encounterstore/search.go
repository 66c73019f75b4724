package encounterstore

import (
	"context"
	"fmt"

	"github.com/wildbook/encounterdesk/internal/platform/notification"
	"github.com/wildbook/encounterdesk/internal/review/typeahead"
)

// Search indexes.
const (
	IndexIndividual = "individual"
	IndexOccurrence = "occurrence"
)

func wildcard(field, query string) map[string]interface{} {
	return map[string]interface{}{
		"wildcard": map[string]interface{}{
			field: map[string]interface{}{"value": "*" + query + "*", "case_insensitive": true},
		},
	}
}

// IndividualQuery matches individuals by name or id, restricted to the
// encounter's taxonomy when it has one.
func IndividualQuery(query, taxonomy string) map[string]interface{} {
	b := map[string]interface{}{
		"should":               []interface{}{wildcard("names", query), wildcard("id", query)},
		"minimum_should_match": 1,
	}
	if taxonomy != "" {
		b["filter"] = []interface{}{
			map[string]interface{}{"term": map[string]interface{}{"taxonomy": taxonomy}},
		}
	}
	return map[string]interface{}{"query": map[string]interface{}{"bool": b}}
}

// SightingQuery matches sightings (occurrences) by id.
func SightingQuery(query string) map[string]interface{} {
	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{wildcard("id", query)},
			},
		},
	}
}

func (s *Store) searchIndividuals(ctx context.Context, query string) ([]typeahead.Option, error) {
	res, err := s.api.Search(ctx, IndexIndividual, IndividualQuery(query, s.Taxonomy()), s.pageSize, 0)
	if err != nil {
		return nil, fmt.Errorf("search individuals: %w", err)
	}
	opts := make([]typeahead.Option, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, _ := hit["id"].(string)
		if id == "" {
			continue
		}
		opts = append(opts, typeahead.Option{Value: id, Label: individualLabel(hit, id)})
	}
	return opts, nil
}

func individualLabel(hit map[string]interface{}, id string) string {
	if name, _ := hit["displayName"].(string); name != "" {
		return name
	}
	if names, ok := hit["names"].([]interface{}); ok && len(names) > 0 {
		if n, _ := names[0].(string); n != "" {
			return n
		}
	}
	return id
}

func (s *Store) searchSightings(ctx context.Context, query string) ([]typeahead.Option, error) {
	res, err := s.api.Search(ctx, IndexOccurrence, SightingQuery(query), s.pageSize, 0)
	if err != nil {
		return nil, fmt.Errorf("search sightings: %w", err)
	}
	opts := make([]typeahead.Option, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if id, _ := hit["id"].(string); id != "" {
			opts = append(opts, typeahead.Option{Value: id, Label: id})
		}
	}
	return opts, nil
}

func (s *Store) searchFailed(err error) {
	s.sink.Error(s.catalog.Render(notification.MsgSearchFailed, map[string]string{"error": err.Error()}))
}

// SetIndividualSearchInput feeds the individual typeahead.
func (s *Store) SetIndividualSearchInput(q string) { s.individualSearch.SetQuery(q) }

// SetSightingSearchInput feeds the sighting typeahead.
func (s *Store) SetSightingSearchInput(q string) { s.sightingSearch.SetQuery(q) }

// IndividualSearchResults returns the accepted individual options.
func (s *Store) IndividualSearchResults() []typeahead.Option { return s.individualSearch.Options() }

// SightingSearchResults returns the accepted sighting options.
func (s *Store) SightingSearchResults() []typeahead.Option { return s.sightingSearch.Options() }

// IndividualSearch exposes the controller for selection and waiting.
func (s *Store) IndividualSearch() *typeahead.Controller { return s.individualSearch }

// SightingSearch exposes the controller for selection and waiting.
func (s *Store) SightingSearch() *typeahead.Controller { return s.sightingSearch }
