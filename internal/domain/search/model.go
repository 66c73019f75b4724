package search

import (
	"errors"
	"time"
)

var (
	ErrUnknownIndex = errors.New("unknown search index")
	ErrReadOnly     = errors.New("index is read-only")
	ErrNotFound     = errors.New("document not found")
)

// Index names.
const (
	IndexIndividual = "individual"
	IndexOccurrence = "occurrence"
	IndexEncounter  = "encounter"
)

// index describes the table behind a search index. Encounters are written
// through the encounter API only.
type index struct {
	table    string
	writable bool
}

var indexes = map[string]index{
	IndexIndividual: {table: "individual", writable: true},
	IndexOccurrence: {table: "occurrence", writable: true},
	IndexEncounter:  {table: "encounter"},
}

func lookup(name string) (index, error) {
	idx, ok := indexes[name]
	if !ok {
		return index{}, ErrUnknownIndex
	}
	return idx, nil
}

// Document is one indexed record.
type Document struct {
	ID        string
	Data      map[string]interface{}
	UpdatedAt time.Time
}

// Hit is the JSON view of a document in search results: its data with the
// id merged in.
func (d *Document) Hit() map[string]interface{} {
	hit := make(map[string]interface{}, len(d.Data)+1)
	for k, v := range d.Data {
		hit[k] = v
	}
	hit["id"] = d.ID
	return hit
}
