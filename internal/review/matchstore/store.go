// Package matchstore holds the match-criteria form for an encounter: which
// locations and algorithms to match against and whose data to search, and
// starts the identification task.
package matchstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wildbook/encounterdesk/internal/platform/notification"
	"github.com/wildbook/encounterdesk/internal/platform/wildbook"
	"github.com/wildbook/encounterdesk/internal/review/encounterstore"
	"github.com/wildbook/encounterdesk/internal/review/locationtree"
	"github.com/wildbook/encounterdesk/internal/review/typeahead"
)

// OwnerMine restricts matching to the current user's data.
const OwnerMine = "mydata"

// Encounter is the part of the encounter store the match form reads.
// *encounterstore.Store satisfies it.
type Encounter interface {
	EncounterData() map[string]interface{}
	Taxonomy() string
	EncounterAnnotations() []map[string]interface{}
	IAConfig(taxonomy string) []map[string]interface{}
	LocationTree() []locationtree.Node
	Subscribe(fn func(encounterstore.Event)) func()
}

// TaskStarter submits identification tasks. *wildbook.Client satisfies it.
type TaskStarter interface {
	StartIATask(ctx context.Context, req wildbook.IATaskRequest) (*wildbook.IATaskResponse, error)
}

// Options configures a Store.
type Options struct {
	Logger  *zerolog.Logger
	Sink    notification.Sink
	Catalog *notification.Catalog
}

// Result identifies a started match task.
type Result struct {
	TaskID      string `json:"taskId"`
	ResultsPath string `json:"resultsPath"`
}

// Store is the match-criteria state. It follows the encounter store: until
// the user picks locations or algorithms, both track the encounter's
// location and the taxonomy's default algorithms.
type Store struct {
	enc     Encounter
	ia      TaskStarter
	logger  zerolog.Logger
	sink    notification.Sink
	catalog *notification.Catalog

	mu               sync.RWMutex
	locationIDs      []string
	locationsPicked  bool
	algorithms       []string
	algorithmsPicked bool
	owner            string

	unsubscribe func()
}

// New creates a match store bound to enc and subscribes to its changes.
func New(enc Encounter, ia TaskStarter, opts Options) *Store {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Sink == nil {
		opts.Sink = notification.Discard{}
	}
	if opts.Catalog == nil {
		opts.Catalog = notification.NewCatalog()
	}
	s := &Store{
		enc:     enc,
		ia:      ia,
		logger:  logger,
		sink:    opts.Sink,
		catalog: opts.Catalog,
	}
	s.sync()
	s.unsubscribe = enc.Subscribe(func(ev encounterstore.Event) {
		if ev.Kind == encounterstore.EventData || ev.Kind == encounterstore.EventSettings {
			s.sync()
		}
	})
	return s
}

// Close stops following the encounter store.
func (s *Store) Close() {
	s.unsubscribe()
}

func (s *Store) sync() {
	data := s.enc.EncounterData()
	defaults := s.defaultAlgorithms()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locationsPicked {
		s.locationIDs = encounterLocations(data)
	}
	if !s.algorithmsPicked {
		s.algorithms = defaults
	}
}

func encounterLocations(data map[string]interface{}) []string {
	switch v := data["locationId"].(type) {
	case string:
		return locationtree.Normalize([]string{v})
	case []interface{}:
		ids := make([]string, 0, len(v))
		for _, it := range v {
			if id, ok := it.(string); ok {
				ids = append(ids, id)
			}
		}
		return locationtree.Normalize(ids)
	}
	return []string{}
}

func (s *Store) defaultAlgorithms() []string {
	out := []string{}
	for _, cfg := range s.enc.IAConfig(s.enc.Taxonomy()) {
		if def, _ := cfg["default"].(bool); def {
			if d, _ := cfg["description"].(string); d != "" {
				out = append(out, d)
			}
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Locations
// ---------------------------------------------------------------------------

// LocationIDs returns the selected location ids.
func (s *Store) LocationIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.locationIDs...)
}

// SetLocationIDs replaces the selection. Empty ids and duplicates are
// dropped; ids are taken as already expanded.
func (s *Store) SetLocationIDs(ids []string) {
	s.mu.Lock()
	s.locationIDs = locationtree.Normalize(ids)
	s.locationsPicked = true
	s.mu.Unlock()
}

// HandleStrictChange applies a checkbox event from the location tree.
func (s *Store) HandleStrictChange(values []string, change *locationtree.Change) {
	tree := s.enc.LocationTree()
	s.mu.Lock()
	s.locationIDs = locationtree.ApplyStrictChange(tree, s.locationIDs, values, change)
	s.locationsPicked = true
	s.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Algorithms and owner
// ---------------------------------------------------------------------------

// AlgorithmOptions lists the algorithms configured for the encounter's
// taxonomy.
func (s *Store) AlgorithmOptions() []typeahead.Option {
	cfgs := s.enc.IAConfig(s.enc.Taxonomy())
	out := make([]typeahead.Option, 0, len(cfgs))
	for _, cfg := range cfgs {
		if d, _ := cfg["description"].(string); d != "" {
			out = append(out, typeahead.Option{Value: d, Label: d})
		}
	}
	return out
}

// SetAlgorithms selects algorithms by description.
func (s *Store) SetAlgorithms(descriptions []string) {
	s.mu.Lock()
	s.algorithms = locationtree.Normalize(descriptions)
	s.algorithmsPicked = true
	s.mu.Unlock()
}

// Algorithms returns the selected descriptions.
func (s *Store) Algorithms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.algorithms...)
}

// MatchingAlgorithms returns the full configuration of each selected
// algorithm, in selection order.
func (s *Store) MatchingAlgorithms() []map[string]interface{} {
	byDesc := make(map[string]map[string]interface{})
	for _, cfg := range s.enc.IAConfig(s.enc.Taxonomy()) {
		if d, _ := cfg["description"].(string); d != "" {
			if _, dup := byDesc[d]; !dup {
				byDesc[d] = cfg
			}
		}
	}
	out := []map[string]interface{}{}
	for _, d := range s.Algorithms() {
		if cfg, ok := byDesc[d]; ok {
			out = append(out, cfg)
		}
	}
	return out
}

// SetOwner sets whose data to match against; OwnerMine or "" for everyone.
func (s *Store) SetOwner(owner string) {
	s.mu.Lock()
	s.owner = owner
	s.mu.Unlock()
}

func (s *Store) Owner() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner
}

// AnnotationIDs lists this encounter's annotations on the selected image.
func (s *Store) AnnotationIDs() []string {
	anns := s.enc.EncounterAnnotations()
	out := make([]string, 0, len(anns))
	for _, a := range anns {
		if id, _ := a["id"].(string); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Task
// ---------------------------------------------------------------------------

// BuildNewMatchPayload assembles the POST /ia body.
func (s *Store) BuildNewMatchPayload() wildbook.IATaskRequest {
	filter := map[string]interface{}{}
	if s.Owner() == OwnerMine {
		filter["owner"] = []string{"me"}
	}
	if ids := s.LocationIDs(); len(ids) > 0 {
		filter["locationIds"] = ids
	}
	return wildbook.IATaskRequest{
		V2: true,
		TaskParameters: wildbook.TaskParameters{
			MatchingSetFilter:  filter,
			MatchingAlgorithms: s.MatchingAlgorithms(),
		},
		AnnotationIDs: s.AnnotationIDs(),
		Fastlane:      true,
	}
}

// StartMatch submits the task. Failures are reported through the sink and
// returned.
func (s *Store) StartMatch(ctx context.Context) (*Result, error) {
	req := s.BuildNewMatchPayload()
	resp, err := s.ia.StartIATask(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).Strs("annotation_ids", req.AnnotationIDs).Msg("start match")
		s.sink.Error(s.catalog.Render(notification.MsgMatchFailed, nil))
		return nil, fmt.Errorf("start match: %w", err)
	}
	s.logger.Info().Str("task_id", resp.TaskID).Msg("match started")
	s.sink.Success(s.catalog.Render(notification.MsgMatchStarted, map[string]string{"taskId": resp.TaskID}))
	return &Result{TaskID: resp.TaskID, ResultsPath: wildbook.IAResultsPath(resp.TaskID)}, nil
}
