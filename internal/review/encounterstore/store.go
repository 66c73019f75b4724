// Package encounterstore holds the encounter being reviewed together with
// per-section edit drafts, and reconciles those drafts with the encounter
// API as add/replace/remove operation lists.
//
// Reads prefer draft values over the base record. Saving a section either
// succeeds, clearing the draft and reloading the base record, or fails and
// leaves the draft in place for another attempt.
package encounterstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wildbook/encounterdesk/internal/platform/notification"
	"github.com/wildbook/encounterdesk/internal/platform/patch"
	"github.com/wildbook/encounterdesk/internal/platform/wildbook"
	"github.com/wildbook/encounterdesk/internal/review/typeahead"
	"github.com/wildbook/encounterdesk/internal/review/validate"
)

// API is the encounter backend as seen by the store. *wildbook.Client
// satisfies it.
type API interface {
	GetEncounter(ctx context.Context, id string) (map[string]interface{}, error)
	PatchEncounter(ctx context.Context, id string, ops []patch.Operation) (map[string]interface{}, error)
	Search(ctx context.Context, index string, body interface{}, size, from int) (*wildbook.SearchResult, error)
	GetSiteSettings(ctx context.Context) (map[string]interface{}, error)
}

// FieldValidator checks one edited value. *validate.Validator satisfies it.
type FieldValidator interface {
	ValidateFieldValue(section, path string, value interface{}, ctx validate.Context) error
}

// Expander rewrites a computed operation list before it is sent, fanning
// composite fields out into the operations the backend expects.
type Expander func(ops []patch.Operation, base map[string]interface{}) []patch.Operation

// EventKind says what part of the store changed.
type EventKind string

const (
	EventData      EventKind = "data"
	EventDraft     EventKind = "draft"
	EventSettings  EventKind = "settings"
	EventSelection EventKind = "selection"
)

// Event is delivered to subscribers after a change.
type Event struct {
	Kind EventKind
}

// Options configures a Store. Zero values get defaults in New.
type Options struct {
	Logger    *zerolog.Logger
	Sink      notification.Sink
	Catalog   *notification.Catalog
	Validator FieldValidator
	Expander  Expander

	// Typeahead settings for the individual and sighting searches.
	Scheduler      typeahead.Scheduler
	SearchDebounce time.Duration
	SearchMinChars int
	SearchPageSize int
}

// Store is the review state for one encounter. It is safe for concurrent
// use; search results arrive on their own goroutines.
type Store struct {
	api      API
	logger   zerolog.Logger
	sink     notification.Sink
	catalog  *notification.Catalog
	validate FieldValidator
	expand   Expander
	engine   *patch.Engine
	pageSize int

	mu                   sync.RWMutex
	data                 map[string]interface{}
	siteSettings         map[string]interface{}
	drafts               map[string]map[string]interface{}
	errors               map[string]map[string]string
	selectedImageIndex   int
	selectedAnnotationID string

	measurementDraft []map[string]interface{}
	metalTagDraft    []interface{}
	acousticDraft    map[string]interface{}
	satelliteDraft   map[string]interface{}
	trackingEdited   map[string]bool

	newPersonName  string
	newPersonEmail string
	newPersonRole  string

	individualSearch *typeahead.Controller
	sightingSearch   *typeahead.Controller

	subs    map[int]func(Event)
	nextSub int
}

// New creates an empty store bound to api.
func New(api API, opts Options) *Store {
	if opts.Sink == nil {
		opts.Sink = notification.Discard{}
	}
	if opts.Catalog == nil {
		opts.Catalog = notification.NewCatalog()
	}
	if opts.Validator == nil {
		opts.Validator = validate.New()
	}
	if opts.Expander == nil {
		opts.Expander = ExpandOperations
	}
	if opts.SearchMinChars == 0 {
		opts.SearchMinChars = 2
	}
	if opts.SearchDebounce == 0 {
		opts.SearchDebounce = 300 * time.Millisecond
	}
	if opts.SearchPageSize == 0 {
		opts.SearchPageSize = 20
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Store{
		api:            api,
		logger:         logger,
		sink:           opts.Sink,
		catalog:        opts.Catalog,
		validate:       opts.Validator,
		expand:         opts.Expander,
		engine:         patch.EncounterEngine(),
		pageSize:       opts.SearchPageSize,
		drafts:         make(map[string]map[string]interface{}),
		errors:         make(map[string]map[string]string),
		trackingEdited: make(map[string]bool),
		subs:           make(map[int]func(Event)),
	}
	s.individualSearch = typeahead.New(typeahead.Config{
		MinChars:      opts.SearchMinChars,
		Debounce:      opts.SearchDebounce,
		LoadOptions:   s.searchIndividuals,
		OnSearchError: s.searchFailed,
		Scheduler:     opts.Scheduler,
		Logger:        &s.logger,
	})
	s.sightingSearch = typeahead.New(typeahead.Config{
		MinChars:      opts.SearchMinChars,
		Debounce:      opts.SearchDebounce,
		LoadOptions:   s.searchSightings,
		OnSearchError: s.searchFailed,
		Scheduler:     opts.Scheduler,
		Logger:        &s.logger,
	})
	return s
}

// Close stops both search controllers.
func (s *Store) Close() {
	s.individualSearch.Close()
	s.sightingSearch.Close()
}

// ---------------------------------------------------------------------------
// Base record
// ---------------------------------------------------------------------------

// Load fetches the encounter and the site settings concurrently.
func (s *Store) Load(ctx context.Context, id string) error {
	var (
		data, settings  map[string]interface{}
		dataErr, setErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, dataErr = s.api.GetEncounter(gctx, id)
		return dataErr
	})
	g.Go(func() error {
		settings, setErr = s.api.GetSiteSettings(gctx)
		return setErr
	})
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Str("encounter_id", id).Msg("load encounter")
		if dataErr != nil && (setErr == nil || !errors.Is(dataErr, context.Canceled)) {
			s.sink.Error(s.catalog.Render(notification.MsgRefreshFailed, map[string]string{"id": id, "error": dataErr.Error()}))
			return fmt.Errorf("get encounter %s: %w", id, dataErr)
		}
		s.sink.Error(s.catalog.Render(notification.MsgSettingsFailed, map[string]string{"error": setErr.Error()}))
		return fmt.Errorf("get site settings: %w", setErr)
	}

	s.SetSiteSettings(settings)
	s.SetEncounterData(data)
	return nil
}

// SetEncounterData replaces the base record and every derived value. The
// measurement and tracking edits and the image selection are reset.
func (s *Store) SetEncounterData(data map[string]interface{}) {
	s.mu.Lock()
	s.setDataLocked(data)
	s.selectedImageIndex = 0
	s.selectedAnnotationID = ""
	s.mu.Unlock()
	s.publish(Event{Kind: EventData})
}

func (s *Store) setDataLocked(data map[string]interface{}) {
	s.data = data
	s.measurementDraft = nil
	s.metalTagDraft = nil
	s.acousticDraft = nil
	s.satelliteDraft = nil
	s.trackingEdited = make(map[string]bool)
}

// EncounterData returns a copy of the base record, or nil before a load.
func (s *Store) EncounterData() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return patch.DeepCopy(s.data)
}

// EncounterID returns the id of the base record.
func (s *Store) EncounterID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idLocked()
}

func (s *Store) idLocked() string {
	id, _ := s.data["id"].(string)
	return id
}

// RefreshEncounterData reloads the base record, keeping the selected image.
func (s *Store) RefreshEncounterData(ctx context.Context) (map[string]interface{}, error) {
	id := s.EncounterID()
	data, err := s.api.GetEncounter(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("encounter_id", id).Msg("refresh encounter")
		s.sink.Error(s.catalog.Render(notification.MsgRefreshFailed, map[string]string{"id": id, "error": err.Error()}))
		return nil, fmt.Errorf("refresh encounter %s: %w", id, err)
	}

	s.mu.Lock()
	idx, ann := s.selectedImageIndex, s.selectedAnnotationID
	s.setDataLocked(data)
	if n := len(s.mediaAssetsLocked()); idx >= n && n > 0 {
		idx = n - 1
	}
	s.selectedImageIndex = idx
	s.selectedAnnotationID = ann
	s.mu.Unlock()

	s.publish(Event{Kind: EventData})
	return patch.DeepCopy(data), nil
}

// ApplyPatchOperationsLocally applies ops to the base record without a
// round trip. On error the base record is left unchanged.
func (s *Store) ApplyPatchOperationsLocally(ops []patch.Operation) error {
	s.mu.Lock()
	next, err := s.engine.Apply(s.data, ops)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("apply locally: %w", err)
	}
	s.data = next
	s.mu.Unlock()

	s.publish(Event{Kind: EventData})
	return nil
}

// ---------------------------------------------------------------------------
// Drafts
// ---------------------------------------------------------------------------

// GetFieldValue returns the draft value for section/path if one exists,
// otherwise the value at path in the base record.
func (s *Store) GetFieldValue(section, path string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.drafts[section]; ok {
		if v, ok := d[path]; ok {
			return v, true
		}
	}
	if s.data == nil {
		return nil, false
	}
	return patch.Get(s.data, path)
}

// SetFieldValue records value in the section draft and validates it. A
// validation failure is stored, never returned.
func (s *Store) SetFieldValue(section, path string, value interface{}) {
	err := s.validate.ValidateFieldValue(section, path, value, nil)

	s.mu.Lock()
	d, ok := s.drafts[section]
	if !ok {
		d = make(map[string]interface{})
		s.drafts[section] = d
	}
	d[path] = value
	s.setErrorLocked(section, path, err)
	s.mu.Unlock()

	s.publish(Event{Kind: EventDraft})
}

func (s *Store) setErrorLocked(section, path string, err error) {
	if err == nil {
		if e, ok := s.errors[section]; ok {
			delete(e, path)
			if len(e) == 0 {
				delete(s.errors, section)
			}
		}
		return
	}
	e, ok := s.errors[section]
	if !ok {
		e = make(map[string]string)
		s.errors[section] = e
	}
	msg := err.Error()
	if fe, ok := err.(*validate.FieldError); ok {
		msg = fe.Message
	}
	e[path] = msg
}

// Draft returns a copy of the section draft. Sections never edited, or
// reset, give an empty map.
func (s *Store) Draft(section string) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.drafts[section]))
	for k, v := range s.drafts[section] {
		out[k] = v
	}
	return out
}

// Errors returns the validation messages recorded for section by path.
func (s *Store) Errors(section string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.errors[section]))
	for k, v := range s.errors[section] {
		out[k] = v
	}
	return out
}

// SectionHasErrors reports whether any field of section failed validation.
func (s *Store) SectionHasErrors(section string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.errors[section]) > 0
}

// ResetSectionDraft discards the draft and errors of one section.
func (s *Store) ResetSectionDraft(section string) {
	s.mu.Lock()
	if _, ok := s.drafts[section]; ok {
		s.drafts[section] = make(map[string]interface{})
	}
	delete(s.errors, section)
	s.mu.Unlock()
	s.publish(Event{Kind: EventDraft})
}

// ResetAllDrafts discards every section draft and all errors.
func (s *Store) ResetAllDrafts() {
	s.mu.Lock()
	for section := range s.drafts {
		s.drafts[section] = make(map[string]interface{})
	}
	s.errors = make(map[string]map[string]string)
	s.mu.Unlock()
	s.publish(Event{Kind: EventDraft})
}

// BuildPatchPayload diffs the section draft against the base record. The
// result is ordered by path and is empty when nothing changed.
func (s *Store) BuildPatchPayload(section string) []patch.Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return diff(s.data, s.drafts[section])
}

func diff(base map[string]interface{}, draft map[string]interface{}) []patch.Operation {
	paths := make([]string, 0, len(draft))
	for p := range draft {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	ops := make([]patch.Operation, 0, len(paths))
	for _, p := range paths {
		next := draft[p]
		var (
			prev    interface{}
			present bool
		)
		if base != nil {
			prev, present = patch.Get(base, p)
			present = present && !patch.IsEmpty(prev)
		}
		empty := patch.IsEmpty(next)

		switch {
		case !present && empty:
		case present && patch.Equal(prev, next):
		case present && empty:
			ops = append(ops, patch.Operation{Op: patch.OpRemove, Path: p})
		case !present:
			ops = append(ops, patch.Operation{Op: patch.OpAdd, Path: p, Value: next})
		default:
			ops = append(ops, patch.Operation{Op: patch.OpReplace, Path: p, Value: next})
		}
	}
	return ops
}

// SaveSection sends the section's changes as one PATCH. With no changes it
// sends nothing. On success the draft is cleared and the base record is
// reloaded; on failure an error notification is shown, the draft is kept
// and the error is returned.
func (s *Store) SaveSection(ctx context.Context, section, id string) error {
	s.mu.RLock()
	if id == "" {
		id = s.idLocked()
	}
	ops := diff(s.data, s.drafts[section])
	base := patch.DeepCopy(s.data)
	s.mu.RUnlock()

	if len(ops) == 0 {
		return nil
	}
	ops = s.expand(ops, base)

	if _, err := s.api.PatchEncounter(ctx, id, ops); err != nil {
		s.logger.Error().Err(err).Str("encounter_id", id).Str("section", section).Msg("save section")
		s.sink.Error(s.catalog.Render(notification.MsgSaveFailed, map[string]string{"error": err.Error()}))
		return fmt.Errorf("save %s: %w", section, err)
	}

	s.mu.Lock()
	s.drafts[section] = make(map[string]interface{})
	delete(s.errors, section)
	s.mu.Unlock()
	s.publish(Event{Kind: EventDraft})

	if _, err := s.RefreshEncounterData(ctx); err != nil {
		return err
	}
	s.sink.Success(s.catalog.Render(notification.MsgSaveSuccess, nil))
	return nil
}

// patchAndRefresh sends ops, reloads the base record and reports the
// outcome with the given message ids.
func (s *Store) patchAndRefresh(ctx context.Context, ops []patch.Operation, okMsg, failMsg string, data map[string]string) error {
	id := s.EncounterID()
	if _, err := s.api.PatchEncounter(ctx, id, ops); err != nil {
		if data == nil {
			data = map[string]string{}
		}
		data["error"] = err.Error()
		s.logger.Error().Err(err).Str("encounter_id", id).Msg("patch encounter")
		s.sink.Error(s.catalog.Render(failMsg, data))
		return fmt.Errorf("patch encounter %s: %w", id, err)
	}
	if _, err := s.RefreshEncounterData(ctx); err != nil {
		return err
	}
	s.sink.Success(s.catalog.Render(okMsg, data))
	return nil
}

// ChangeEncounterState replaces the workflow state (e.g. "approved").
func (s *Store) ChangeEncounterState(ctx context.Context, state string) error {
	ops := []patch.Operation{{Op: patch.OpReplace, Path: "state", Value: state}}
	return s.patchAndRefresh(ctx, ops, notification.MsgStateChanged, notification.MsgStateFailed, map[string]string{"state": state})
}

// ---------------------------------------------------------------------------
// Selection
// ---------------------------------------------------------------------------

// SetSelectedImageIndex selects a media asset.
func (s *Store) SetSelectedImageIndex(i int) {
	s.mu.Lock()
	s.selectedImageIndex = i
	s.mu.Unlock()
	s.publish(Event{Kind: EventSelection})
}

func (s *Store) SelectedImageIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedImageIndex
}

// SetSelectedAnnotationID selects an annotation on the current image.
func (s *Store) SetSelectedAnnotationID(id string) {
	s.mu.Lock()
	s.selectedAnnotationID = id
	s.mu.Unlock()
	s.publish(Event{Kind: EventSelection})
}

func (s *Store) SelectedAnnotationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedAnnotationID
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// Subscribe registers fn for store changes and returns a cancel function.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) publish(ev Event) {
	s.mu.RLock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
