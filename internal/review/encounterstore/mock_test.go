package encounterstore

import (
	"context"
	"sync"
	"time"

	"github.com/wildbook/encounterdesk/internal/platform/notification"
	"github.com/wildbook/encounterdesk/internal/platform/patch"
	"github.com/wildbook/encounterdesk/internal/platform/wildbook"
	"github.com/wildbook/encounterdesk/internal/review/validate"
)

type patchCall struct {
	ID  string
	Ops []patch.Operation
}

type searchCall struct {
	Index string
	Body  map[string]interface{}
	Size  int
	From  int
}

// mockAPI is an in-memory encounter backend.
type mockAPI struct {
	mu sync.Mutex

	encounter   map[string]interface{}
	settings    map[string]interface{}
	getErr      error
	patchErr    error
	settingsErr error
	searchErr   error
	hits        []map[string]interface{}

	gets     []string
	patches  []patchCall
	searches []searchCall
}

func (m *mockAPI) GetEncounter(_ context.Context, id string) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets = append(m.gets, id)
	if m.getErr != nil {
		return nil, m.getErr
	}
	return patch.DeepCopy(m.encounter), nil
}

func (m *mockAPI) PatchEncounter(_ context.Context, id string, ops []patch.Operation) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patches = append(m.patches, patchCall{ID: id, Ops: ops})
	if m.patchErr != nil {
		return nil, m.patchErr
	}
	return nil, nil
}

func (m *mockAPI) Search(_ context.Context, index string, body interface{}, size, from int) (*wildbook.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := body.(map[string]interface{})
	m.searches = append(m.searches, searchCall{Index: index, Body: b, Size: size, From: from})
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return &wildbook.SearchResult{Hits: m.hits, Total: len(m.hits)}, nil
}

func (m *mockAPI) GetSiteSettings(_ context.Context) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settingsErr != nil {
		return nil, m.settingsErr
	}
	return patch.DeepCopy(m.settings), nil
}

func (m *mockAPI) patchCalls() []patchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]patchCall(nil), m.patches...)
}

func (m *mockAPI) searchCalls() []searchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]searchCall(nil), m.searches...)
}

type validateCall struct {
	Section string
	Path    string
	Value   interface{}
	Ctx     validate.Context
}

// recordingValidator records calls and returns err for every value.
type recordingValidator struct {
	mu    sync.Mutex
	calls []validateCall
	err   error
}

func (v *recordingValidator) ValidateFieldValue(section, path string, value interface{}, ctx validate.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, validateCall{section, path, value, ctx})
	return v.err
}

func newTestStore(api *mockAPI) (*Store, *notification.Recorder) {
	rec := notification.NewRecorder()
	s := New(api, Options{
		Sink: rec,
		// Debounce timers never fire on their own; tests call Flush.
		SearchDebounce: time.Hour,
	})
	return s, rec
}
