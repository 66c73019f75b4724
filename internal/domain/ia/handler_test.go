package ia

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/wildbook/encounterdesk/internal/platform/websocket"
)

type mockRepo struct {
	mu    sync.Mutex
	tasks map[string]*Task
	err   error
}

func newMockRepo() *mockRepo {
	return &mockRepo{tasks: make(map[string]*Task)}
}

func (m *mockRepo) Create(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	t.CreatedAt = time.Now()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockRepo) Get(_ context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

type recordingPublisher struct {
	events []websocket.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e websocket.Event) error {
	p.events = append(p.events, e)
	return nil
}

func newTestHandler() (*Handler, *mockRepo, *recordingPublisher) {
	repo := newMockRepo()
	pub := &recordingPublisher{}
	svc := NewService(repo, zerolog.Nop())
	svc.SetPublisher(pub)
	return NewHandler(svc), repo, pub
}

const matchBody = `{
	"v2": true,
	"taskParameters": {
		"matchingSetFilter": {"owner": ["me"], "locationIds": ["loc-1"]},
		"matchingAlgorithms": [{"name": "hotspotter"}]
	},
	"annotationIds": ["ann-1", "ann-2"],
	"fastlane": true
}`

func TestHandler_StartTask(t *testing.T) {
	h, repo, pub := newTestHandler()
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/ia", strings.NewReader(matchBody))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.StartTask(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	id := resp["taskId"]
	if id == "" {
		t.Fatalf("expected taskId, got %s", rec.Body.String())
	}

	stored := repo.tasks[id]
	if stored == nil || stored.Status != StatusQueued {
		t.Fatalf("task not stored: %+v", stored)
	}
	if !stored.Request.V2 || !stored.Request.Fastlane || len(stored.Request.AnnotationIDs) != 2 {
		t.Errorf("unexpected stored request: %+v", stored.Request)
	}
	if got := stored.Request.TaskParameters.MatchingAlgorithms[0]["name"]; got != "hotspotter" {
		t.Errorf("unexpected algorithm %v", got)
	}
	if len(pub.events) != 1 || pub.events[0].Topic != websocket.IATasks {
		t.Errorf("expected one ia task event, got %+v", pub.events)
	}
}

func TestHandler_StartTask_RequiresAnnotations(t *testing.T) {
	h, repo, _ := newTestHandler()
	e := echo.New()

	for _, body := range []string{`{"v2":true}`, `{"annotationIds":[]}`, `{"annotationIds":[""]}`} {
		req := httptest.NewRequest(http.MethodPost, "/ia", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		c := e.NewContext(req, httptest.NewRecorder())

		err := h.StartTask(c)
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %v", body, err)
		}
	}
	if len(repo.tasks) != 0 {
		t.Error("invalid requests must not be stored")
	}
}

func TestHandler_StartTask_RepoFailure(t *testing.T) {
	h, repo, _ := newTestHandler()
	repo.err = errors.New("db down")
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/ia", strings.NewReader(matchBody))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.StartTask(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %v", err)
	}
}

func TestHandler_GetTask(t *testing.T) {
	h, repo, _ := newTestHandler()
	repo.tasks["task-1"] = &Task{ID: "task-1", Status: StatusQueued, Request: TaskRequest{AnnotationIDs: []string{"a"}}}
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("task-1")

	if err := h.GetTask(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"taskId":"task-1"`) || !strings.Contains(rec.Body.String(), `"status":"queued"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("nope")
	if he, ok := h.GetTask(c).(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", he)
	}
}

func TestTaskRequest_Validate(t *testing.T) {
	ok := TaskRequest{AnnotationIDs: []string{"ann-1"}}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	bad := TaskRequest{}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidTask) {
		t.Errorf("expected ErrInvalidTask, got %v", err)
	}
}
