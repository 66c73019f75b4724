package encounter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *Service, *echo.Echo) {
	t.Helper()
	svc, _, _ := newTestService()
	seed(t, svc, "enc-1", map[string]interface{}{"verbatimLocality": "Reef", "state": "unapproved"})
	return NewHandler(svc), svc, echo.New()
}

func patchRequest(e *echo.Echo, id, contentType, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPatch, "/api/v3/encounters/"+id, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c, rec
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	return he.Code
}

func TestHandler_GetEncounter(t *testing.T) {
	h, _, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("enc-1")

	if err := h.GetEncounter(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var doc map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &doc)
	if doc["id"] != "enc-1" || doc["verbatimLocality"] != "Reef" {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
	if rec.Header().Get("ETag") != `W/"1"` {
		t.Errorf("unexpected ETag %q", rec.Header().Get("ETag"))
	}
}

func TestHandler_GetEncounter_NotFound(t *testing.T) {
	h, _, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("nope")

	if code := statusOf(t, h.GetEncounter(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_CreateEncounter(t *testing.T) {
	h, _, e := newTestHandler(t)

	body := `{"id":"enc-2","verbatimLocality":"Bay","decimalLatitude":1,"decimalLongitude":2}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateEncounter(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var doc map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &doc)
	if doc["locationGeoPoint"] == nil {
		t.Errorf("expected derived geo point, got %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c = e.NewContext(req, httptest.NewRecorder())
	if code := statusOf(t, h.CreateEncounter(c)); code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate id, got %d", code)
	}
}

func TestHandler_CreateEncounter_BadJSON(t *testing.T) {
	h, _, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	c := e.NewContext(req, httptest.NewRecorder())
	if code := statusOf(t, h.CreateEncounter(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_PatchEncounter_JSONArray(t *testing.T) {
	h, _, e := newTestHandler(t)

	for _, ct := range []string{"", "application/json", "application/json-patch+json", "application/json; charset=utf-8"} {
		c, rec := patchRequest(e, "enc-1", ct, `[{"op":"replace","path":"verbatimLocality","value":"Lagoon"}]`)
		if err := h.PatchEncounter(c); err != nil {
			t.Fatalf("%q: unexpected error: %v", ct, err)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("%q: expected 200, got %d", ct, rec.Code)
		}
		var doc map[string]interface{}
		json.Unmarshal(rec.Body.Bytes(), &doc)
		if doc["verbatimLocality"] != "Lagoon" {
			t.Errorf("%q: patch not applied: %s", ct, rec.Body.String())
		}
	}
}

func TestHandler_PatchEncounter_MergePatch(t *testing.T) {
	h, _, e := newTestHandler(t)

	c, rec := patchRequest(e, "enc-1", "application/merge-patch+json", `{"state":"approved","verbatimLocality":null}`)
	if err := h.PatchEncounter(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var doc map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &doc)
	if doc["state"] != "approved" {
		t.Errorf("expected state approved, got %v", doc["state"])
	}
	if _, ok := doc["verbatimLocality"]; ok {
		t.Error("expected verbatimLocality removed")
	}
}

func TestHandler_PatchEncounter_Errors(t *testing.T) {
	h, _, e := newTestHandler(t)

	tests := []struct {
		name        string
		id          string
		contentType string
		body        string
		want        int
	}{
		{"malformed body", "enc-1", "application/json", `{"op":"add"}`, http.StatusBadRequest},
		{"missing op", "enc-1", "application/json", `[{"path":"x"}]`, http.StatusBadRequest},
		{"unsupported type", "enc-1", "text/plain", `[]`, http.StatusUnsupportedMediaType},
		{"bad merge body", "enc-1", "application/merge-patch+json", `[1]`, http.StatusBadRequest},
		{"unknown encounter", "nope", "application/json", `[{"op":"add","path":"x","value":1}]`, http.StatusNotFound},
		{"apply failure", "enc-1", "application/json", `[{"op":"remove","path":"country"}]`, http.StatusUnprocessableEntity},
		{"read-only id", "enc-1", "application/json", `[{"op":"replace","path":"id","value":"x"}]`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := patchRequest(e, tt.id, tt.contentType, tt.body)
			if code := statusOf(t, h.PatchEncounter(c)); code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, code)
			}
		})
	}
}

func TestHandler_ListEncounters(t *testing.T) {
	h, svc, e := newTestHandler(t)
	seed(t, svc, "enc-2", nil)

	req := httptest.NewRequest(http.MethodGet, "/?size=1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListEncounters(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Hits    []map[string]interface{} `json:"hits"`
		Total   int                      `json:"total"`
		HasMore bool                     `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 2 || len(body.Hits) != 1 || !body.HasMore {
		t.Errorf("unexpected page: %s", rec.Body.String())
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, e := newTestHandler(t)
	h.RegisterRoutes(e.Group("/api/v3"))

	want := map[string]bool{
		"GET /api/v3/encounters":       false,
		"POST /api/v3/encounters":      false,
		"GET /api/v3/encounters/:id":   false,
		"PATCH /api/v3/encounters/:id": false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("route %s not registered", k)
		}
	}
}
