package sitesettings

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/wildbook/encounterdesk/internal/review/locationtree"
)

const sample = `
siteTaxonomies:
  - scientificName: Rhincodon typus
behaviorOptions:
  "": [feeding]
  Rhincodon typus: [circling]
measurementUnits: [m]
locationData:
  locationID:
    - id: kenya
      name: Kenya
      locationID:
        - id: mombasa
codes:
  1: one
`

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "site-settings.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParse(t *testing.T) {
	settings, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if _, err := json.Marshal(settings); err != nil {
		t.Fatalf("settings must encode as JSON: %v", err)
	}
	codes, ok := settings["codes"].(map[string]interface{})
	if !ok || codes["1"] != "one" {
		t.Errorf("integer keys should become strings, got %#v", settings["codes"])
	}
	behaviors := settings["behaviorOptions"].(map[string]interface{})
	if general, _ := behaviors[""].([]interface{}); len(general) != 1 {
		t.Errorf("expected empty-key behaviors, got %v", behaviors)
	}

	tree := locationtree.FromSiteSettings(settings)
	if len(tree) != 1 || tree[0].Value != "kenya" || len(tree[0].Children) != 1 || tree[0].Children[0].Title != "mombasa" {
		t.Errorf("unexpected location tree: %+v", tree)
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse([]byte("- a\n- b\n")); err == nil {
		t.Error("expected error for a top-level list")
	}
	if _, err := Parse([]byte("a: [unclosed")); err == nil {
		t.Error("expected YAML syntax error")
	}
	settings, err := Parse(nil)
	if err != nil || len(settings) != 0 {
		t.Errorf("empty file should yield empty settings, got %v, %v", settings, err)
	}
}

func TestStore_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sex: [male]\n")
	s := NewStore(path)

	settings, err := s.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(settings["sex"].([]interface{})) != 1 {
		t.Fatalf("unexpected settings: %v", settings)
	}

	writeFile(t, dir, "sex: [male, female]\n")
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	settings, _ = s.Get()
	if len(settings["sex"].([]interface{})) != 2 {
		t.Errorf("expected reload after change, got %v", settings)
	}

	// A broken edit keeps serving the last good settings.
	writeFile(t, dir, "sex: [unclosed")
	evenLater := later.Add(time.Minute)
	os.Chtimes(path, evenLater, evenLater)
	settings, err = s.Get()
	if err != nil || len(settings["sex"].([]interface{})) != 2 {
		t.Errorf("expected last good settings, got %v, %v", settings, err)
	}
}

func TestStore_Missing(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := s.Get(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestHandler_GetSiteSettings(t *testing.T) {
	path := writeFile(t, t.TempDir(), sample)
	h := NewHandler(NewStore(path))

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v3/site-settings", nil), rec)
	if err := h.GetSiteSettings(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := body["locationData"]; !ok {
		t.Errorf("expected locationData in %s", rec.Body.String())
	}

	h = NewHandler(NewStore(filepath.Join(t.TempDir(), "missing.yaml")))
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if he, ok := h.GetSiteSettings(c).(*echo.HTTPError); !ok || he.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for missing file, got %v", he)
	}
}

func TestSampleSettingsFile(t *testing.T) {
	settings, err := Load(filepath.Join("..", "..", "..", "site-settings.yaml"))
	if err != nil {
		t.Fatalf("sample settings should parse: %v", err)
	}
	if len(locationtree.FromSiteSettings(settings)) == 0 {
		t.Error("sample settings should define locations")
	}
}
