package wildbook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/wildbook/encounterdesk/internal/platform/patch"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_RejectsBadScheme(t *testing.T) {
	if _, err := New("ftp://example.com"); err == nil {
		t.Error("expected error for ftp scheme")
	}
}

func TestGetEncounter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v3/encounters/enc-123" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected Accept application/json")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"enc-123","taxonomy":"Delphinidae"}`))
	})

	enc, err := c.GetEncounter(context.Background(), "enc-123")
	if err != nil {
		t.Fatalf("GetEncounter: %v", err)
	}
	if enc["taxonomy"] != "Delphinidae" {
		t.Errorf("unexpected encounter %v", enc)
	}
}

func TestGetEncounter_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"encounter not found"}`, http.StatusNotFound)
	})

	_, err := c.GetEncounter(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound || se.Method != http.MethodGet {
		t.Errorf("expected StatusError 404, got %#v", err)
	}
}

func TestGetEncounter_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"enc-1"}`))
	}, WithRetries(2))

	if _, err := c.GetEncounter(context.Background(), "enc-1"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestPatchEncounter_NotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}, WithRetries(3))

	_, err := c.PatchEncounter(context.Background(), "enc-1", []patch.Operation{{Op: patch.OpReplace, Path: "state", Value: "approved"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("PATCH must not be retried, got %d calls", calls)
	}
}

func TestPatchEncounter_SendsOrderedOps(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/v3/encounters/enc-123" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected application/json, got %q", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		want := `[{"op":"add","path":"submitter","value":"john@example.com"},{"op":"remove","path":"measurements","value":"length"}]`
		if string(body) != want {
			t.Errorf("body = %s\nwant  %s", body, want)
		}
		w.WriteHeader(http.StatusOK)
	})

	out, err := c.PatchEncounter(context.Background(), "enc-123", []patch.Operation{
		{Op: patch.OpAdd, Path: "submitter", Value: "john@example.com"},
		{Op: patch.OpRemove, Path: "measurements", Value: "length"},
	})
	if err != nil {
		t.Fatalf("PatchEncounter: %v", err)
	}
	if out != nil {
		t.Errorf("expected nil record for empty body, got %v", out)
	}
}

func TestSearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/search/individual" || r.URL.RawQuery != "from=0&size=20" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if _, ok := body["query"]; !ok {
			t.Errorf("expected query member, got %v", body)
		}
		_, _ = w.Write([]byte(`{"hits":[{"id":"ind-1","names":["Whale A"]}],"total":1}`))
	})

	res, err := c.Search(context.Background(), "individual", map[string]interface{}{"query": map[string]interface{}{}}, 20, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Total != 1 || len(res.Hits) != 1 || res.Hits[0]["id"] != "ind-1" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestSearch_EmptyHits(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	res, err := c.Search(context.Background(), "occurrence", nil, 20, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Hits == nil {
		t.Error("expected non-nil hits")
	}
}

func TestStartIATask(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/ia" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		want := `{"v2":true,"taskParameters":{"matchingSetFilter":{},"matchingAlgorithms":[]},"annotationIds":["ann-1"],"fastlane":true}`
		if string(body) != want {
			t.Errorf("body = %s\nwant  %s", body, want)
		}
		_, _ = w.Write([]byte(`{"taskId":"t-1"}`))
	})

	res, err := c.StartIATask(context.Background(), IATaskRequest{
		V2: true,
		TaskParameters: TaskParameters{
			MatchingSetFilter:  map[string]interface{}{},
			MatchingAlgorithms: []map[string]interface{}{},
		},
		AnnotationIDs: []string{"ann-1"},
		Fastlane:      true,
	})
	if err != nil {
		t.Fatalf("StartIATask: %v", err)
	}
	if res.TaskID != "t-1" {
		t.Errorf("unexpected task id %s", res.TaskID)
	}
	if got := c.ResultsURL("t-1"); got != c.baseURL.String()+"/iaResults.jsp?taskId=t-1" {
		t.Errorf("unexpected results url %s", got)
	}
}

func TestStartIATask_MissingTaskID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	if _, err := c.StartIATask(context.Background(), IATaskRequest{}); err == nil {
		t.Error("expected error when taskId is missing")
	}
}

func TestGetSiteSettings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/site-settings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"measurement":["length"],"measurementUnits":["cm"]}`))
	})
	s, err := c.GetSiteSettings(context.Background())
	if err != nil {
		t.Fatalf("GetSiteSettings: %v", err)
	}
	if len(s["measurement"].([]interface{})) != 1 {
		t.Errorf("unexpected settings %v", s)
	}
}

func TestStatusError_Message(t *testing.T) {
	err := &StatusError{Method: "PATCH", Path: "/api/v3/encounters/x", StatusCode: 422, Body: "bad op"}
	if err.Error() != "PATCH /api/v3/encounters/x: status 422: bad op" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("422 must not match ErrNotFound")
	}
}
