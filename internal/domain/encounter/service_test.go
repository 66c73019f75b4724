package encounter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wildbook/encounterdesk/internal/platform/patch"
	"github.com/wildbook/encounterdesk/internal/platform/websocket"
)

// -- Mock Repository --

type mockRepo struct {
	mu         sync.Mutex
	encounters map[string]*Encounter
	locked     []string
}

func newMockRepo() *mockRepo {
	return &mockRepo{encounters: make(map[string]*Encounter)}
}

func (m *mockRepo) Create(_ context.Context, enc *Encounter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if enc.ID == "" {
		enc.ID = "generated-1"
	}
	if _, ok := m.encounters[enc.ID]; ok {
		return ErrExists
	}
	enc.Version = 1
	enc.CreatedAt = time.Now()
	enc.UpdatedAt = enc.CreatedAt
	m.encounters[enc.ID] = clone(enc)
	return nil
}

func (m *mockRepo) Get(_ context.Context, id string) (*Encounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	enc, ok := m.encounters[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(enc), nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id string) (*Encounter, error) {
	m.mu.Lock()
	m.locked = append(m.locked, id)
	m.mu.Unlock()
	return m.Get(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, enc *Encounter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.encounters[enc.ID]; !ok {
		return ErrNotFound
	}
	enc.UpdatedAt = time.Now()
	m.encounters[enc.ID] = clone(enc)
	return nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Encounter, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Encounter
	for _, enc := range m.encounters {
		all = append(all, clone(enc))
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func clone(enc *Encounter) *Encounter {
	cp := *enc
	cp.Data = patch.DeepCopy(enc.Data)
	return &cp
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e websocket.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func newTestService() (*Service, *mockRepo, *recordingPublisher) {
	repo := newMockRepo()
	pub := &recordingPublisher{}
	svc := NewService(repo, nil, zerolog.Nop())
	svc.SetPublisher(pub)
	return svc, repo, pub
}

func seed(t *testing.T, svc *Service, id string, data map[string]interface{}) *Encounter {
	t.Helper()
	enc := &Encounter{ID: id, Data: data}
	if err := svc.CreateEncounter(context.Background(), enc); err != nil {
		t.Fatalf("seed encounter: %v", err)
	}
	return enc
}

// -- Tests --

func TestService_CreateAndGet(t *testing.T) {
	svc, _, pub := newTestService()
	seed(t, svc, "enc-1", map[string]interface{}{"verbatimLocality": "Reef"})

	got, err := svc.GetEncounter(context.Background(), "enc-1")
	if err != nil {
		t.Fatalf("GetEncounter: %v", err)
	}
	if got.Version != 1 || got.Data["verbatimLocality"] != "Reef" {
		t.Errorf("unexpected encounter: %+v", got)
	}
	if len(pub.events) != 1 || pub.events[0].Type != websocket.EventEncounterCreated {
		t.Errorf("expected one created event, got %+v", pub.events)
	}

	if err := svc.CreateEncounter(context.Background(), &Encounter{ID: "enc-1"}); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestService_GetNotFound(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.GetEncounter(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_PatchEncounter(t *testing.T) {
	svc, repo, pub := newTestService()
	seed(t, svc, "enc-1", map[string]interface{}{"verbatimLocality": "Reef", "country": "Kenya"})

	enc, err := svc.PatchEncounter(context.Background(), "enc-1", []patch.Operation{
		{Op: patch.OpReplace, Path: "verbatimLocality", Value: "Lagoon"},
		{Op: patch.OpRemove, Path: "country"},
		{Op: patch.OpAdd, Path: "measurements", Value: map[string]interface{}{"type": "length", "value": 4.2}},
	})
	if err != nil {
		t.Fatalf("PatchEncounter: %v", err)
	}
	if enc.Version != 2 {
		t.Errorf("expected version 2, got %d", enc.Version)
	}
	if enc.Data["verbatimLocality"] != "Lagoon" {
		t.Errorf("replace not applied: %v", enc.Data)
	}
	if _, ok := enc.Data["country"]; ok {
		t.Error("remove not applied")
	}
	if ms, _ := enc.Data["measurements"].([]interface{}); len(ms) != 1 {
		t.Errorf("expected one measurement, got %v", enc.Data["measurements"])
	}
	if len(repo.locked) != 1 || repo.locked[0] != "enc-1" {
		t.Errorf("expected row lock on enc-1, got %v", repo.locked)
	}

	last := pub.events[len(pub.events)-1]
	if last.Type != websocket.EventEncounterPatched || last.Topic != "encounter/enc-1" || last.Version != 2 {
		t.Errorf("unexpected event: %+v", last)
	}
}

func TestService_PatchIsAtomic(t *testing.T) {
	svc, repo, pub := newTestService()
	seed(t, svc, "enc-1", map[string]interface{}{"verbatimLocality": "Reef"})
	published := len(pub.events)

	_, err := svc.PatchEncounter(context.Background(), "enc-1", []patch.Operation{
		{Op: patch.OpReplace, Path: "verbatimLocality", Value: "Lagoon"},
		{Op: patch.OpRemove, Path: "locationGeoPoint.lat"},
	})
	if !errors.Is(err, ErrInvalidPatch) {
		t.Fatalf("expected ErrInvalidPatch, got %v", err)
	}

	stored := repo.encounters["enc-1"]
	if stored.Version != 1 || stored.Data["verbatimLocality"] != "Reef" {
		t.Errorf("failed patch must leave the record untouched, got %+v", stored)
	}
	if len(pub.events) != published {
		t.Error("failed patch must not publish")
	}
}

func TestService_PatchRejectsReservedMembers(t *testing.T) {
	svc, _, _ := newTestService()
	seed(t, svc, "enc-1", nil)

	for _, path := range []string{"id", "/version"} {
		_, err := svc.PatchEncounter(context.Background(), "enc-1", []patch.Operation{
			{Op: patch.OpReplace, Path: path, Value: "x"},
		})
		if !errors.Is(err, ErrInvalidPatch) {
			t.Errorf("%s: expected ErrInvalidPatch, got %v", path, err)
		}
	}
}

func TestService_PatchNotFound(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.PatchEncounter(context.Background(), "missing", []patch.Operation{
		{Op: patch.OpAdd, Path: "country", Value: "Kenya"},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_PatchDerivesGeoPoint(t *testing.T) {
	svc, _, _ := newTestService()
	seed(t, svc, "enc-1", map[string]interface{}{"decimalLatitude": 10.0, "decimalLongitude": 20.0})

	enc, err := svc.GetEncounter(context.Background(), "enc-1")
	if err != nil {
		t.Fatal(err)
	}
	gp, _ := enc.Data["locationGeoPoint"].(map[string]interface{})
	if gp["lat"] != 10.0 || gp["lon"] != 20.0 {
		t.Fatalf("create should derive the geo point, got %v", enc.Data)
	}

	enc, err = svc.PatchEncounter(context.Background(), "enc-1", []patch.Operation{
		{Op: patch.OpReplace, Path: "decimalLatitude", Value: "-33.5"},
	})
	if err != nil {
		t.Fatal(err)
	}
	gp, _ = enc.Data["locationGeoPoint"].(map[string]interface{})
	if gp["lat"] != -33.5 || gp["lon"] != 20.0 {
		t.Errorf("unexpected geo point after latitude change: %v", gp)
	}

	enc, err = svc.PatchEncounter(context.Background(), "enc-1", []patch.Operation{
		{Op: patch.OpRemove, Path: "decimalLatitude"},
		{Op: patch.OpRemove, Path: "decimalLongitude"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := enc.Data["locationGeoPoint"]; ok {
		t.Errorf("clearing coordinates should drop the geo point, got %v", enc.Data)
	}
}

func TestService_PatchGeoPointWritesDecimals(t *testing.T) {
	svc, _, _ := newTestService()
	seed(t, svc, "enc-1", nil)

	enc, err := svc.PatchEncounter(context.Background(), "enc-1", []patch.Operation{
		{Op: patch.OpAdd, Path: "locationGeoPoint", Value: map[string]interface{}{"lat": "1.5", "lon": 2.5}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if enc.Data["decimalLatitude"] != 1.5 || enc.Data["decimalLongitude"] != 2.5 {
		t.Errorf("expected decimals from geo point, got %v", enc.Data)
	}
}

func TestService_MergePatch(t *testing.T) {
	svc, _, pub := newTestService()
	seed(t, svc, "enc-1", map[string]interface{}{"country": "Kenya", "verbatimLocality": "Reef"})

	enc, err := svc.MergePatchEncounter(context.Background(), "enc-1", map[string]interface{}{
		"country": nil,
		"state":   "approved",
		"id":      "hijack",
	})
	if err != nil {
		t.Fatalf("MergePatchEncounter: %v", err)
	}
	if _, ok := enc.Data["country"]; ok {
		t.Error("null member should be removed")
	}
	if enc.Data["state"] != "approved" || enc.Data["verbatimLocality"] != "Reef" {
		t.Errorf("unexpected data: %v", enc.Data)
	}
	if enc.ID != "enc-1" || enc.Version != 2 {
		t.Errorf("unexpected identity: id=%s version=%d", enc.ID, enc.Version)
	}
	if pub.events[len(pub.events)-1].Type != websocket.EventEncounterPatched {
		t.Error("expected patched event")
	}
}

func TestEncounter_Document(t *testing.T) {
	enc := FromDocument(map[string]interface{}{"id": "enc-9", "version": 4, "country": "Peru"})
	if enc.ID != "enc-9" {
		t.Errorf("expected id from document, got %q", enc.ID)
	}
	if _, ok := enc.Data["version"]; ok {
		t.Error("version must not be stored in data")
	}
	enc.Version = 7
	doc := enc.Document()
	if doc["id"] != "enc-9" || doc["version"] != 7 || doc["country"] != "Peru" {
		t.Errorf("unexpected document: %v", doc)
	}
}
