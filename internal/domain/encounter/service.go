package encounter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wildbook/encounterdesk/internal/platform/db"
	"github.com/wildbook/encounterdesk/internal/platform/patch"
	"github.com/wildbook/encounterdesk/internal/platform/websocket"
)

// ErrInvalidPatch wraps failures to apply a patch document.
var ErrInvalidPatch = errors.New("patch could not be applied")

type Service struct {
	repo   Repository
	db     db.Beginner
	engine *patch.Engine
	events websocket.EventPublisher
	logger zerolog.Logger
}

// NewService creates the encounter service. A nil Beginner runs every call
// without a transaction, which is what the in-memory repositories need.
func NewService(repo Repository, beginner db.Beginner, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		db:     beginner,
		engine: patch.EncounterEngine(),
		logger: logger,
	}
}

// SetPublisher attaches the change feed. Events are published after commit.
func (s *Service) SetPublisher(p websocket.EventPublisher) {
	s.events = p
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.db == nil {
		return fn(ctx)
	}
	return db.InTx(ctx, s.db, fn)
}

func (s *Service) GetEncounter(ctx context.Context, id string) (*Encounter, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListEncounters(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) CreateEncounter(ctx context.Context, enc *Encounter) error {
	if enc.Data == nil {
		enc.Data = make(map[string]interface{})
	}
	syncGeoPoint(enc.Data, createdFields(enc.Data))
	if err := s.repo.Create(ctx, enc); err != nil {
		return err
	}
	s.publish(ctx, websocket.EventEncounterCreated, enc, nil)
	return nil
}

// PatchEncounter applies ops to the stored document under a row lock and
// bumps the version. Either every operation applies or none do.
func (s *Service) PatchEncounter(ctx context.Context, id string, ops []patch.Operation) (*Encounter, error) {
	for i, op := range ops {
		if reserved(op.Path) || reserved(op.From) {
			return nil, fmt.Errorf("%w: operation %d targets read-only member %q", ErrInvalidPatch, i, op.Path)
		}
	}
	return s.update(ctx, id, ops, func(data map[string]interface{}) (map[string]interface{}, error) {
		return s.engine.Apply(data, ops)
	})
}

// MergePatchEncounter applies an RFC 7386 merge patch.
func (s *Service) MergePatchEncounter(ctx context.Context, id string, mp map[string]interface{}) (*Encounter, error) {
	delete(mp, fieldID)
	delete(mp, fieldVersion)
	ops := make([]patch.Operation, 0, len(mp))
	for k, v := range mp {
		ops = append(ops, patch.Operation{Op: patch.OpReplace, Path: k, Value: v})
	}
	return s.update(ctx, id, ops, func(data map[string]interface{}) (map[string]interface{}, error) {
		return patch.ApplyMergePatch(data, mp), nil
	})
}

func (s *Service) update(ctx context.Context, id string, ops []patch.Operation, apply func(map[string]interface{}) (map[string]interface{}, error)) (*Encounter, error) {
	var enc *Encounter
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		enc, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		data, err := apply(enc.Data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
		}
		delete(data, fieldID)
		delete(data, fieldVersion)
		syncGeoPoint(data, ops)

		enc.Data = data
		enc.Version++
		return s.repo.Update(ctx, enc)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Str("encounter_id", id).Int("version", enc.Version).Int("ops", len(ops)).Msg("encounter patched")
	s.publish(ctx, websocket.EventEncounterPatched, enc, ops)
	return enc, nil
}

func (s *Service) publish(ctx context.Context, kind string, enc *Encounter, ops []patch.Operation) {
	if s.events == nil {
		return
	}
	var data json.RawMessage
	if ops != nil {
		if b, err := json.Marshal(ops); err == nil {
			data = b
		}
	}
	err := s.events.Publish(ctx, websocket.Event{
		Type:        kind,
		Topic:       websocket.EncounterTopic(enc.ID),
		EncounterID: enc.ID,
		Version:     enc.Version,
		Data:        data,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("encounter_id", enc.ID).Msg("publish encounter event")
	}
}

func reserved(path string) bool {
	parts := patch.SplitPath(path)
	return len(parts) > 0 && (parts[0] == fieldID || parts[0] == fieldVersion)
}

// createdFields treats every coordinate member of a new document as touched
// so the geo point is derived the same way a patch would derive it.
func createdFields(data map[string]interface{}) []patch.Operation {
	var ops []patch.Operation
	for _, f := range []string{fieldLatitude, fieldLongitude, fieldGeoPoint} {
		if _, ok := data[f]; ok {
			ops = append(ops, patch.Operation{Op: patch.OpAdd, Path: f})
		}
	}
	return ops
}
