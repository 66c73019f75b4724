package ia

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wildbook/encounterdesk/internal/platform/websocket"
)

type Service struct {
	repo   Repository
	events websocket.EventPublisher
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) SetPublisher(p websocket.EventPublisher) {
	s.events = p
}

// StartTask validates and queues a match job.
func (s *Service) StartTask(ctx context.Context, req TaskRequest) (*Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	t := &Task{
		ID:      uuid.New().String(),
		Status:  StatusQueued,
		Request: req,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}

	s.logger.Info().Str("task_id", t.ID).Int("annotations", len(req.AnnotationIDs)).Msg("ia task queued")
	if s.events != nil {
		data, _ := json.Marshal(map[string]string{"taskId": t.ID})
		if err := s.events.Publish(ctx, websocket.Event{
			Type:  websocket.EventIATaskCreated,
			Topic: websocket.IATasks,
			Data:  data,
		}); err != nil {
			s.logger.Warn().Err(err).Str("task_id", t.ID).Msg("publish ia task event")
		}
	}
	return t, nil
}

func (s *Service) GetTask(ctx context.Context, id string) (*Task, error) {
	return s.repo.Get(ctx, id)
}
