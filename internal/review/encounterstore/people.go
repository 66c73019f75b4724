package encounterstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/wildbook/encounterdesk/internal/platform/notification"
	"github.com/wildbook/encounterdesk/internal/platform/patch"
)

// ErrIncompletePerson is returned by AddNewPerson when the form lacks an
// email or a role.
var ErrIncompletePerson = errors.New("new person needs an email and a role")

func (s *Store) SetNewPersonName(name string) {
	s.mu.Lock()
	s.newPersonName = name
	s.mu.Unlock()
}

func (s *Store) SetNewPersonEmail(email string) {
	err := s.validate.ValidateFieldValue("people", "email", email, nil)
	s.mu.Lock()
	s.newPersonEmail = email
	s.setErrorLocked("people", "email", err)
	s.mu.Unlock()
}

// SetNewPersonRole takes "submitter", "photographer" or "informOther".
func (s *Store) SetNewPersonRole(role string) {
	s.mu.Lock()
	s.newPersonRole = role
	s.mu.Unlock()
}

// NewPerson returns the add-person form.
func (s *Store) NewPerson() (name, email, role string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newPersonName, s.newPersonEmail, s.newPersonRole
}

// AddNewPerson adds the form's email under its role and clears the form.
// The form is kept when the request fails.
func (s *Store) AddNewPerson(ctx context.Context) error {
	s.mu.RLock()
	id, email, role := s.idLocked(), s.newPersonEmail, s.newPersonRole
	s.mu.RUnlock()

	if email == "" || role == "" {
		return ErrIncompletePerson
	}

	ops := []patch.Operation{{Op: patch.OpAdd, Path: role, Value: email}}
	if _, err := s.api.PatchEncounter(ctx, id, ops); err != nil {
		s.logger.Error().Err(err).Str("encounter_id", id).Str("role", role).Msg("add person")
		s.sink.Error(s.catalog.Render(notification.MsgPersonFailed, map[string]string{"role": role, "error": err.Error()}))
		return fmt.Errorf("add %s: %w", role, err)
	}

	s.mu.Lock()
	s.newPersonName, s.newPersonEmail, s.newPersonRole = "", "", ""
	delete(s.errors, "people")
	s.mu.Unlock()

	if _, err := s.RefreshEncounterData(ctx); err != nil {
		return err
	}
	s.sink.Success(s.catalog.Render(notification.MsgPersonAdded, map[string]string{"role": role}))
	return nil
}
