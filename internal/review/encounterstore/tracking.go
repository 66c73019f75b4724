package encounterstore

import (
	"context"
	"fmt"

	"github.com/wildbook/encounterdesk/internal/platform/notification"
	"github.com/wildbook/encounterdesk/internal/platform/patch"
)

const (
	fieldMetalTags    = "metalTags"
	fieldAcousticTag  = "acousticTag"
	fieldSatelliteTag = "satelliteTag"
)

// MetalTagValues returns the edited metal tags, or the base record's.
func (s *Store) MetalTagValues() []map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.trackingEdited[fieldMetalTags] {
		return toMaps(s.metalTagDraft)
	}
	items, _ := s.data[fieldMetalTags].([]interface{})
	return toMaps(items)
}

func toMaps(items []interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]interface{}); ok {
			out = append(out, patch.DeepCopy(m))
		}
	}
	return out
}

// AcousticTagValues returns the edited acoustic tag, or the base record's.
func (s *Store) AcousticTagValues() map[string]interface{} {
	return s.tagValues(fieldAcousticTag)
}

// SatelliteTagValues returns the edited satellite tag, or the base record's.
func (s *Store) SatelliteTagValues() map[string]interface{} {
	return s.tagValues(fieldSatelliteTag)
}

func (s *Store) tagValues(field string) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.trackingEdited[field] {
		return patch.DeepCopy(s.tagDraftLocked(field))
	}
	m, _ := s.data[field].(map[string]interface{})
	return patch.DeepCopy(m)
}

func (s *Store) tagDraftLocked(field string) map[string]interface{} {
	if field == fieldAcousticTag {
		return s.acousticDraft
	}
	return s.satelliteDraft
}

func (s *Store) SetMetalTagValues(tags []map[string]interface{}) {
	s.mu.Lock()
	s.metalTagDraft = make([]interface{}, len(tags))
	for i, t := range tags {
		s.metalTagDraft[i] = patch.Normalize(t)
	}
	s.trackingEdited[fieldMetalTags] = true
	s.mu.Unlock()
	s.publish(Event{Kind: EventDraft})
}

func (s *Store) SetAcousticTagValues(tag map[string]interface{}) {
	s.mu.Lock()
	s.acousticDraft = patch.DeepCopy(tag)
	s.trackingEdited[fieldAcousticTag] = true
	s.mu.Unlock()
	s.publish(Event{Kind: EventDraft})
}

func (s *Store) SetSatelliteTagValues(tag map[string]interface{}) {
	s.mu.Lock()
	s.satelliteDraft = patch.DeepCopy(tag)
	s.trackingEdited[fieldSatelliteTag] = true
	s.mu.Unlock()
	s.publish(Event{Kind: EventDraft})
}

// BuildTrackingPatchPayload lists the operations for edited tags. Metal
// tags are addressed one element at a time by location; a tag with an
// emptied number is removed.
func (s *Store) BuildTrackingPatchPayload() []patch.Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ops := []patch.Operation{}
	if s.trackingEdited[fieldMetalTags] {
		baseItems, _ := s.data[fieldMetalTags].([]interface{})
		base := toMaps(baseItems)
		for _, t := range toMaps(s.metalTagDraft) {
			loc, _ := t["location"].(string)
			if loc == "" {
				continue
			}
			prev := findByKey(base, "location", loc)
			switch {
			case patch.IsEmpty(t["number"]):
				if prev != nil {
					ops = append(ops, patch.Operation{Op: patch.OpRemove, Path: fieldMetalTags, Value: loc})
				}
			case prev == nil:
				ops = append(ops, patch.Operation{Op: patch.OpAdd, Path: fieldMetalTags, Value: t})
			case !patch.Equal(prev, t):
				ops = append(ops, patch.Operation{Op: patch.OpReplace, Path: fieldMetalTags, Value: t})
			}
		}
	}
	for _, field := range []string{fieldAcousticTag, fieldSatelliteTag} {
		if !s.trackingEdited[field] {
			continue
		}
		next := s.tagDraftLocked(field)
		if allEmpty(next) {
			next = nil
		}
		prev, _ := s.data[field].(map[string]interface{})
		if allEmpty(prev) {
			prev = nil
		}
		switch {
		case prev == nil && next == nil:
		case next == nil:
			ops = append(ops, patch.Operation{Op: patch.OpRemove, Path: field})
		case prev == nil:
			ops = append(ops, patch.Operation{Op: patch.OpAdd, Path: field, Value: patch.DeepCopy(next)})
		case !patch.Equal(prev, next):
			ops = append(ops, patch.Operation{Op: patch.OpReplace, Path: field, Value: patch.DeepCopy(next)})
		}
	}
	return ops
}

func allEmpty(m map[string]interface{}) bool {
	for _, v := range m {
		if !patch.IsEmpty(v) {
			return false
		}
	}
	return true
}

// PatchTracking saves the edited tags.
func (s *Store) PatchTracking(ctx context.Context) error {
	ops := s.BuildTrackingPatchPayload()
	if len(ops) == 0 {
		return nil
	}
	if err := s.patchAndRefresh(ctx, ops, notification.MsgTrackingSave, notification.MsgSaveFailed, nil); err != nil {
		return fmt.Errorf("save tracking: %w", err)
	}
	return nil
}
