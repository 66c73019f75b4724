package encounterstore

import (
	"context"
	"fmt"

	"github.com/wildbook/encounterdesk/internal/platform/notification"
	"github.com/wildbook/encounterdesk/internal/platform/patch"
)

// MeasurementValues returns the edited measurements if any were touched,
// otherwise the base record's measurements. Entries without a type are
// dropped.
func (s *Store) MeasurementValues() []map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMaps(s.measurementValuesLocked())
}

func (s *Store) measurementValuesLocked() []map[string]interface{} {
	if s.measurementDraft != nil {
		return s.measurementDraft
	}
	return baseMeasurements(s.data)
}

func baseMeasurements(data map[string]interface{}) []map[string]interface{} {
	items, _ := data["measurements"].([]interface{})
	out := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		if t, _ := m["type"].(string); t == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

func copyMaps(in []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, len(in))
	for i, m := range in {
		out[i] = patch.DeepCopy(m)
	}
	return out
}

func findByKey(items []map[string]interface{}, key, value string) map[string]interface{} {
	for _, m := range items {
		if v, _ := m[key].(string); v == value {
			return m
		}
	}
	return nil
}

// GetMeasurement returns the measurement of type typ, or an empty one with
// the unit configured for typ in the site settings.
func (s *Store) GetMeasurement(typ string) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m := findByKey(s.measurementValuesLocked(), "type", typ); m != nil {
		return patch.DeepCopy(m)
	}
	return s.defaultMeasurementLocked(typ)
}

func (s *Store) defaultMeasurementLocked(typ string) map[string]interface{} {
	return map[string]interface{}{
		"type":             typ,
		"value":            "",
		"units":            unitFor(s.siteSettings, typ),
		"samplingProtocol": "",
	}
}

// SetMeasurementValue edits the value of one measurement.
func (s *Store) SetMeasurementValue(typ string, value interface{}) {
	err := s.validate.ValidateFieldValue("measurements", typ, value, nil)
	s.mu.Lock()
	s.upsertMeasurementLocked(typ, "value", value)
	s.setErrorLocked("measurements", typ, err)
	s.mu.Unlock()
	s.publish(Event{Kind: EventDraft})
}

// SetMeasurementSamplingProtocol edits the sampling protocol of one
// measurement.
func (s *Store) SetMeasurementSamplingProtocol(typ, protocol string) {
	s.mu.Lock()
	s.upsertMeasurementLocked(typ, "samplingProtocol", protocol)
	s.mu.Unlock()
	s.publish(Event{Kind: EventDraft})
}

func (s *Store) upsertMeasurementLocked(typ, field string, value interface{}) {
	if s.measurementDraft == nil {
		s.measurementDraft = copyMaps(baseMeasurements(s.data))
	}
	m := findByKey(s.measurementDraft, "type", typ)
	if m == nil {
		m = s.defaultMeasurementLocked(typ)
		s.measurementDraft = append(s.measurementDraft, m)
	}
	m[field] = patch.Normalize(value)
}

// BuildMeasurementPatchPayload lists one operation per edited measurement.
// An emptied value removes the measurement by type.
func (s *Store) BuildMeasurementPatchPayload() []patch.Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ops := []patch.Operation{}
	if s.measurementDraft == nil {
		return ops
	}
	base := baseMeasurements(s.data)
	for _, m := range s.measurementDraft {
		typ, _ := m["type"].(string)
		if patch.IsEmpty(m["value"]) {
			ops = append(ops, patch.Operation{Op: patch.OpRemove, Path: "measurements", Value: typ})
			continue
		}
		prev := findByKey(base, "type", typ)
		switch {
		case prev == nil:
			ops = append(ops, patch.Operation{Op: patch.OpAdd, Path: "measurements", Value: patch.DeepCopy(m)})
		case !patch.Equal(prev, m):
			ops = append(ops, patch.Operation{Op: patch.OpReplace, Path: "measurements", Value: patch.DeepCopy(m)})
		}
	}
	return ops
}

// PatchMeasurements saves the edited measurements.
func (s *Store) PatchMeasurements(ctx context.Context) error {
	ops := s.BuildMeasurementPatchPayload()
	if len(ops) == 0 {
		return nil
	}
	if err := s.patchAndRefresh(ctx, ops, notification.MsgMeasurementsSave, notification.MsgSaveFailed, nil); err != nil {
		return fmt.Errorf("save measurements: %w", err)
	}
	return nil
}
