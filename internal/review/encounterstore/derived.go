package encounterstore

import (
	"fmt"
	"strconv"

	"github.com/wildbook/encounterdesk/internal/platform/patch"
	"github.com/wildbook/encounterdesk/internal/review/locationtree"
	"github.com/wildbook/encounterdesk/internal/review/typeahead"
)

// Values in this file are computed from the base record, the site settings
// and the relevant drafts on every call. None of them is stored.

func geoPoint(data map[string]interface{}) (lat, lon *float64) {
	gp, ok := data["locationGeoPoint"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	return toFloatPtr(gp["lat"]), toFloatPtr(gp["lon"])
}

func toFloatPtr(v interface{}) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil
		}
		f = n
	default:
		return nil
	}
	return &f
}

// Lat returns the current latitude: the location draft's geo point when it
// is being edited, else the saved one.
func (s *Store) Lat() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lat, _ := s.coordinatesLocked()
	if lat == nil {
		return 0, false
	}
	return *lat, true
}

// Lon returns the current longitude, read the same way as Lat.
func (s *Store) Lon() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, lon := s.coordinatesLocked()
	if lon == nil {
		return 0, false
	}
	return *lon, true
}

func (s *Store) mediaAssetsLocked() []interface{} {
	assets, _ := s.data["mediaAssets"].([]interface{})
	return assets
}

func (s *Store) selectedAssetLocked() map[string]interface{} {
	assets := s.mediaAssetsLocked()
	if s.selectedImageIndex < 0 || s.selectedImageIndex >= len(assets) {
		return nil
	}
	asset, _ := assets[s.selectedImageIndex].(map[string]interface{})
	return asset
}

// EncounterAnnotations returns the annotations of the selected image that
// belong to this encounter.
func (s *Store) EncounterAnnotations() []map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encounterAnnotationsLocked()
}

func (s *Store) encounterAnnotationsLocked() []map[string]interface{} {
	asset := s.selectedAssetLocked()
	if asset == nil {
		return nil
	}
	id := s.idLocked()
	anns, _ := asset["annotations"].([]interface{})
	out := make([]map[string]interface{}, 0, len(anns))
	for _, a := range anns {
		m, ok := a.(map[string]interface{})
		if !ok {
			continue
		}
		if encID, _ := m["encounterId"].(string); encID == id {
			out = append(out, patch.DeepCopy(m))
		}
	}
	return out
}

// MatchResultClickable reports whether the selected annotation has finished
// identification, so its match results can be opened.
func (s *Store) MatchResultClickable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset := s.selectedAssetLocked()
	if asset == nil || asset["detectionStatus"] != "complete" {
		return false
	}
	for _, a := range s.encounterAnnotationsLocked() {
		if a["id"] != s.selectedAnnotationID {
			continue
		}
		if task, _ := a["iaTaskId"].(string); task == "" {
			return false
		}
		if params, ok := a["iaTaskParameters"].(map[string]interface{}); ok {
			if skip, _ := params["skipIdent"].(bool); skip {
				return false
			}
		}
		return a["identificationStatus"] == "complete"
	}
	return false
}

// ---------------------------------------------------------------------------
// Site settings
// ---------------------------------------------------------------------------

// SetSiteSettings replaces the site configuration.
func (s *Store) SetSiteSettings(settings map[string]interface{}) {
	s.mu.Lock()
	s.siteSettings = settings
	s.mu.Unlock()
	s.publish(Event{Kind: EventSettings})
}

// SiteSettings returns a copy of the site configuration.
func (s *Store) SiteSettings() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return patch.DeepCopy(s.siteSettings)
}

func (s *Store) settingList(key string) []typeahead.Option {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items, _ := s.siteSettings[key].([]interface{})
	return typeahead.OptionsFrom(items)
}

func (s *Store) settingBool(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, _ := s.siteSettings[key].(bool)
	return b
}

// TaxonomyOptions lists the scientific names of the site taxonomies.
func (s *Store) TaxonomyOptions() []typeahead.Option {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items, _ := s.siteSettings["siteTaxonomies"].([]interface{})
	names := make([]string, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]interface{}); ok {
			if n, _ := m["scientificName"].(string); n != "" {
				names = append(names, n)
			}
		}
	}
	return typeahead.StringOptions(names...)
}

func (s *Store) LivingStatusOptions() []typeahead.Option { return s.settingList("livingStatus") }
func (s *Store) SexOptions() []typeahead.Option { return s.settingList("sex") }
func (s *Store) LifeStageOptions() []typeahead.Option { return s.settingList("lifeStage") }
func (s *Store) GroupRoleOptions() []typeahead.Option { return s.settingList("groupRoles") }
func (s *Store) PatterningCodeOptions() []typeahead.Option {
	return s.settingList("patterningCode")
}

// BehaviorOptions merges the site-wide behaviors (key "") with those of the
// encounter's taxonomy.
func (s *Store) BehaviorOptions() []typeahead.Option {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byTaxonomy, _ := s.siteSettings["behaviorOptions"].(map[string]interface{})
	general, _ := byTaxonomy[""].([]interface{})
	var specific []interface{}
	if tax := s.taxonomyLocked(); tax != "" {
		specific, _ = byTaxonomy[tax].([]interface{})
	}
	return typeahead.MergeOptions(typeahead.OptionsFrom(general), typeahead.OptionsFrom(specific))
}

func (s *Store) taxonomyLocked() string {
	for _, k := range []string{"taxonomy", "species"} {
		if t, _ := s.data[k].(string); t != "" {
			return t
		}
	}
	return ""
}

// Taxonomy returns the encounter's scientific name.
func (s *Store) Taxonomy() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taxonomyLocked()
}

func (s *Store) MetalTagsEnabled() bool { return s.settingBool("metalTagsEnabled") }
func (s *Store) AcousticTagEnabled() bool { return s.settingBool("acousticTagEnabled") }
func (s *Store) SatelliteTagEnabled() bool { return s.settingBool("satelliteTagEnabled") }

// LocationTree builds the location hierarchy from the site settings.
func (s *Store) LocationTree() []locationtree.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return locationtree.FromSiteSettings(s.siteSettings)
}

// IAConfig returns the matching algorithms configured for taxonomy.
func (s *Store) IAConfig(taxonomy string) []map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, _ := s.siteSettings["iaConfig"].(map[string]interface{})
	items, _ := cfg[taxonomy].([]interface{})
	out := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]interface{}); ok {
			out = append(out, patch.DeepCopy(m))
		}
	}
	return out
}

func unitFor(settings map[string]interface{}, typ string) string {
	types, _ := settings["measurement"].([]interface{})
	units, _ := settings["measurementUnits"].([]interface{})
	for i, t := range types {
		if fmt.Sprint(t) == typ && i < len(units) {
			return fmt.Sprint(units[i])
		}
	}
	return ""
}
