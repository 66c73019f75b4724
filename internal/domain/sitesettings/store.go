// Package sitesettings serves the site configuration (taxonomies, option
// lists, location hierarchy, IA configuration) from a YAML file.
package sitesettings

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrUnavailable = errors.New("site settings unavailable")

// Store caches the parsed file and re-reads it when its modification time
// changes.
type Store struct {
	path string

	mu       sync.Mutex
	settings map[string]interface{}
	modTime  time.Time
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Get returns the current settings. The returned map is shared; callers
// must not modify it.
func (s *Store) Get() (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		if s.settings != nil {
			return s.settings, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if s.settings != nil && info.ModTime().Equal(s.modTime) {
		return s.settings, nil
	}

	settings, err := Load(s.path)
	if err != nil {
		if s.settings != nil {
			return s.settings, nil
		}
		return nil, err
	}
	s.settings = settings
	s.modTime = info.ModTime()
	return settings, nil
}

// Load parses a settings file.
func Load(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Parse(raw)
}

// Parse decodes YAML (or JSON, which YAML accepts) into JSON-compatible
// values.
func Parse(raw []byte) (map[string]interface{}, error) {
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse site settings: %w", err)
	}
	if doc == nil {
		return map[string]interface{}{}, nil
	}
	m, ok := jsonCompatible(doc).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("parse site settings: top level must be a mapping")
	}
	return m, nil
}

// jsonCompatible rewrites non-string map keys so the result encodes as JSON.
func jsonCompatible(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = jsonCompatible(val)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			key := ""
			if k != nil {
				key = fmt.Sprint(k)
			}
			out[key] = jsonCompatible(val)
		}
		return out
	case []interface{}:
		for i, val := range t {
			t[i] = jsonCompatible(val)
		}
		return t
	}
	return v
}
