package patch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrPathNotFound is returned when a path does not resolve inside a document.
	ErrPathNotFound = errors.New("path not found")
	// ErrInvalidPath is returned for empty or malformed paths.
	ErrInvalidPath = errors.New("invalid path")
)

// SplitPath breaks a path into segments. Three spellings are accepted:
// JSON pointers ("/locationGeoPoint/lat"), dotted paths
// ("locationGeoPoint.lat") and bare field names ("verbatimEventDate").
func SplitPath(path string) []string {
	if strings.HasPrefix(path, "/") {
		path = strings.TrimPrefix(path, "/")
		if path == "" {
			return nil
		}
		parts := strings.Split(path, "/")
		for i, p := range parts {
			p = strings.ReplaceAll(p, "~1", "/")
			parts[i] = strings.ReplaceAll(p, "~0", "~")
		}
		return parts
	}
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Get reads the value at path. The boolean reports whether the path resolved.
func Get(doc map[string]interface{}, path string) (interface{}, bool) {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return nil, false
	}

	var current interface{} = doc
	for _, part := range parts {
		switch c := current.(type) {
		case map[string]interface{}:
			next, ok := c[part]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			current = c[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Set writes value at path, creating intermediate objects as needed.
func Set(doc map[string]interface{}, path string, value interface{}) error {
	parent, last, err := resolveParent(doc, path, true)
	if err != nil {
		return err
	}
	switch p := parent.(type) {
	case map[string]interface{}:
		p[last] = value
	case []interface{}:
		idx, err := strconv.Atoi(last)
		if err != nil {
			return fmt.Errorf("%w: invalid array index %q", ErrInvalidPath, last)
		}
		if idx < 0 || idx >= len(p) {
			return fmt.Errorf("%w: array index out of bounds: %d", ErrPathNotFound, idx)
		}
		p[idx] = value
	}
	return nil
}

// Delete removes the member at path. Deleting an array element shifts the
// remaining elements down.
func Delete(doc map[string]interface{}, path string) error {
	parent, last, err := resolveParent(doc, path, false)
	if err != nil {
		return err
	}
	switch p := parent.(type) {
	case map[string]interface{}:
		if _, ok := p[last]; !ok {
			return fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		delete(p, last)
	case []interface{}:
		idx, err := strconv.Atoi(last)
		if err != nil {
			return fmt.Errorf("%w: invalid array index %q", ErrInvalidPath, last)
		}
		if idx < 0 || idx >= len(p) {
			return fmt.Errorf("%w: array index out of bounds: %d", ErrPathNotFound, idx)
		}
		arr := append(p[:idx:idx], p[idx+1:]...)
		return Set(doc, parentPath(path), arr)
	}
	return nil
}

// resolveParent walks to the container holding the last path segment.
func resolveParent(doc map[string]interface{}, path string, createMissing bool) (interface{}, string, error) {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return nil, "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	var current interface{} = doc
	for i := 0; i < len(parts)-1; i++ {
		switch c := current.(type) {
		case map[string]interface{}:
			next, ok := c[parts[i]]
			if !ok || next == nil {
				if !createMissing {
					return nil, "", fmt.Errorf("%w: segment %s", ErrPathNotFound, parts[i])
				}
				m := make(map[string]interface{})
				c[parts[i]] = m
				current = m
				continue
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(parts[i])
			if err != nil {
				return nil, "", fmt.Errorf("%w: invalid array index %q", ErrInvalidPath, parts[i])
			}
			if idx < 0 || idx >= len(c) {
				return nil, "", fmt.Errorf("%w: array index out of bounds: %d", ErrPathNotFound, idx)
			}
			current = c[idx]
		default:
			return nil, "", fmt.Errorf("%w: cannot traverse into non-container at %s", ErrInvalidPath, parts[i])
		}
	}

	return current, parts[len(parts)-1], nil
}

// parentPath returns the pointer path of the container holding path's last segment.
func parentPath(path string) string {
	parts := SplitPath(path)
	if len(parts) <= 1 {
		return ""
	}
	escaped := make([]string, len(parts)-1)
	for i, p := range parts[:len(parts)-1] {
		p = strings.ReplaceAll(p, "~", "~0")
		escaped[i] = strings.ReplaceAll(p, "/", "~1")
	}
	return "/" + strings.Join(escaped, "/")
}
