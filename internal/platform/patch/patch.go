// Package patch implements the add/replace/remove operation lists exchanged
// with the encounter API. The same engine applies PATCH bodies on the server
// and optimistic local updates in the review stores.
package patch

import (
	"encoding/json"
	"fmt"
)

// Operation kinds.
const (
	OpAdd     = "add"
	OpReplace = "replace"
	OpRemove  = "remove"
	OpMove    = "move"
	OpCopy    = "copy"
	OpTest    = "test"
)

// Operation is a single field-level change.
type Operation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
	From  string      `json:"from,omitempty"`
}

// Engine applies operation lists to JSON documents. Paths naming a
// registered collection get keyed upsert/remove semantics instead of plain
// member assignment.
type Engine struct {
	collections map[string]Collection
	aliases     map[string]string
}

// NewEngine builds an engine aware of the given collections.
func NewEngine(collections ...Collection) *Engine {
	e := &Engine{
		collections: make(map[string]Collection, len(collections)),
		aliases:     make(map[string]string),
	}
	for _, c := range collections {
		e.collections[c.Field] = c
		for _, a := range c.Aliases {
			e.aliases[a] = c.Field
		}
	}
	return e
}

// Apply returns a copy of doc with ops applied in order. doc is not modified.
// The first failing operation aborts the whole list.
func (e *Engine) Apply(doc map[string]interface{}, ops []Operation) (map[string]interface{}, error) {
	result := DeepCopy(doc)
	if result == nil {
		result = make(map[string]interface{})
	}

	for i, op := range ops {
		var err error
		value := normalize(op.Value)
		if c, ok := e.collection(op.Path); ok {
			err = c.apply(result, op.Op, value)
		} else {
			switch op.Op {
			case OpAdd:
				err = patchAdd(result, op.Path, value)
			case OpRemove:
				err = Delete(result, op.Path)
			case OpReplace:
				err = Set(result, op.Path, value)
			case OpMove:
				err = patchMove(result, op.From, op.Path)
			case OpCopy:
				err = patchCopy(result, op.From, op.Path)
			case OpTest:
				err = patchTest(result, op.Path, value)
			default:
				err = fmt.Errorf("unknown patch operation: %s", op.Op)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("patch operation %d (%s %s) failed: %w", i, op.Op, op.Path, err)
		}
	}

	return result, nil
}

// IsCollection reports whether path addresses a registered collection.
func (e *Engine) IsCollection(path string) bool {
	_, ok := e.collection(path)
	return ok
}

func (e *Engine) collection(path string) (Collection, bool) {
	parts := SplitPath(path)
	if len(parts) != 1 {
		return Collection{}, false
	}
	name := parts[0]
	if alias, ok := e.aliases[name]; ok {
		name = alias
	}
	c, ok := e.collections[name]
	return c, ok
}

// Parse decodes a JSON array of operations and checks required members.
func Parse(data []byte) ([]Operation, error) {
	var ops []Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("invalid patch document: %w", err)
	}
	for i, op := range ops {
		if op.Op == "" {
			return nil, fmt.Errorf("patch operation %d: missing 'op' field", i)
		}
		if op.Path == "" {
			return nil, fmt.Errorf("patch operation %d: missing 'path' field", i)
		}
		switch op.Op {
		case OpAdd, OpReplace, OpRemove, OpTest:
		case OpMove, OpCopy:
			if op.From == "" {
				return nil, fmt.Errorf("patch operation %d: missing 'from' field", i)
			}
		default:
			return nil, fmt.Errorf("patch operation %d: unknown op %q", i, op.Op)
		}
	}
	return ops, nil
}

// ApplyMergePatch applies a JSON Merge Patch (RFC 7386) to a copy of doc.
func ApplyMergePatch(doc map[string]interface{}, mp map[string]interface{}) map[string]interface{} {
	result := DeepCopy(doc)
	if result == nil {
		result = make(map[string]interface{})
	}
	mergePatchRecursive(result, mp)
	return result
}

func mergePatchRecursive(target, mp map[string]interface{}) {
	for key, patchVal := range mp {
		if patchVal == nil {
			delete(target, key)
			continue
		}

		patchMap, patchIsMap := patchVal.(map[string]interface{})
		if patchIsMap {
			targetMap, targetIsMap := target[key].(map[string]interface{})
			if targetIsMap {
				mergePatchRecursive(targetMap, patchMap)
			} else {
				target[key] = DeepCopy(patchMap)
			}
		} else {
			target[key] = patchVal
		}
	}
}

func patchAdd(doc map[string]interface{}, path string, value interface{}) error {
	parent, last, err := resolveParent(doc, path, true)
	if err != nil {
		return err
	}

	switch p := parent.(type) {
	case map[string]interface{}:
		p[last] = value
	case []interface{}:
		var arr []interface{}
		if last == "-" {
			arr = append(append(arr, p...), value)
		} else {
			idx, err := parseIndex(last, len(p)+1)
			if err != nil {
				return err
			}
			arr = make([]interface{}, 0, len(p)+1)
			arr = append(arr, p[:idx]...)
			arr = append(arr, value)
			arr = append(arr, p[idx:]...)
		}
		return Set(doc, parentPath(path), arr)
	default:
		return fmt.Errorf("%w: cannot add into non-container", ErrInvalidPath)
	}
	return nil
}

func patchMove(doc map[string]interface{}, from, path string) error {
	value, ok := Get(doc, from)
	if !ok {
		return fmt.Errorf("move from: %w: %s", ErrPathNotFound, from)
	}
	if err := Delete(doc, from); err != nil {
		return fmt.Errorf("move remove: %w", err)
	}
	if err := patchAdd(doc, path, value); err != nil {
		return fmt.Errorf("move add: %w", err)
	}
	return nil
}

func patchCopy(doc map[string]interface{}, from, path string) error {
	value, ok := Get(doc, from)
	if !ok {
		return fmt.Errorf("copy from: %w: %s", ErrPathNotFound, from)
	}
	return patchAdd(doc, path, normalize(value))
}

func patchTest(doc map[string]interface{}, path string, expected interface{}) error {
	actual, ok := Get(doc, path)
	if !ok {
		return fmt.Errorf("test: %w: %s", ErrPathNotFound, path)
	}
	if !Equal(actual, expected) {
		actualJSON, _ := json.Marshal(actual)
		expectedJSON, _ := json.Marshal(expected)
		return fmt.Errorf("test failed: expected %s but got %s at %s", expectedJSON, actualJSON, path)
	}
	return nil
}

func parseIndex(s string, limit int) (int, error) {
	var idx int
	if _, err := fmt.Sscanf(s, "%d", &idx); err != nil {
		return 0, fmt.Errorf("%w: invalid array index %q", ErrInvalidPath, s)
	}
	if idx < 0 || idx >= limit {
		return 0, fmt.Errorf("%w: array index out of bounds: %d", ErrPathNotFound, idx)
	}
	return idx, nil
}
