package patch

import (
	"fmt"
)

// Collection describes an array field whose elements are identified by a
// key member. Operations on the bare field name upsert or remove single
// elements rather than overwriting the whole array.
type Collection struct {
	Field   string
	Key     string
	Aliases []string
}

// Encounter collections. Role names used by the people form ("submitter",
// "photographer", "informOther") address the matching plural collection.
var (
	Measurements  = Collection{Field: "measurements", Key: "type"}
	MetalTags     = Collection{Field: "metalTags", Key: "location"}
	Submitters    = Collection{Field: "submitters", Key: "email", Aliases: []string{"submitter"}}
	Photographers = Collection{Field: "photographers", Key: "email", Aliases: []string{"photographer"}}
	InformOthers  = Collection{Field: "informOthers", Key: "email", Aliases: []string{"informOther"}}
)

// EncounterEngine returns an engine configured with the encounter collections.
func EncounterEngine() *Engine {
	return NewEngine(Measurements, MetalTags, Submitters, Photographers, InformOthers)
}

func (c Collection) apply(doc map[string]interface{}, op string, value interface{}) error {
	switch op {
	case OpAdd, OpReplace:
		elem, err := c.element(value)
		if err != nil {
			return err
		}
		doc[c.Field] = c.upsert(doc[c.Field], elem)
		return nil
	case OpRemove:
		if value == nil {
			if _, ok := doc[c.Field]; !ok {
				return fmt.Errorf("%w: %s", ErrPathNotFound, c.Field)
			}
			delete(doc, c.Field)
			return nil
		}
		key, err := c.keyOf(value)
		if err != nil {
			return err
		}
		// Removing by key is idempotent: an absent element is not an error.
		items, ok := doc[c.Field].([]interface{})
		if !ok {
			return nil
		}
		kept := make([]interface{}, 0, len(items))
		for _, it := range items {
			if !c.matches(it, key) {
				kept = append(kept, it)
			}
		}
		doc[c.Field] = kept
		return nil
	default:
		return fmt.Errorf("operation %s is not supported on collection %s", op, c.Field)
	}
}

// element turns a patch value into a collection element. A bare string is
// shorthand for an element carrying only the key member.
func (c Collection) element(value interface{}) (map[string]interface{}, error) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf("%s: empty %s", c.Field, c.Key)
		}
		return map[string]interface{}{c.Key: v}, nil
	case map[string]interface{}:
		if k, _ := v[c.Key].(string); k == "" {
			return nil, fmt.Errorf("%s: element is missing %q", c.Field, c.Key)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%s: unsupported element %T", c.Field, value)
	}
}

func (c Collection) keyOf(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case map[string]interface{}:
		if k, ok := v[c.Key].(string); ok && k != "" {
			return k, nil
		}
	}
	return "", fmt.Errorf("%s: cannot determine %q of %v", c.Field, c.Key, value)
}

func (c Collection) matches(item interface{}, key string) bool {
	m, ok := item.(map[string]interface{})
	if !ok {
		return false
	}
	k, _ := m[c.Key].(string)
	return k == key
}

func (c Collection) upsert(current interface{}, elem map[string]interface{}) []interface{} {
	items, _ := current.([]interface{})
	key, _ := elem[c.Key].(string)
	out := make([]interface{}, 0, len(items)+1)
	replaced := false
	for _, it := range items {
		if !replaced && c.matches(it, key) {
			if m, ok := it.(map[string]interface{}); ok {
				merged := make(map[string]interface{}, len(m)+len(elem))
				for k, v := range m {
					merged[k] = v
				}
				for k, v := range elem {
					merged[k] = v
				}
				out = append(out, merged)
			}
			replaced = true
			continue
		}
		out = append(out, it)
	}
	if !replaced {
		out = append(out, elem)
	}
	return out
}
