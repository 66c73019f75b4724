package patch

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// DeepCopy returns an independent copy of a JSON document.
func DeepCopy(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var result map[string]interface{}
	_ = json.Unmarshal(data, &result)
	return result
}

// normalize round-trips v through JSON so typed Go values (structs, typed
// slices, ints) land in the document as the generic shapes encoding/json
// produces when decoding.
func normalize(v interface{}) interface{} {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// Normalize is the exported form of normalize for callers that compare or
// store values outside an Apply call.
func Normalize(v interface{}) interface{} {
	return normalize(v)
}

// Equal compares two values by their JSON encoding, so 3 and 3.0 or a
// []string and the equivalent []interface{} compare equal.
func Equal(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

// IsEmpty reports whether v counts as "no value": nil, the empty string, or
// an empty array or object.
func IsEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
