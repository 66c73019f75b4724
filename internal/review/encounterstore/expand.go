package encounterstore

import (
	"strings"

	"github.com/wildbook/encounterdesk/internal/platform/patch"
)

// ExpandOperations is the default Expander. A locationGeoPoint operation
// becomes decimalLatitude and decimalLongitude operations, and a taxonomy
// operation is followed by genus and specificEpithet operations. Other
// operations pass through unchanged.
func ExpandOperations(ops []patch.Operation, base map[string]interface{}) []patch.Operation {
	out := make([]patch.Operation, 0, len(ops))
	for _, op := range ops {
		switch op.Path {
		case fieldGeoPoint:
			var lat, lon interface{}
			if m, ok := op.Value.(map[string]interface{}); ok && op.Op != patch.OpRemove {
				lat, lon = m["lat"], m["lon"]
			}
			out = appendFieldOp(out, base, "decimalLatitude", lat)
			out = appendFieldOp(out, base, "decimalLongitude", lon)
		case "taxonomy":
			out = append(out, op)
			var genus, epithet interface{}
			if name, ok := op.Value.(string); ok && op.Op != patch.OpRemove {
				g, e, _ := strings.Cut(strings.TrimSpace(name), " ")
				genus, epithet = g, strings.TrimSpace(e)
			}
			out = appendFieldOp(out, base, "genus", genus)
			out = appendFieldOp(out, base, "specificEpithet", epithet)
		default:
			out = append(out, op)
		}
	}
	return out
}

// appendFieldOp adds the operation that moves path from its value in base
// to value, if any.
func appendFieldOp(ops []patch.Operation, base map[string]interface{}, path string, value interface{}) []patch.Operation {
	prev, ok := patch.Get(base, path)
	present := ok && !patch.IsEmpty(prev)
	switch {
	case patch.IsEmpty(value):
		if present {
			ops = append(ops, patch.Operation{Op: patch.OpRemove, Path: path})
		}
	case !present:
		ops = append(ops, patch.Operation{Op: patch.OpAdd, Path: path, Value: value})
	case !patch.Equal(prev, value):
		ops = append(ops, patch.Operation{Op: patch.OpReplace, Path: path, Value: value})
	}
	return ops
}
