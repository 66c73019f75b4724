package typeahead

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Option is one selectable entry.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// OptionsFrom converts loosely typed items into options. Strings and numbers
// become {v, v}; maps use their "value" and "label" members. Values are
// stringified, a missing label falls back to the value, and items with no
// usable value are dropped.
func OptionsFrom(items []interface{}) []Option {
	out := make([]Option, 0, len(items))
	for _, it := range items {
		if o, ok := optionFrom(it); ok {
			out = append(out, o)
		}
	}
	return out
}

func optionFrom(item interface{}) (Option, bool) {
	switch v := item.(type) {
	case nil:
		return Option{}, false
	case Option:
		if v.Label == "" {
			v.Label = v.Value
		}
		return v, v.Value != ""
	case *Option:
		if v == nil {
			return Option{}, false
		}
		return optionFrom(*v)
	case map[string]interface{}:
		value := stringify(v["value"])
		if value == "" {
			return Option{}, false
		}
		label := stringify(v["label"])
		if label == "" {
			label = value
		}
		return Option{Value: value, Label: label}, true
	default:
		s := stringify(v)
		return Option{Value: s, Label: s}, s != ""
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// StringOptions builds {s, s} options from plain strings.
func StringOptions(values ...string) []Option {
	out := make([]Option, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, Option{Value: v, Label: v})
		}
	}
	return out
}

// MergeOptions returns static followed by async with duplicate values
// removed; the first occurrence of a value wins.
func MergeOptions(static, async []Option) []Option {
	seen := make(map[string]struct{}, len(static)+len(async))
	out := make([]Option, 0, len(static)+len(async))
	for _, list := range [][]Option{static, async} {
		for _, o := range list {
			if _, dup := seen[o.Value]; dup {
				continue
			}
			seen[o.Value] = struct{}{}
			out = append(out, o)
		}
	}
	return out
}

// Filter keeps the options whose label fuzzily matches query, closest
// matches first. An empty query keeps everything in order.
func Filter(options []Option, query string) []Option {
	if query == "" {
		return append([]Option(nil), options...)
	}
	labels := make([]string, len(options))
	for i, o := range options {
		labels[i] = o.Label
	}
	ranks := fuzzy.RankFindFold(query, labels)
	sort.SliceStable(ranks, func(i, j int) bool {
		if ranks[i].Distance != ranks[j].Distance {
			return ranks[i].Distance < ranks[j].Distance
		}
		return ranks[i].OriginalIndex < ranks[j].OriginalIndex
	})
	out := make([]Option, len(ranks))
	for i, r := range ranks {
		out[i] = options[r.OriginalIndex]
	}
	return out
}
