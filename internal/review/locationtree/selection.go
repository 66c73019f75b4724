package locationtree

// Change describes the checkbox event that produced a new value list.
type Change struct {
	Trigger string
	Checked bool
}

// Normalize drops empty values and duplicates, keeping first occurrences.
func Normalize(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// ApplyStrictChange computes the selection after a checkbox event in a
// tree whose parent and child checkboxes are independent.
//
// Checking a node adds it and all of its descendants to current; unchecking
// removes it and all of its descendants. Without a trigger, values is taken
// as an already expanded selection and only normalized.
func ApplyStrictChange(tree []Node, current, values []string, change *Change) []string {
	if change == nil || change.Trigger == "" {
		return Normalize(values)
	}

	affected := append([]string{change.Trigger}, Descendants(Find(tree, change.Trigger))...)

	if change.Checked {
		return Normalize(append(append([]string(nil), current...), affected...))
	}

	drop := make(map[string]struct{}, len(affected))
	for _, v := range affected {
		drop[v] = struct{}{}
	}
	out := make([]string, 0, len(current))
	for _, v := range Normalize(current) {
		if _, gone := drop[v]; !gone {
			out = append(out, v)
		}
	}
	return out
}
