// Package locationtree models the site's location hierarchy and the
// check/uncheck rules of the match-criteria location picker.
package locationtree

import "fmt"

// Node is one location. Value is the location id.
type Node struct {
	Value    string `json:"value"`
	Title    string `json:"title"`
	Children []Node `json:"children,omitempty"`
}

// FromSiteSettings reads settings["locationData"]["locationID"], a list of
// {id, name, locationID: [...children]} objects.
func FromSiteSettings(settings map[string]interface{}) []Node {
	data, ok := settings["locationData"].(map[string]interface{})
	if !ok {
		return nil
	}
	items, _ := data["locationID"].([]interface{})
	return FromLocations(items)
}

// FromLocations converts raw location objects. Entries without an id are
// skipped along with their subtrees.
func FromLocations(items []interface{}) []Node {
	out := make([]Node, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		id := str(m["id"])
		if id == "" {
			continue
		}
		title := str(m["name"])
		if title == "" {
			title = id
		}
		n := Node{Value: id, Title: title}
		if kids, ok := m["locationID"].([]interface{}); ok && len(kids) > 0 {
			n.Children = FromLocations(kids)
		}
		out = append(out, n)
	}
	return out
}

func str(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Find returns the node with value, searching depth first.
func Find(nodes []Node, value string) *Node {
	for i := range nodes {
		if nodes[i].Value == value {
			return &nodes[i]
		}
		if found := Find(nodes[i].Children, value); found != nil {
			return found
		}
	}
	return nil
}

// Descendants lists every value below n in depth-first pre-order.
func Descendants(n *Node) []string {
	if n == nil {
		return nil
	}
	var out []string
	var walk func(children []Node)
	walk = func(children []Node) {
		for _, c := range children {
			out = append(out, c.Value)
			walk(c.Children)
		}
	}
	walk(n.Children)
	return out
}

// Walk visits every node depth first with its depth (roots are 0).
func Walk(nodes []Node, fn func(n Node, depth int)) {
	var walk func(ns []Node, depth int)
	walk = func(ns []Node, depth int) {
		for _, n := range ns {
			fn(n, depth)
			walk(n.Children, depth+1)
		}
	}
	walk(nodes, 0)
}
