package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidQuery is returned for query bodies the compiler does not accept.
var ErrInvalidQuery = errors.New("invalid query")

// Clause is a compiled WHERE condition and its positional arguments.
type Clause struct {
	SQL  string
	Args []interface{}
}

// matchAll is the condition of an empty or absent query.
const matchAll = "TRUE"

// Compile translates a query body ({"query": {...}}) into a SQL condition
// over the id column and the JSONB data column. Placeholders are numbered
// from startIdx. Supported clauses: bool (must, filter, should, must_not,
// minimum_should_match), wildcard, term, terms, match, exists and match_all.
func Compile(body map[string]interface{}, startIdx int) (*Clause, error) {
	c := &compiler{next: startIdx}
	q, ok := body["query"]
	if !ok || q == nil {
		return &Clause{SQL: matchAll}, nil
	}
	qm, ok := q.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: query must be an object", ErrInvalidQuery)
	}
	sql, err := c.compile(qm)
	if err != nil {
		return nil, err
	}
	return &Clause{SQL: sql, Args: c.args}, nil
}

type compiler struct {
	next int
	args []interface{}
}

func (c *compiler) bind(v interface{}) string {
	c.args = append(c.args, v)
	p := fmt.Sprintf("$%d", c.next)
	c.next++
	return p
}

func (c *compiler) compile(q map[string]interface{}) (string, error) {
	if len(q) != 1 {
		return "", fmt.Errorf("%w: a query clause must have exactly one key, got %d", ErrInvalidQuery, len(q))
	}
	for kind, raw := range q {
		switch kind {
		case "bool":
			b, ok := raw.(map[string]interface{})
			if !ok {
				return "", fmt.Errorf("%w: bool must be an object", ErrInvalidQuery)
			}
			return c.compileBool(b)
		case "match_all":
			return matchAll, nil
		case "exists":
			m, _ := raw.(map[string]interface{})
			field, _ := m["field"].(string)
			if field == "" {
				return "", fmt.Errorf("%w: exists needs a field", ErrInvalidQuery)
			}
			if field == "id" {
				return matchAll, nil
			}
			return fmt.Sprintf("data #> %s IS NOT NULL", c.bind(fieldPath(field))), nil
		case "wildcard", "term", "terms", "match":
			field, params, err := leaf(kind, raw)
			if err != nil {
				return "", err
			}
			switch kind {
			case "wildcard":
				return c.compileWildcard(field, params)
			case "term":
				return c.compileTerm(field, params["value"])
			case "terms":
				return c.compileTerms(field, params["value"])
			default:
				return c.compileMatch(field, params["query"])
			}
		default:
			return "", fmt.Errorf("%w: unsupported clause %q", ErrInvalidQuery, kind)
		}
	}
	return "", nil
}

// leaf unpacks {"field": value} and {"field": {"value": ..., ...}} forms.
func leaf(kind string, raw interface{}) (string, map[string]interface{}, error) {
	m, ok := raw.(map[string]interface{})
	if !ok || len(m) != 1 {
		return "", nil, fmt.Errorf("%w: %s must name exactly one field", ErrInvalidQuery, kind)
	}
	for field, v := range m {
		key := "value"
		if kind == "match" {
			key = "query"
		}
		if params, ok := v.(map[string]interface{}); ok {
			if _, has := params[key]; !has {
				return "", nil, fmt.Errorf("%w: %s on %s needs %q", ErrInvalidQuery, kind, field, key)
			}
			return field, params, nil
		}
		return field, map[string]interface{}{key: v}, nil
	}
	return "", nil, nil
}

func (c *compiler) compileBool(b map[string]interface{}) (string, error) {
	var and []string
	for _, key := range []string{"must", "filter"} {
		parts, err := c.compileList(b[key])
		if err != nil {
			return "", fmt.Errorf("bool.%s: %w", key, err)
		}
		and = append(and, parts...)
	}

	mark, next := len(c.args), c.next
	should, err := c.compileList(b["should"])
	if err != nil {
		return "", fmt.Errorf("bool.should: %w", err)
	}
	if len(should) > 0 {
		required := 0
		if len(and) == 0 {
			required = 1
		}
		if raw, ok := b["minimum_should_match"]; ok {
			if required, err = minimumShouldMatch(raw); err != nil {
				return "", err
			}
		}
		if required <= 0 || required > len(should) {
			// The should clauses do not reach the SQL; release their arguments.
			c.args, c.next = c.args[:mark], next
		}
		switch {
		case required <= 0:
		case required == 1:
			and = append(and, "("+strings.Join(should, " OR ")+")")
		case required > len(should):
			and = append(and, "FALSE")
		default:
			counts := make([]string, len(should))
			for i, s := range should {
				counts[i] = fmt.Sprintf("(%s)::int", s)
			}
			and = append(and, fmt.Sprintf("(%s) >= %d", strings.Join(counts, " + "), required))
		}
	}

	mustNot, err := c.compileList(b["must_not"])
	if err != nil {
		return "", fmt.Errorf("bool.must_not: %w", err)
	}
	for _, s := range mustNot {
		and = append(and, "NOT ("+s+")")
	}

	if len(and) == 0 {
		return matchAll, nil
	}
	if len(and) == 1 {
		return and[0], nil
	}
	return "(" + strings.Join(and, " AND ") + ")", nil
}

// compileList accepts a single clause object or an array of them.
func (c *compiler) compileList(raw interface{}) ([]string, error) {
	var items []interface{}
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		items = v
	case map[string]interface{}:
		items = []interface{}{v}
	default:
		return nil, fmt.Errorf("%w: expected clause or clause list", ErrInvalidQuery)
	}

	out := make([]string, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: clause must be an object", ErrInvalidQuery)
		}
		s, err := c.compile(m)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func minimumShouldMatch(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%w: minimum_should_match %q", ErrInvalidQuery, v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: minimum_should_match must be a number", ErrInvalidQuery)
}

func (c *compiler) compileWildcard(field string, params map[string]interface{}) (string, error) {
	pattern, ok := params["value"].(string)
	if !ok {
		return "", fmt.Errorf("%w: wildcard on %s needs a string value", ErrInvalidQuery, field)
	}
	op := "LIKE"
	if ci, _ := params["case_insensitive"].(bool); ci {
		op = "ILIKE"
	}
	return c.textMatch(field, op, likePattern(pattern)), nil
}

func (c *compiler) compileTerm(field string, value interface{}) (string, error) {
	if value == nil {
		return "", fmt.Errorf("%w: term on %s needs a value", ErrInvalidQuery, field)
	}
	if field == "id" {
		return "id = " + c.bind(fmt.Sprint(value)), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: term value: %v", ErrInvalidQuery, err)
	}
	p := c.bind(fieldPath(field))
	v := c.bind(string(b))
	return fmt.Sprintf("(data #> %s = %s::jsonb OR data #> %s @> jsonb_build_array(%s::jsonb))", p, v, p, v), nil
}

func (c *compiler) compileTerms(field string, value interface{}) (string, error) {
	values, ok := value.([]interface{})
	if !ok {
		return "", fmt.Errorf("%w: terms on %s needs an array", ErrInvalidQuery, field)
	}
	if len(values) == 0 {
		return "FALSE", nil
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		s, err := c.compileTerm(field, v)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

// compileMatch requires every whitespace-separated token of the query to
// appear in the field, ignoring case.
func (c *compiler) compileMatch(field string, value interface{}) (string, error) {
	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: match on %s needs a string query", ErrInvalidQuery, field)
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return matchAll, nil
	}
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		parts = append(parts, c.textMatch(field, "ILIKE", "%"+escapeLike(tok)+"%"))
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

// textMatch compares the field's text against a LIKE pattern. Array fields
// match when any element does.
func (c *compiler) textMatch(field, op, pattern string) string {
	if field == "id" {
		return fmt.Sprintf("id %s %s", op, c.bind(pattern))
	}
	p := c.bind(fieldPath(field))
	v := c.bind(pattern)
	return fmt.Sprintf(
		"EXISTS (SELECT 1 FROM jsonb_array_elements_text(CASE jsonb_typeof(data #> %s) WHEN 'array' THEN data #> %s ELSE jsonb_build_array(data #> %s) END) AS v(val) WHERE v.val %s %s)",
		p, p, p, op, v)
}

func fieldPath(field string) []string {
	return strings.Split(field, ".")
}

// likePattern turns a wildcard pattern (* and ?) into a LIKE pattern.
func likePattern(wildcard string) string {
	var b strings.Builder
	for _, r := range wildcard {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
