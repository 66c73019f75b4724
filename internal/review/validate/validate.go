// Package validate checks single field edits made in the review stores.
// Errors are advisory: the stores record them per field and keep going.
package validate

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Context carries sibling values a rule may need, such as the other half of
// a coordinate pair.
type Context map[string]interface{}

// FieldError is a failed check for one section field.
type FieldError struct {
	Section string
	Path    string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Section, e.Path, e.Message)
}

// Rule is a validator tag plus the message shown when it fails.
type Rule struct {
	Tag     string
	Message string
}

// Wildcard matches any section or any path when registering a rule.
const Wildcard = "*"

// dateLayouts are the ISO-8601 forms accepted for date fields.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006-01",
	"2006",
}

// Validator maps (section, path) pairs to validator tags.
type Validator struct {
	v     *validator.Validate
	mu    sync.RWMutex
	rules map[string]Rule
}

// New returns a Validator with the encounter field rules registered.
func New() *Validator {
	v := validator.New()
	_ = v.RegisterValidation("isodate", validateISODate)
	_ = v.RegisterValidation("nonnegative", validateNonNegative)
	_ = v.RegisterValidation("number", validateNumber)

	val := &Validator{v: v, rules: make(map[string]Rule)}
	for _, p := range []string{"latitude", "lat", "decimalLatitude"} {
		val.Register(Wildcard, p, "latitude", "latitude must be between -90 and 90")
	}
	for _, p := range []string{"longitude", "lon", "decimalLongitude"} {
		val.Register(Wildcard, p, "longitude", "longitude must be between -180 and 180")
	}
	val.Register(Wildcard, "email", "email", "must be a valid email address")
	val.Register("people", Wildcard, "email", "must be a valid email address")
	val.Register("measurements", Wildcard, "number", "measurement must be a number")
	val.Register(Wildcard, "groupSize", "nonnegative", "group size must be zero or more")
	val.Register(Wildcard, "individualCount", "nonnegative", "count must be zero or more")
	val.Register("date", "date", "isodate", "date must be an ISO-8601 date")
	val.Register(Wildcard, "dateTime", "isodate", "date must be an ISO-8601 date")
	return val
}

// Register sets the rule for section and path. Either may be Wildcard.
func (val *Validator) Register(section, path, tag, message string) {
	val.mu.Lock()
	defer val.mu.Unlock()
	val.rules[section+"\x00"+path] = Rule{Tag: tag, Message: message}
}

func (val *Validator) lookup(section, path string) (Rule, bool) {
	val.mu.RLock()
	defer val.mu.RUnlock()
	for _, key := range []string{
		section + "\x00" + path,
		Wildcard + "\x00" + path,
		section + "\x00" + Wildcard,
	} {
		if r, ok := val.rules[key]; ok {
			return r, true
		}
	}
	return Rule{}, false
}

// ValidateFieldValue returns a *FieldError when value fails the rule for
// (section, path), or nil. Empty values always pass except for coordinates,
// where ctx["lat"] and ctx["lon"] must be both set or both empty.
func (val *Validator) ValidateFieldValue(section, path string, value interface{}, ctx Context) error {
	if err := checkPair(section, path, value, ctx); err != nil {
		return err
	}
	if isEmpty(value) {
		return nil
	}
	rule, ok := val.lookup(section, path)
	if !ok {
		return nil
	}
	if err := val.v.Var(value, rule.Tag); err != nil {
		return &FieldError{Section: section, Path: path, Message: rule.Message}
	}
	return nil
}

func checkPair(section, path string, value interface{}, ctx Context) error {
	if ctx == nil {
		return nil
	}
	lat, hasLat := ctx["lat"]
	lon, hasLon := ctx["lon"]
	if !hasLat && !hasLon {
		return nil
	}
	switch path {
	case "latitude", "lat", "decimalLatitude", "longitude", "lon", "decimalLongitude":
	default:
		return nil
	}
	if isEmpty(lat) != isEmpty(lon) {
		return &FieldError{Section: section, Path: path, Message: "latitude and longitude must be set together"}
	}
	return nil
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case *float64:
		return t == nil
	}
	return false
}

func toFloat(fl validator.FieldLevel) (float64, bool) {
	f := fl.Field()
	switch {
	case f.CanFloat():
		return f.Float(), true
	case f.CanInt():
		return float64(f.Int()), true
	case f.CanUint():
		return float64(f.Uint()), true
	}
	if s, ok := f.Interface().(string); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return n, err == nil
	}
	return 0, false
}

func validateNumber(fl validator.FieldLevel) bool {
	_, ok := toFloat(fl)
	return ok
}

func validateNonNegative(fl validator.FieldLevel) bool {
	n, ok := toFloat(fl)
	return ok && n >= 0
}

func validateISODate(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
