// Package notification delivers user-facing outcome messages ("toasts") for
// save, refresh and match actions. Sinks are fire-and-forget: a sink never
// reports failure back to the caller.
package notification

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Notification Types
// ---------------------------------------------------------------------------

// Level is the severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a single delivered message.
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink receives notifications.
type Sink interface {
	Success(msg string)
	Error(msg string)
}

// ---------------------------------------------------------------------------
// Message Catalog
// ---------------------------------------------------------------------------

// Message identifiers used by the review stores.
const (
	MsgSaveSuccess      = "save-success"
	MsgSaveFailed       = "save-failed"
	MsgRefreshFailed    = "refresh-failed"
	MsgPersonAdded      = "person-added"
	MsgPersonFailed     = "person-failed"
	MsgStateChanged     = "state-changed"
	MsgStateFailed      = "state-failed"
	MsgMatchStarted     = "match-started"
	MsgMatchFailed      = "match-failed"
	MsgSettingsFailed   = "settings-failed"
	MsgSearchFailed     = "search-failed"
	MsgMeasurementsSave = "measurements-saved"
	MsgTrackingSave     = "tracking-saved"
)

// Catalog maps message ids to templates with {{key}} placeholders.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]string
}

// NewCatalog creates a catalog with the built-in English messages.
func NewCatalog() *Catalog {
	return &Catalog{templates: map[string]string{
		MsgSaveSuccess:      "Changes saved successfully!",
		MsgSaveFailed:       "Failed to save changes: {{error}}",
		MsgRefreshFailed:    "Failed to load encounter {{id}}: {{error}}",
		MsgPersonAdded:      "{{role}} added successfully!",
		MsgPersonFailed:     "Failed to add {{role}}: {{error}}",
		MsgStateChanged:     "Encounter state changed to {{state}}",
		MsgStateFailed:      "Failed to change encounter state: {{error}}",
		MsgMatchStarted:     "Match started (task {{taskId}})",
		MsgMatchFailed:      "There was an error creating the match. Please try again.",
		MsgSettingsFailed:   "Failed to load site settings: {{error}}",
		MsgSearchFailed:     "Search failed: {{error}}",
		MsgMeasurementsSave: "Measurements saved successfully!",
		MsgTrackingSave:     "Tracking saved successfully!",
	}}
}

// Register adds or replaces a message template.
func (c *Catalog) Register(id, template string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[id] = template
}

// Render performs {{key}} replacement on the template for id. Unknown ids
// render as the id itself; keys absent from data are left as-is.
func (c *Catalog) Render(id string, data map[string]string) string {
	c.mu.RLock()
	tmpl, ok := c.templates[id]
	c.mu.RUnlock()
	if !ok {
		return id
	}
	for k, v := range data {
		tmpl = strings.ReplaceAll(tmpl, "{{"+k+"}}", v)
	}
	return tmpl
}

// ---------------------------------------------------------------------------
// Sinks
// ---------------------------------------------------------------------------

// LogSink writes notifications as zerolog events.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink backed by logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Success(msg string) {
	s.logger.Info().Str("level_ui", string(LevelSuccess)).Msg(msg)
}

func (s *LogSink) Error(msg string) {
	s.logger.Error().Str("level_ui", string(LevelError)).Msg(msg)
}

// Recorder keeps delivered notifications in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Success(msg string) { r.add(LevelSuccess, msg) }
func (r *Recorder) Error(msg string)   { r.add(LevelError, msg) }

func (r *Recorder) add(level Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, Notification{
		ID:        uuid.New().String(),
		Level:     level,
		Message:   msg,
		CreatedAt: time.Now().UTC(),
	})
}

// All returns a copy of every recorded notification in delivery order.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Messages returns the messages recorded at level.
func (r *Recorder) Messages(level Level) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.items {
		if n.Level == level {
			out = append(out, n.Message)
		}
	}
	return out
}

// Reset drops all recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}

// Multi fans a notification out to several sinks.
type Multi []Sink

func (m Multi) Success(msg string) {
	for _, s := range m {
		s.Success(msg)
	}
}

func (m Multi) Error(msg string) {
	for _, s := range m {
		s.Error(msg)
	}
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Success(string) {}
func (Discard) Error(string)   {}
