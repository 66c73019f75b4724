// Package typeahead implements debounced search-as-you-type with
// latest-request-wins result handling.
//
// Every dispatched search takes a ticket from a monotonically increasing
// counter. A result is applied only if its ticket is still the newest one
// issued, so a slow early request can never overwrite the answer to a later
// one, whatever order the responses arrive in. Superseded requests are not
// aborted; their results are dropped on arrival.
package typeahead

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// LoadFunc fetches remote options for query.
type LoadFunc func(ctx context.Context, query string) ([]Option, error)

// Timer is a pending debounce callback.
type Timer interface {
	Stop() bool
}

// Scheduler creates debounce timers. Tests substitute a manual scheduler.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler uses time.AfterFunc.
var RealScheduler Scheduler = realScheduler{}

// Config configures a Controller. Zero values: MinChars 0 searches on any
// non-empty query, Debounce 0 dispatches on the next scheduler tick.
type Config struct {
	MinChars    int
	Debounce    time.Duration
	LoadOptions LoadFunc

	// Options is the static list shown before and alongside remote results.
	Options []Option

	OnSearchError func(err error)
	OnChange      func(value string)

	Scheduler Scheduler
	Logger    *zerolog.Logger
}

// State is a snapshot handed to subscribers.
type State struct {
	Query   string
	Loading bool
	Options []Option
}

// Controller owns one search input.
type Controller struct {
	cfg    Config
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	query    string
	static   []Option
	async    []Option
	merged   []Option
	loading  bool
	latest   uint64
	timer    Timer
	timerGen uint64
	selected string
	subs     map[int]func(State)
	nextSub  int
}

// New creates a controller. LoadOptions may be nil, in which case the
// controller only filters its static options.
func New(cfg Config) *Controller {
	if cfg.Scheduler == nil {
		cfg.Scheduler = RealScheduler
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	static := append([]Option(nil), cfg.Options...)
	return &Controller{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		static: static,
		merged: MergeOptions(static, nil),
		subs:   make(map[int]func(State)),
	}
}

// SetQuery records the input text and restarts the debounce timer.
func (c *Controller) SetQuery(text string) {
	c.mu.Lock()
	c.query = text
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerGen++
	gen := c.timerGen
	c.timer = c.cfg.Scheduler.AfterFunc(c.cfg.Debounce, func() { c.fire(gen) })
	st := c.snapshot()
	c.mu.Unlock()

	c.publish(st)
}

// Flush dispatches the pending debounced search now. It does nothing when
// no search is pending.
func (c *Controller) Flush() {
	c.mu.Lock()
	if c.timer == nil {
		c.mu.Unlock()
		return
	}
	c.timer.Stop()
	gen := c.timerGen
	c.mu.Unlock()

	c.fire(gen)
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.timerGen || c.timer == nil || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	query := c.query

	if !c.searchable(query) {
		// Outstanding requests can no longer win.
		c.latest++
		c.loading = false
		c.async = nil
		c.merged = MergeOptions(c.static, nil)
		st := c.snapshot()
		c.mu.Unlock()
		c.publish(st)
		return
	}

	c.latest++
	ticket := c.latest
	c.loading = true
	c.wg.Add(1)
	st := c.snapshot()
	c.mu.Unlock()

	c.publish(st)
	go c.load(ticket, query)
}

func (c *Controller) searchable(query string) bool {
	if c.cfg.LoadOptions == nil {
		return false
	}
	n := utf8.RuneCountInString(query)
	if n == 0 {
		return false
	}
	return n >= c.cfg.MinChars
}

func (c *Controller) load(ticket uint64, query string) {
	defer c.wg.Done()

	opts, err := c.cfg.LoadOptions(c.ctx, query)

	c.mu.Lock()
	if ticket != c.latest {
		c.mu.Unlock()
		c.logger.Debug().Uint64("ticket", ticket).Str("query", query).Err(err).Msg("discarding stale search result")
		return
	}
	c.loading = false
	if err == nil {
		c.async = opts
		c.merged = MergeOptions(c.static, opts)
	}
	st := c.snapshot()
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn().Err(err).Str("query", query).Msg("search failed")
		if c.cfg.OnSearchError != nil {
			c.cfg.OnSearchError(err)
		}
	}
	c.publish(st)
}

// Wait blocks until every dispatched search has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close stops the debounce timer and cancels in-flight searches. Results
// that arrive afterwards are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerGen++
	c.latest++
	c.loading = false
	c.mu.Unlock()
	c.cancel()
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func (c *Controller) Query() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Options returns the merged static and remote options.
func (c *Controller) Options() []Option {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Option(nil), c.merged...)
}

// Visible returns Options filtered against the current query.
func (c *Controller) Visible() []Option {
	c.mu.Lock()
	merged, query := c.merged, strings.TrimSpace(c.query)
	c.mu.Unlock()
	return Filter(merged, query)
}

// Selected resolves value to its option. A value that is not among the
// options is shown as {value, value}; the empty value selects nothing.
func (c *Controller) Selected(value string) (Option, bool) {
	if value == "" {
		return Option{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.merged {
		if o.Value == value {
			return o, true
		}
	}
	return Option{Value: value, Label: value}, true
}

// Value is the last value emitted through Select, Create or Clear.
func (c *Controller) Value() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// SetOptions replaces the static options.
func (c *Controller) SetOptions(opts []Option) {
	c.mu.Lock()
	c.static = append([]Option(nil), opts...)
	c.merged = MergeOptions(c.static, c.async)
	st := c.snapshot()
	c.mu.Unlock()
	c.publish(st)
}

// Select emits the value of an existing option.
func (c *Controller) Select(value string) {
	c.emit(value)
}

// Create adds {text, text} in front of the options and emits text.
func (c *Controller) Create(text string) Option {
	o := Option{Value: text, Label: text}
	c.mu.Lock()
	c.static = MergeOptions([]Option{o}, c.static)
	c.merged = MergeOptions(c.static, c.async)
	st := c.snapshot()
	c.mu.Unlock()

	c.publish(st)
	c.emit(text)
	return o
}

// Clear emits the empty value.
func (c *Controller) Clear() {
	c.emit("")
}

func (c *Controller) emit(value string) {
	c.mu.Lock()
	c.selected = value
	c.mu.Unlock()
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(value)
	}
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// Subscribe registers fn for state changes and returns a cancel function.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Controller) snapshot() State {
	return State{
		Query:   c.query,
		Loading: c.loading,
		Options: append([]Option(nil), c.merged...),
	}
}

func (c *Controller) publish(st State) {
	c.mu.Lock()
	fns := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
