// Package wildbook is the HTTP client the review stores use to reach the
// encounter API and the image-analysis service.
package wildbook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wildbook/encounterdesk/internal/platform/patch"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 2
	retryBaseDelay    = 200 * time.Millisecond
	maxBodySize       = 16 << 20
	userAgent         = "encounterdesk/1.0"
)

// ErrNotFound is matched by a StatusError for a 404 response.
var ErrNotFound = errors.New("not found")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client talks to a Wildbook-compatible server.
type Client struct {
	baseURL    *url.URL
	http       *http.Client
	logger     zerolog.Logger
	maxRetries int
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRetries sets how often idempotent GETs are retried after a network
// error or 5xx. Writes are never retried.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// New creates a client for baseURL, e.g. "https://wildbook.example".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", baseURL)
	}

	c := &Client{
		baseURL:    u,
		http:       &http.Client{Timeout: defaultTimeout},
		logger:     zerolog.Nop(),
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Encounters
// ---------------------------------------------------------------------------

// GetEncounter fetches the full encounter record.
func (c *Client) GetEncounter(ctx context.Context, id string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/v3/encounters/"+id, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PatchEncounter sends ops as one ordered JSON array. The response body, if
// any, is the updated record; a server that answers with no body yields nil.
func (c *Client) PatchEncounter(ctx context.Context, id string, ops []patch.Operation) (map[string]interface{}, error) {
	if ops == nil {
		ops = []patch.Operation{}
	}
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodPatch, "/api/v3/encounters/"+id, nil, ops, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

// SearchResult is the body of POST /api/v3/search/{index}.
type SearchResult struct {
	Hits  []map[string]interface{} `json:"hits"`
	Total int                      `json:"total"`
}

// Search runs a query-DSL body against index ("individual" or "occurrence").
func (c *Client) Search(ctx context.Context, index string, body interface{}, size, from int) (*SearchResult, error) {
	q := url.Values{}
	q.Set("size", strconv.Itoa(size))
	q.Set("from", strconv.Itoa(from))

	var out SearchResult
	if err := c.do(ctx, http.MethodPost, "/api/v3/search/"+index, q, body, &out); err != nil {
		return nil, err
	}
	if out.Hits == nil {
		out.Hits = []map[string]interface{}{}
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Image analysis
// ---------------------------------------------------------------------------

// TaskParameters narrows which annotations a match runs against and which
// algorithms it uses.
type TaskParameters struct {
	MatchingSetFilter  map[string]interface{}   `json:"matchingSetFilter"`
	MatchingAlgorithms []map[string]interface{} `json:"matchingAlgorithms"`
}

// IATaskRequest is the body of POST /ia.
type IATaskRequest struct {
	V2             bool           `json:"v2"`
	TaskParameters TaskParameters `json:"taskParameters"`
	AnnotationIDs  []string       `json:"annotationIds"`
	Fastlane       bool           `json:"fastlane"`
}

// IATaskResponse is the answer to POST /ia.
type IATaskResponse struct {
	TaskID string `json:"taskId"`
}

// StartIATask submits a match job.
func (c *Client) StartIATask(ctx context.Context, req IATaskRequest) (*IATaskResponse, error) {
	var out IATaskResponse
	if err := c.do(ctx, http.MethodPost, "/ia", nil, req, &out); err != nil {
		return nil, err
	}
	if out.TaskID == "" {
		return nil, fmt.Errorf("POST /ia: response has no taskId")
	}
	return &out, nil
}

// ResultsURL is the page that shows the results of a match task.
func (c *Client) ResultsURL(taskID string) string {
	return c.baseURL.String() + IAResultsPath(taskID)
}

// IAResultsPath is the server-relative results page for taskID.
func IAResultsPath(taskID string) string {
	return "/iaResults.jsp?taskId=" + url.QueryEscape(taskID)
}

// ---------------------------------------------------------------------------
// Site settings
// ---------------------------------------------------------------------------

// GetSiteSettings fetches the site configuration (taxonomies, measurement
// types, location hierarchy, IA configuration).
func (c *Client) GetSiteSettings(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/v3/site-settings", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s body: %w", method, path, err)
		}
		payload = data
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	attempts := 1
	if method == http.MethodGet {
		attempts += c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			c.logger.Debug().Str("method", method).Str("path", path).Int("attempt", attempt+1).Msg("retrying request")
		}

		retry, err := c.roundTrip(ctx, method, u.String(), path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

func (c *Client) roundTrip(ctx context.Context, method, rawURL, path string, payload []byte, out interface{}) (retry bool, err error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return false, fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return true, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return true, fmt.Errorf("read %s %s response: %w", method, path, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("wildbook request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode >= 500, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return false, nil
}
