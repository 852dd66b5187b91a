// Package wger provides the fitness API adapter backed by a wger server
// (https://wger.de or any self-hosted instance). It implements the
// outbound.FitnessAPI port over wger's /api/v2 REST interface, with a
// bounded LRU response cache for the read endpoints.
package wger

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fitbridge/fitbridge/internal/domain/apperr"
	"github.com/fitbridge/fitbridge/internal/domain/fitness"
	"github.com/fitbridge/fitbridge/internal/port/outbound"
	"github.com/fitbridge/fitbridge/internal/telemetry"
)

const (
	// apiPrefix is the wger REST API root path.
	apiPrefix = "/api/v2"

	// maxResponseBodySize is the maximum response body size read from
	// upstream. Prevents OOM from a misbehaving server sending unbounded
	// responses.
	maxResponseBodySize = 10 * 1024 * 1024 // 10MB

	// englishLanguageID is wger's database id for English translations.
	englishLanguageID = 2
)

// ErrNotFound reports that the requested upstream resource does not exist.
// Use errors.Is to detect it under the apperr wrapping.
var ErrNotFound = errors.New("upstream resource not found")

// Client talks to a wger server. It implements outbound.FitnessAPI.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      *responseCache
	metrics    *telemetry.Metrics
}

// Option is a functional option for configuring Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the request timeout for the HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithAPIKey sets the upstream API token. Read endpoints on public servers
// work without it; account endpoints (workouts, weight) require it.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithCache sizes the GET response cache. Size zero disables caching.
func WithCache(size int, ttl time.Duration) Option {
	return func(c *Client) {
		if size <= 0 {
			c.cache = nil
			return
		}
		c.cache = newResponseCache(size, ttl)
	}
}

// WithMetrics sets the metric instruments used for request accounting.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a client for the given wger base URL, e.g.
// "https://wger.de". The /api/v2 prefix is appended per request.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, err, "invalid upstream base URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apperr.New(apperr.KindConfiguration, "upstream base URL must be http or https, got %q", baseURL)
	}

	c := &Client{
		baseURL: u.Scheme + "://" + u.Host,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cache: newResponseCache(256, 5*time.Minute),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.metrics == nil {
		c.metrics = telemetry.DefaultMetrics()
	}

	return c, nil
}

// SearchExercises returns exercises whose names match the query term.
// Uses wger's autocomplete endpoint; the limit is applied client side since
// the endpoint has no page parameter.
func (c *Client) SearchExercises(ctx context.Context, term string, limit int) ([]fitness.Exercise, error) {
	if term == "" {
		return nil, apperr.New(apperr.KindBadRequest, "search term is required")
	}

	q := url.Values{}
	q.Set("term", term)
	q.Set("language", "english")
	q.Set("format", "json")

	var resp searchResponse
	if err := c.getJSON(ctx, "/exercise/search/", q, "exercise_search", &resp); err != nil {
		return nil, err
	}

	exercises := make([]fitness.Exercise, 0, len(resp.Suggestions))
	for _, s := range resp.Suggestions {
		if limit > 0 && len(exercises) >= limit {
			break
		}
		exercises = append(exercises, fitness.Exercise{
			// base_id addresses the exercise itself; data.id is only the
			// translation row and is useless for follow-up lookups.
			ID:       s.Data.BaseID,
			Name:     s.Value,
			Category: s.Data.Category,
		})
	}
	return exercises, nil
}

// GetExercise returns full details for one exercise by id.
func (c *Client) GetExercise(ctx context.Context, id int) (*fitness.Exercise, error) {
	if id <= 0 {
		return nil, apperr.New(apperr.KindBadRequest, "exercise id must be positive")
	}

	var info exerciseInfoDTO
	err := c.getJSON(ctx, fmt.Sprintf("/exerciseinfo/%d/", id), nil, "exerciseinfo", &info)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.New(apperr.KindUpstream, "exercise %d not found", id)
	}
	if err != nil {
		return nil, err
	}

	ex := info.toDomain()
	return &ex, nil
}

// ListWorkouts returns the account's saved workout routines.
func (c *Client) ListWorkouts(ctx context.Context) ([]fitness.Workout, error) {
	var pg page[workoutDTO]
	if err := c.getJSON(ctx, "/workout/", nil, "workout", &pg); err != nil {
		return nil, err
	}

	workouts := make([]fitness.Workout, 0, len(pg.Results))
	for _, w := range pg.Results {
		workouts = append(workouts, fitness.Workout{
			ID:          w.ID,
			Name:        w.Name,
			Description: w.Description,
			CreatedAt:   w.CreationDate,
		})
	}
	return workouts, nil
}

// LogWeight records a bodyweight measurement and returns the stored entry.
func (c *Client) LogWeight(ctx context.Context, date string, weight float64) (*fitness.WeightEntry, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, apperr.New(apperr.KindBadRequest, "date must be YYYY-MM-DD, got %q", date)
	}
	if weight <= 0 {
		return nil, apperr.New(apperr.KindBadRequest, "weight must be positive, got %g", weight)
	}

	payload := map[string]any{"date": date, "weight": weight}
	var dto weightEntryDTO
	if err := c.postJSON(ctx, "/weightentry/", "weightentry", payload, &dto); err != nil {
		return nil, err
	}

	// Drop cached listings so the new entry shows up immediately.
	if c.cache != nil {
		c.cache.Clear()
	}

	return &fitness.WeightEntry{ID: dto.ID, Date: dto.Date, Weight: float64(dto.Weight)}, nil
}

// ListWeightEntries returns weight measurements matching the filter, newest
// first.
func (c *Client) ListWeightEntries(ctx context.Context, filter fitness.WeightFilter) ([]fitness.WeightEntry, error) {
	q := url.Values{}
	q.Set("ordering", "-date")
	if filter.DateFrom != "" {
		q.Set("date__gte", filter.DateFrom)
	}
	if filter.DateTo != "" {
		q.Set("date__lte", filter.DateTo)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	var pg page[weightEntryDTO]
	if err := c.getJSON(ctx, "/weightentry/", q, "weightentry", &pg); err != nil {
		return nil, err
	}

	entries := make([]fitness.WeightEntry, 0, len(pg.Results))
	for _, e := range pg.Results {
		entries = append(entries, fitness.WeightEntry{ID: e.ID, Date: e.Date, Weight: float64(e.Weight)})
	}
	return entries, nil
}

// ListEquipment returns the equipment catalog.
func (c *Client) ListEquipment(ctx context.Context) ([]fitness.Equipment, error) {
	q := url.Values{}
	q.Set("limit", "100")

	var pg page[equipmentDTO]
	if err := c.getJSON(ctx, "/equipment/", q, "equipment", &pg); err != nil {
		return nil, err
	}

	equipment := make([]fitness.Equipment, 0, len(pg.Results))
	for _, e := range pg.Results {
		equipment = append(equipment, fitness.Equipment{ID: e.ID, Name: e.Name})
	}
	return equipment, nil
}

// getJSON performs a cached GET against the API and decodes the response.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, endpoint string, out any) error {
	fullPath := apiPrefix + path
	encoded := ""
	if query != nil {
		encoded = query.Encode()
	}

	var key uint64
	if c.cache != nil {
		key = cacheKey(fullPath, encoded)
		if body, ok := c.cache.Get(key); ok {
			if err := json.Unmarshal(body, out); err == nil {
				return nil
			}
			// Undecodable cache entry: fall through to a fresh fetch.
		}
	}

	body, status, err := c.do(ctx, http.MethodGet, fullPath, encoded, nil, endpoint)
	if err != nil {
		return err
	}
	if err := mapUpstreamStatus(endpoint, status, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Wrap(apperr.KindUpstream, err, "decode %s response", endpoint)
	}

	if c.cache != nil {
		c.cache.Put(key, body)
	}
	return nil
}

// postJSON performs a POST with a JSON payload and decodes the response.
// Never cached.
func (c *Client) postJSON(ctx context.Context, path, endpoint string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "encode %s request", endpoint)
	}

	body, status, err := c.do(ctx, http.MethodPost, apiPrefix+path, "", raw, endpoint)
	if err != nil {
		return err
	}
	if err := mapUpstreamStatus(endpoint, status, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Wrap(apperr.KindUpstream, err, "decode %s response", endpoint)
	}
	return nil
}

// do executes one HTTP request and returns the bounded response body and
// status code. Transport failures come back as upstream errors; status
// mapping is the caller's job.
func (c *Client) do(ctx context.Context, method, path, query string, body []byte, endpoint string) ([]byte, int, error) {
	u := c.baseURL + path
	if query != "" {
		u += "?" + query
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindInternal, err, "create %s request", endpoint)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Token "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		c.metrics.RecordUpstreamRequest(ctx, endpoint, "error", elapsed)
		return nil, 0, apperr.Wrap(apperr.KindUpstream, err, "fitness api request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	c.metrics.RecordUpstreamRequest(ctx, endpoint, strconv.Itoa(resp.StatusCode), elapsed)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, resp.StatusCode, apperr.Wrap(apperr.KindUpstream, err, "read fitness api response")
	}

	return respBody, resp.StatusCode, nil
}

// mapUpstreamStatus converts a non-2xx status into the matching error.
func mapUpstreamStatus(endpoint string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.New(apperr.KindUpstream, "fitness api rejected credentials for %s (status %d)", endpoint, status)
	case status == http.StatusNotFound:
		return apperr.Wrap(apperr.KindUpstream, ErrNotFound, "fitness api has no resource for %s", endpoint)
	case status == http.StatusTooManyRequests:
		return apperr.New(apperr.KindUpstream, "fitness api rate limited %s", endpoint)
	case status >= 500:
		return apperr.New(apperr.KindUpstream, "fitness api unavailable for %s (status %d)", endpoint, status)
	default:
		return apperr.New(apperr.KindUpstream, "fitness api returned status %d for %s: %s", status, endpoint, truncate(body, 200))
	}
}

// truncate bounds an upstream body for inclusion in an error message.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Compile-time check that Client implements the FitnessAPI port.
var _ outbound.FitnessAPI = (*Client)(nil)
