// Package backend talks to the station, fusion, trip and analytics services.
// Every endpoint answers with a {status: "ok"} envelope; anything else is a
// soft failure reported as ErrNotOK (or a RejectedError when the backend
// explains itself) rather than a crash.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/bikeshare"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/logging"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/metrics"
)

const (
	statusOK = "ok"

	// maxBodyBytes bounds how much of a response body is read.
	maxBodyBytes = 8 << 20

	httpMaxIdleConns    = 10
	httpIdleConnTimeout = 30 * time.Second
)

// ErrNotOK is returned when a response lacks status "ok".
var ErrNotOK = errors.New("backend: response status not ok")

// RejectedError is a logical failure the backend explained with a message.
type RejectedError struct {
	Status  string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("backend: rejected (%s): %s", e.Status, e.Message)
}

func (e *RejectedError) Unwrap() error { return ErrNotOK }

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend: http status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Collector
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.Component(l, "backend_client") }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        httpMaxIdleConns,
		MaxIdleConnsPerHost: httpMaxIdleConns,
		IdleConnTimeout:     httpIdleConnTimeout,
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		logger:     logging.Component(nil, "backend_client"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (e envelope) check() error {
	if e.Status == statusOK {
		return nil
	}
	if e.Message != "" {
		return &RejectedError{Status: e.Status, Message: e.Message}
	}
	return fmt.Errorf("%w: %q", ErrNotOK, e.Status)
}

// do sends one request and decodes a JSON body into out. endpoint is the
// low-cardinality label used for metrics.
func (c *Client) do(ctx context.Context, endpoint, method, path, token string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: %s: marshal request: %w", endpoint, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("backend: %s: create request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.BackendDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("backend: %s: http: %w", endpoint, err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, c.logger, "http_response_body")

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("backend: %s: read response: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env envelope
		if json.Unmarshal(b, &env) == nil && env.Message != "" {
			return &RejectedError{Status: env.Status, Message: env.Message}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(b), 200)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("backend: %s: decode response: %w", endpoint, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// SaveSample uploads one position sample. The body of a successful response
// is not interpreted beyond an explicit non-ok status.
func (c *Client) SaveSample(ctx context.Context, token string, s bikeshare.PositionSample) error {
	var env envelope
	if err := c.do(ctx, "save_session", http.MethodPost, "/save_session", token, s, &env); err != nil {
		return err
	}
	if env.Status != "" && env.Status != statusOK {
		return env.check()
	}
	return nil
}

type stationsResponse struct {
	envelope
	Count    int                 `json:"count"`
	Stations []bikeshare.Station `json:"stations"`
}

// Stations fetches the full station inventory. No credential is needed.
func (c *Client) Stations(ctx context.Context) (bikeshare.StationSnapshot, error) {
	var r stationsResponse
	if err := c.do(ctx, "stations", http.MethodGet, "/bike_router/all", "", nil, &r); err != nil {
		return bikeshare.StationSnapshot{}, err
	}
	if err := r.check(); err != nil {
		return bikeshare.StationSnapshot{}, err
	}
	stations := r.Stations
	if stations == nil {
		stations = []bikeshare.Station{}
	}
	return bikeshare.StationSnapshot{Count: r.Count, Stations: stations, FetchedAt: time.Now()}, nil
}

type fusionResponse struct {
	envelope
	NearestStation  *bikeshare.Station        `json:"nearest_station"`
	DistanceM       float64                   `json:"distance_to_station_m"`
	ETASeconds      float64                   `json:"eta_seconds"`
	Top3            []bikeshare.TopStation    `json:"top3"`
	TemporalContext bikeshare.TemporalContext `json:"temporal_context"`
}

// FusionPrediction fetches the fused nearest-station prediction for a session.
func (c *Client) FusionPrediction(ctx context.Context, token, sessionID string) (bikeshare.FusionResult, error) {
	var r fusionResponse
	path := "/fusion/get_fusion/prediction/" + url.PathEscape(sessionID)
	if err := c.do(ctx, "fusion_prediction", http.MethodGet, path, token, nil, &r); err != nil {
		return bikeshare.FusionResult{}, err
	}
	if err := r.check(); err != nil {
		return bikeshare.FusionResult{}, err
	}
	if r.NearestStation == nil {
		return bikeshare.FusionResult{}, fmt.Errorf("%w: missing nearest_station", ErrNotOK)
	}
	top3 := r.Top3
	if len(top3) > 3 {
		top3 = top3[:3]
	}
	if top3 == nil {
		top3 = []bikeshare.TopStation{}
	}
	return bikeshare.FusionResult{
		SessionID: sessionID,
		Nearest: bikeshare.NearestStation{
			Station:         *r.NearestStation,
			TemporalContext: r.TemporalContext,
		},
		DistanceM: r.DistanceM,
		ETASec:    r.ETASeconds,
		Top3:      top3,
		FetchedAt: time.Now(),
	}, nil
}

type planTripRequest struct {
	PickupStationName      string `json:"pickup_station_name"`
	DestinationStationName string `json:"destination_station_name"`
}

type planTripResponse struct {
	envelope
	Pickup      bikeshare.StationRef `json:"pickup_station"`
	Destination bikeshare.StationRef `json:"destination_station"`
	DistanceM   float64              `json:"distance_m"`
	ETASec      float64              `json:"eta_sec"`
}

// PlanTrip asks the backend for a trip between two stations by name. A
// logical failure comes back as a *RejectedError carrying the backend message.
func (c *Client) PlanTrip(ctx context.Context, token, pickup, destination string) (bikeshare.TripPlan, error) {
	var r planTripResponse
	req := planTripRequest{PickupStationName: pickup, DestinationStationName: destination}
	if err := c.do(ctx, "plan_trip", http.MethodPost, "/fusion/plan_trip", token, req, &r); err != nil {
		return bikeshare.TripPlan{}, err
	}
	if err := r.check(); err != nil {
		return bikeshare.TripPlan{}, err
	}
	if r.Pickup.Name == "" {
		r.Pickup.Name = pickup
	}
	if r.Destination.Name == "" {
		r.Destination.Name = destination
	}
	return bikeshare.TripPlan{
		Pickup:      r.Pickup,
		Destination: r.Destination,
		DistanceM:   r.DistanceM,
		ETASec:      r.ETASec,
		PlannedAt:   time.Now(),
	}, nil
}

type sessionsResponse struct {
	envelope
	Sessions []bikeshare.SessionRecord `json:"sessions"`
}

// Sessions lists the user's past sessions.
func (c *Client) Sessions(ctx context.Context, token string) ([]bikeshare.SessionRecord, error) {
	var r sessionsResponse
	if err := c.do(ctx, "analytics_sessions", http.MethodGet, "/analytics/sessions", token, nil, &r); err != nil {
		return nil, err
	}
	if err := r.check(); err != nil {
		return nil, err
	}
	if r.Sessions == nil {
		return []bikeshare.SessionRecord{}, nil
	}
	return r.Sessions, nil
}

// Trends fetches the nearest-station ranking for a session. The payload is a
// flat name->count object; a status member, when present, must be "ok".
func (c *Client) Trends(ctx context.Context, token, sessionID string) (bikeshare.Trends, error) {
	var raw map[string]json.RawMessage
	path := "/analytics/user/" + url.PathEscape(sessionID) + "/trends"
	if err := c.do(ctx, "analytics_trends", http.MethodGet, path, token, nil, &raw); err != nil {
		return nil, err
	}
	if err := optionalStatus(raw); err != nil {
		return nil, err
	}
	if data, ok := raw["trends"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(data, &nested); err == nil {
			raw = nested
		}
	}
	return bikeshare.ParseTrends(raw), nil
}

// Stats fetches the summary statistics of a session.
func (c *Client) Stats(ctx context.Context, token, sessionID string) (*bikeshare.SessionStats, error) {
	var raw map[string]json.RawMessage
	path := "/analytics/user/" + url.PathEscape(sessionID) + "/stats"
	if err := c.do(ctx, "analytics_stats", http.MethodGet, path, token, nil, &raw); err != nil {
		return nil, err
	}
	if err := optionalStatus(raw); err != nil {
		return nil, err
	}
	body, _ := json.Marshal(raw)
	if data, ok := raw["stats"]; ok {
		body = data
	}
	var stats bikeshare.SessionStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("backend: analytics_stats: decode: %w", err)
	}
	return &stats, nil
}

func optionalStatus(raw map[string]json.RawMessage) error {
	data, ok := raw["status"]
	if !ok {
		return nil
	}
	var env envelope
	_ = json.Unmarshal(data, &env.Status)
	if msg, ok := raw["message"]; ok {
		_ = json.Unmarshal(msg, &env.Message)
	}
	return env.check()
}
