// Package trip implements the plan-a-trip workflow from the nearest station
// to a destination station with free docks.
package trip

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/backend"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/bikeshare"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/credential"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/logging"
	mmetrics "github.com/Jamieflana/Urban-Computing-Frontend/internal/metrics"
)

var (
	ErrNoNearestStation   = errors.New("trip: no nearest station yet")
	ErrNotOpen            = errors.New("trip: planner is not open")
	ErrBusy               = errors.New("trip: a plan request is already in flight")
	ErrUnknownDestination = errors.New("trip: destination is not a station with free docks")
	ErrSuperseded         = errors.New("trip: result discarded after session restart")
)

// FailedMessage is shown when the request fails without a backend explanation.
const FailedMessage = "Failed to plan trip"

type Phase int

const (
	Closed Phase = iota
	Browsing
	Submitting
)

func (p Phase) String() string {
	switch p {
	case Browsing:
		return "browsing"
	case Submitting:
		return "submitting"
	default:
		return "closed"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

type Client interface {
	PlanTrip(ctx context.Context, token, pickup, destination string) (bikeshare.TripPlan, error)
}

// View is a copy of the planner state for display.
type View struct {
	Phase   Phase               `json:"phase"`
	Busy    bool                `json:"busy"`
	CanOpen bool                `json:"can_open"`
	Pickup  string              `json:"pickup,omitempty"`
	Query   string              `json:"query"`
	Error   string              `json:"error,omitempty"`
	Plan    *bikeshare.TripPlan `json:"plan,omitempty"`
}

type Planner struct {
	client  Client
	creds   credential.Provider
	metrics *mmetrics.Collector
	logger  *slog.Logger
	onPlan  func(bikeshare.TripPlan)

	mu       sync.Mutex
	phase    Phase
	stations []bikeshare.Station
	nearest  string
	query    string
	errMsg   string
	plan     *bikeshare.TripPlan
	gen      uint64
	inFlight bool // survives Close; cleared when the request for gen returns or on Reset
}

type Option func(*Planner)

func WithMetrics(m *mmetrics.Collector) Option { return func(p *Planner) { p.metrics = m } }

func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) { p.logger = logging.Component(l, "trip_planner") }
}

// OnPlan is called after a plan has been accepted.
func OnPlan(fn func(bikeshare.TripPlan)) Option { return func(p *Planner) { p.onPlan = fn } }

func NewPlanner(client Client, creds credential.Provider, opts ...Option) *Planner {
	p := &Planner{client: client, creds: creds, logger: logging.Component(nil, "trip_planner")}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetStations replaces the station list candidates are drawn from.
func (p *Planner) SetStations(stations []bikeshare.Station) {
	p.mu.Lock()
	p.stations = stations
	p.mu.Unlock()
}

// SetNearest records the pickup station name; "" means none is known.
func (p *Planner) SetNearest(name string) {
	p.mu.Lock()
	p.nearest = name
	p.mu.Unlock()
}

func (p *Planner) CanOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nearest != ""
}

func (p *Planner) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.nearest == "":
		return ErrNoNearestStation
	case p.inFlight:
		return ErrBusy
	case p.phase == Browsing:
		return nil
	}
	p.phase = Browsing
	p.query = ""
	p.errMsg = ""
	return nil
}

// Close hides the panel. A request still in flight completes normally and
// keeps the planner busy until it does.
func (p *Planner) Close() {
	p.mu.Lock()
	p.phase = Closed
	p.errMsg = ""
	p.mu.Unlock()
}

// Search sets the filter text and returns the matching candidates.
func (p *Planner) Search(q string) []bikeshare.Station {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.query = q
	return candidates(p.stations, q)
}

// Candidates returns stations with at least one free dock whose name
// contains the current filter text, ignoring case.
func (p *Planner) Candidates() []bikeshare.Station {
	p.mu.Lock()
	defer p.mu.Unlock()
	return candidates(p.stations, p.query)
}

func candidates(stations []bikeshare.Station, q string) []bikeshare.Station {
	q = strings.ToLower(strings.TrimSpace(q))
	out := make([]bikeshare.Station, 0, len(stations))
	for _, s := range stations {
		if s.NumDocksAvailable <= 0 {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(s.Name), q) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Submit plans a trip from the nearest station to destination. Only one
// request runs at a time; a second caller gets ErrBusy rather than queueing.
// On failure the panel stays open with an inline message.
func (p *Planner) Submit(ctx context.Context, destination string) (bikeshare.TripPlan, error) {
	p.mu.Lock()
	switch {
	case p.inFlight:
		p.mu.Unlock()
		return bikeshare.TripPlan{}, ErrBusy
	case p.phase != Browsing:
		p.mu.Unlock()
		return bikeshare.TripPlan{}, ErrNotOpen
	case p.nearest == "":
		p.mu.Unlock()
		return bikeshare.TripPlan{}, ErrNoNearestStation
	case !hasDocks(p.stations, destination):
		p.mu.Unlock()
		return bikeshare.TripPlan{}, ErrUnknownDestination
	}
	p.phase = Submitting
	p.inFlight = true
	p.errMsg = ""
	pickup, gen := p.nearest, p.gen
	p.mu.Unlock()

	plan, err := p.client.PlanTrip(ctx, p.creds.Token(), pickup, destination)

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.StaleResponses.WithLabelValues("trip_planner").Inc()
		}
		return bikeshare.TripPlan{}, ErrSuperseded
	}
	p.inFlight = false
	if err != nil {
		if p.phase == Submitting {
			p.phase = Browsing
		}
		p.errMsg = failureMessage(err)
		p.mu.Unlock()
		p.count(err)
		logging.LogError(p.logger, "trip plan failed", err,
			slog.String("pickup", pickup), slog.String("destination", destination))
		return bikeshare.TripPlan{}, err
	}
	p.plan = &plan
	p.phase = Closed
	p.mu.Unlock()

	p.count(nil)
	p.logger.Info("trip planned", slog.String("pickup", plan.Pickup.Name), slog.String("destination", plan.Destination.Name))
	if p.onPlan != nil {
		p.onPlan(plan)
	}
	return plan, nil
}

func (p *Planner) count(err error) {
	if p.metrics == nil {
		return
	}
	result := "ok"
	var rej *backend.RejectedError
	switch {
	case errors.As(err, &rej):
		result = "rejected"
	case err != nil:
		result = "error"
	}
	p.metrics.TripPlans.WithLabelValues(result).Inc()
}

func failureMessage(err error) string {
	var rej *backend.RejectedError
	if errors.As(err, &rej) && rej.Message != "" {
		return rej.Message
	}
	return FailedMessage
}

func hasDocks(stations []bikeshare.Station, name string) bool {
	for _, s := range stations {
		if s.Name == name && s.NumDocksAvailable > 0 {
			return true
		}
	}
	return false
}

// Plan returns the current trip plan, if any.
func (p *Planner) Plan() (bikeshare.TripPlan, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.plan == nil {
		return bikeshare.TripPlan{}, false
	}
	return *p.plan, true
}

// Clear drops the trip plan. Clearing with no plan is a no-op.
func (p *Planner) Clear() {
	p.mu.Lock()
	p.plan = nil
	p.mu.Unlock()
}

// Reset returns the planner to Closed with no plan, and makes any request in
// flight land as ErrSuperseded. Called when a new GPS session starts.
func (p *Planner) Reset() {
	p.mu.Lock()
	p.gen++
	p.inFlight = false
	p.phase = Closed
	p.plan = nil
	p.query = ""
	p.errMsg = ""
	p.mu.Unlock()
}

func (p *Planner) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := View{
		Phase:   p.phase,
		Busy:    p.inFlight,
		CanOpen: p.nearest != "",
		Pickup:  p.nearest,
		Query:   p.query,
		Error:   p.errMsg,
	}
	if p.plan != nil {
		plan := *p.plan
		v.Plan = &plan
	}
	return v
}
