// Package companion wires the GPS session, the backend feeds, the route
// cache, the trip planner and the analytics loader together. It is the only
// place that knows how they relate: session id, confirmed sample count and
// nearest station are handed down by value whenever they change.
package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/analytics"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/bikeshare"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/config"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/credential"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/feed"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/geo"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/gps"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/logging"
	mmetrics "github.com/Jamieflana/Urban-Computing-Frontend/internal/metrics"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/publisher"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/routecache"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/session"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/trip"
)

// ErrUnknownStation is returned when highlighting a station outside the current top 3.
var ErrUnknownStation = errors.New("companion: station is not one of the current alternates")

// Backend is everything the companion asks of the backend services.
type Backend interface {
	session.Uploader
	feed.StationSource
	feed.FusionSource
	trip.Client
	analytics.Client
}

// Publisher is the optional side channel for samples and status changes.
type Publisher interface {
	PublishSample(s bikeshare.PositionSample) error
	PublishStatus(msg publisher.StatusMessage) error
}

type Companion struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *mmetrics.Collector
	pub     Publisher

	creds     *credential.Store
	session   *session.Manager
	stations  *feed.StationFeed
	fusion    *feed.FusionFeed
	walking   *routecache.Cache
	cycling   *routecache.Cache
	planner   *trip.Planner
	analytics *analytics.Loader

	rootCtx    context.Context
	rootCancel context.CancelFunc

	// refreshMu orders predicate re-evaluation so an older input can never
	// overwrite a newer one.
	refreshMu sync.Mutex

	mu               sync.Mutex
	lastPos          *geo.Point
	routeOrigin      *geo.Point // walking origin pinned for routeTarget
	routeTarget      string
	highlight        string
	liveSession      string
	analyticsActive  bool
	analyticsSession string
	lastStatus       map[string]string
}

type Option func(*Companion)

func WithLogger(l *slog.Logger) Option { return func(c *Companion) { c.logger = l } }

func WithMetrics(m *mmetrics.Collector) Option { return func(c *Companion) { c.metrics = m } }

func WithPublisher(p Publisher) Option { return func(c *Companion) { c.pub = p } }

func New(cfg config.Config, be Backend, src gps.Source, router routecache.Router, opts ...Option) *Companion {
	c := &Companion{
		cfg:        cfg,
		logger:     slog.Default(),
		lastStatus: make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	c.rootCtx, c.rootCancel = context.Background(), func() {}
	c.creds = credential.NewStore(cfg.IDToken)

	sessOpts := []session.Option{
		session.WithLogger(c.logger),
		session.WithMetrics(c.metrics),
		session.WithUploadTimeout(cfg.HTTPTimeout),
		session.OnChange(c.onSession),
	}
	if c.pub != nil {
		sessOpts = append(sessOpts, session.WithPublisher(c.pub))
	}
	c.session = session.NewManager(src, be, c.creds, cfg.SampleInterval, sessOpts...)

	c.stations = feed.NewStationFeed(be, cfg.StationPollInterval,
		feed.WithStationLogger(c.logger),
		feed.WithStationMetrics(c.metrics),
		feed.WithStationPollTimeout(cfg.HTTPTimeout),
		feed.OnStations(c.onStations))

	c.fusion = feed.NewFusionFeed(be, c.creds, cfg.FusionPollInterval,
		feed.WithFusionLogger(c.logger),
		feed.WithFusionMetrics(c.metrics),
		feed.WithFusionPollTimeout(cfg.HTTPTimeout),
		feed.OnFusion(c.onFusion),
		feed.OnFusionError(c.onFusionError))

	limiter := routecache.NewLimiter(cfg.RouteThrottle)
	c.walking = routecache.New(router, routecache.ProfileWalking, cfg.RouteThrottle,
		routecache.WithLimiter(limiter), routecache.WithLogger(c.logger), routecache.WithMetrics(c.metrics))
	c.cycling = routecache.New(router, routecache.ProfileCycling, cfg.RouteThrottle,
		routecache.WithLimiter(limiter), routecache.WithLogger(c.logger), routecache.WithMetrics(c.metrics))

	c.planner = trip.NewPlanner(be, c.creds,
		trip.WithLogger(c.logger),
		trip.WithMetrics(c.metrics),
		trip.OnPlan(c.onPlan))

	c.analytics = analytics.NewLoader(be, c.creds,
		analytics.WithLogger(c.logger),
		analytics.WithMetrics(c.metrics),
		analytics.WithFetchTimeout(cfg.HTTPTimeout))
	return c
}

// Start launches the station feed and, when configured, a GPS session.
func (c *Companion) Start(ctx context.Context) error {
	c.rootCtx, c.rootCancel = context.WithCancel(ctx)
	c.stations.Start(c.rootCtx)
	if c.cfg.AutoStart {
		if _, err := c.StartSession(); err != nil {
			return fmt.Errorf("companion: auto start: %w", err)
		}
	}
	return nil
}

// Shutdown stops every loop and waits for them.
func (c *Companion) Shutdown() {
	c.session.Close()
	c.fusion.Shutdown()
	c.stations.Stop()
	c.analytics.Close()
	c.rootCancel()
	logging.LogOperation(c.logger, "companion_stopped")
}

// StartSession begins a new GPS session. A new session drops the current trip
// plan and the highlighted station.
func (c *Companion) StartSession() (bikeshare.Session, error) {
	s, err := c.session.Start(c.rootCtx)
	if err != nil {
		return s, err
	}
	c.planner.Reset()
	c.mu.Lock()
	c.highlight = ""
	c.routeOrigin, c.routeTarget = nil, ""
	c.mu.Unlock()
	return s, nil
}

func (c *Companion) StopSession() (bikeshare.Session, error) {
	return c.session.Stop()
}

// SetCredential replaces the bearer token and re-evaluates every predicate
// that depends on it.
func (c *Companion) SetCredential(token string) {
	c.creds.Set(token)
	c.refreshFusion()
	c.refreshAnalytics()
}

func (c *Companion) onSession(snap session.Snapshot) {
	c.mu.Lock()
	if snap.Last != nil {
		p := geo.Point{Lat: snap.Last.Latitude, Lon: snap.Last.Longitude}
		c.lastPos = &p
	}
	liveChanged := c.liveSession != snap.Session.ID
	c.liveSession = snap.Session.ID
	c.mu.Unlock()

	c.refreshFusion()
	if liveChanged {
		c.refreshAnalytics()
	}
	c.publishStatus("gps_session", snap.Session.ID, snap.Status)
}

// refreshFusion feeds the fusion predicate the current session id and the
// number of samples the backend has confirmed.
func (c *Companion) refreshFusion() {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	snap := c.session.Snapshot()
	in := feed.FusionInputs{}
	if snap.Active() {
		in = feed.FusionInputs{SessionID: snap.Session.ID, SampleCount: snap.Session.UploadCount}
	}
	c.fusion.Update(c.rootCtx, in)
}

func (c *Companion) onStations(snap bikeshare.StationSnapshot) {
	c.planner.SetStations(snap.Stations)
}

func (c *Companion) onFusion(res bikeshare.FusionResult) {
	c.planner.SetNearest(res.Nearest.Name)
	c.publishStatus("fusion", res.SessionID,
		fmt.Sprintf("Nearest station: %s (%.0f m, %s)", res.Nearest.Name, res.DistanceM, res.Nearest.TemporalContext))
}

func (c *Companion) onFusionError(sessionID string, err error) {
	c.publishStatus("fusion", sessionID, "Error fetching prediction: "+err.Error())
}

func (c *Companion) onPlan(p bikeshare.TripPlan) {
	c.publishStatus("trip_planner", "",
		fmt.Sprintf("Trip planned: %s -> %s", p.Pickup.Name, p.Destination.Name))
}

// publishStatus mirrors a status text to the side channel when it changed.
func (c *Companion) publishStatus(component, sessionID, text string) {
	if c.pub == nil || text == "" {
		return
	}
	c.mu.Lock()
	if c.lastStatus[component] == text {
		c.mu.Unlock()
		return
	}
	c.lastStatus[component] = text
	c.mu.Unlock()

	msg := publisher.StatusMessage{Component: component, SessionID: sessionID, Text: text, Timestamp: time.Now()}
	if err := c.pub.PublishStatus(msg); err != nil {
		c.logger.Debug("status publish failed", slog.String("component", component), slog.String("error", err.Error()))
	}
}
