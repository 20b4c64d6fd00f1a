// Package routecache memoizes routing-service answers keyed by rounded
// origin/destination pairs, behind a global throttle that degrades to a
// straight line instead of waiting.
package routecache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/geo"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/logging"
	mmetrics "github.com/Jamieflana/Urban-Computing-Frontend/internal/metrics"
)

type Source string

const (
	SourceCache     Source = "cache"
	SourceNetwork   Source = "network"
	SourceThrottled Source = "throttled"
	SourceFallback  Source = "fallback"
)

// Route is the result of Resolve. Waypoints always holds at least the origin
// and destination.
type Route struct {
	Profile   string      `json:"profile"`
	Waypoints []geo.Point `json:"waypoints"`
	Source    Source      `json:"source"`
}

// Degraded reports whether the route is a straight-line stand-in.
func (r Route) Degraded() bool {
	return r.Source == SourceThrottled || r.Source == SourceFallback
}

// Key identifies an origin/destination pair at 6-decimal precision.
type Key struct {
	OriginLat, OriginLon int64
	DestLat, DestLon     int64
}

func KeyFor(origin, destination geo.Point) Key {
	return Key{
		OriginLat: geo.Micro(origin.Lat),
		OriginLon: geo.Micro(origin.Lon),
		DestLat:   geo.Micro(destination.Lat),
		DestLon:   geo.Micro(destination.Lon),
	}
}

// NewLimiter returns a limiter admitting one request per window with no burst.
// Share one limiter between caches to make the throttle global.
func NewLimiter(window time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(window), 1)
}

// Cache is an unbounded map from Key to waypoints. Entries are never evicted:
// the key space is bounded by the stations a user walks to in one process
// lifetime, and only external map data changes a pair's real path.
type Cache struct {
	router  Router
	profile string
	limiter *rate.Limiter
	now     func() time.Time
	logger  *slog.Logger
	metrics *mmetrics.Collector

	mu      sync.Mutex
	entries map[Key][]geo.Point
}

type Option func(*Cache)

// WithLimiter shares a throttle across caches.
func WithLimiter(l *rate.Limiter) Option { return func(c *Cache) { c.limiter = l } }

func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = logging.Component(l, "route_cache") }
}

func WithMetrics(m *mmetrics.Collector) Option { return func(c *Cache) { c.metrics = m } }

func New(router Router, profile string, window time.Duration, opts ...Option) *Cache {
	c := &Cache{
		router:  router,
		profile: profile,
		now:     time.Now,
		logger:  logging.Component(nil, "route_cache"),
		entries: make(map[Key][]geo.Point),
	}
	for _, o := range opts {
		o(c)
	}
	if c.limiter == nil {
		c.limiter = NewLimiter(window)
	}
	return c
}

// Resolve returns the route from origin to destination. A cached pair is
// served without touching the throttle. A miss that loses the throttle, or
// whose request fails, gets a two-point straight line and leaves the key
// unset so a later call can retry.
func (c *Cache) Resolve(ctx context.Context, origin, destination geo.Point) Route {
	key := KeyFor(origin, destination)

	c.mu.Lock()
	cached, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		c.count("hit")
		return Route{Profile: c.profile, Waypoints: clonePoints(cached), Source: SourceCache}
	}

	if !c.limiter.AllowN(c.now(), 1) {
		c.count("throttled")
		return c.straight(origin, destination, SourceThrottled)
	}

	pts, err := c.router.Route(ctx, c.profile, origin.Rounded(), destination.Rounded())
	if err != nil {
		c.count("error")
		logging.LogError(c.logger, "route request failed, using straight line", err,
			slog.String("profile", c.profile))
		return c.straight(origin, destination, SourceFallback)
	}
	if len(pts) < 2 {
		c.count("error")
		return c.straight(origin, destination, SourceFallback)
	}

	c.mu.Lock()
	c.entries[key] = clonePoints(pts)
	n := len(c.entries)
	c.mu.Unlock()

	c.count("network")
	if c.metrics != nil {
		c.metrics.RouteCacheEntries.WithLabelValues(c.profile).Set(float64(n))
	}
	return Route{Profile: c.profile, Waypoints: pts, Source: SourceNetwork}
}

// Len reports the number of cached pairs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) straight(origin, destination geo.Point, src Source) Route {
	return Route{Profile: c.profile, Waypoints: geo.StraightLine(origin, destination), Source: src}
}

func (c *Cache) count(outcome string) {
	if c.metrics != nil {
		c.metrics.RouteRequests.WithLabelValues(c.profile, outcome).Inc()
	}
}

func clonePoints(p []geo.Point) []geo.Point {
	out := make([]geo.Point, len(p))
	copy(out, p)
	return out
}
