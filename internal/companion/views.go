package companion

import (
	"context"
	"sync"
	"time"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/analytics"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/bikeshare"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/credential"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/geo"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/routecache"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/session"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/trip"
)

// State is the full snapshot the presentation layer renders.
type State struct {
	Session           session.Snapshot `json:"session"`
	Position          *geo.Point       `json:"position,omitempty"`
	CredentialPresent bool             `json:"credential_present"`
	Stations          StationsSummary  `json:"stations"`
	Fusion            FusionView       `json:"fusion"`
	Highlight         string           `json:"highlight,omitempty"`
	Trip              trip.View        `json:"trip"`
	Analytics         AnalyticsView    `json:"analytics"`
}

type StationsSummary struct {
	Loaded    bool      `json:"loaded"`
	Count     int       `json:"count"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type FusionView struct {
	Active bool                    `json:"active"`
	Result *bikeshare.FusionResult `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

type AnalyticsView struct {
	Active   bool   `json:"active"`
	Selected string `json:"selected_session,omitempty"`
	analytics.View
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (c *Companion) State() State {
	c.mu.Lock()
	var pos *geo.Point
	if c.lastPos != nil {
		p := *c.lastPos
		pos = &p
	}
	highlight := c.highlight
	av := AnalyticsView{Active: c.analyticsActive, Selected: c.analyticsSession}
	c.mu.Unlock()

	st := State{
		Session:           c.session.Snapshot(),
		Position:          pos,
		CredentialPresent: credential.Present(c.creds),
		Highlight:         highlight,
		Trip:              c.planner.View(),
	}

	snap, loaded := c.stations.Snapshot()
	st.Stations = StationsSummary{Loaded: loaded, Count: snap.Count, FetchedAt: snap.FetchedAt, Error: errText(c.stations.LastError())}

	_, active := c.fusion.Active()
	st.Fusion = FusionView{Active: active, Error: errText(c.fusion.LastError())}
	if res, ok := c.fusion.Result(); ok {
		st.Fusion.Result = &res
	}

	av.View = c.analytics.View()
	st.Analytics = av
	return st
}

// Stations returns the last good station snapshot.
func (c *Companion) Stations() (bikeshare.StationSnapshot, bool) {
	return c.stations.Snapshot()
}

func (c *Companion) Fusion() FusionView {
	_, active := c.fusion.Active()
	v := FusionView{Active: active, Error: errText(c.fusion.LastError())}
	if res, ok := c.fusion.Result(); ok {
		v.Result = &res
	}
	return v
}

// Highlight selects one of the current top-3 alternates as the walking target.
func (c *Companion) Highlight(name string) error {
	res, ok := c.fusion.Result()
	if !ok || findTop(res.Top3, name) == nil {
		return ErrUnknownStation
	}
	c.mu.Lock()
	c.highlight = name
	c.mu.Unlock()
	return nil
}

func (c *Companion) ClearHighlight() {
	c.mu.Lock()
	c.highlight = ""
	c.mu.Unlock()
}

func findTop(top []bikeshare.TopStation, name string) *bikeshare.TopStation {
	for i := range top {
		if top[i].Name == name {
			return &top[i]
		}
	}
	return nil
}

// RouteTo is a resolved route to a named station.
type RouteTo struct {
	Name  string           `json:"name"`
	Route routecache.Route `json:"route"`
}

type Routes struct {
	Origin     *geo.Point `json:"origin,omitempty"`
	Target     *RouteTo   `json:"target,omitempty"`
	Alternates []RouteTo  `json:"alternates"`
	TripLeg    *RouteTo   `json:"trip_leg,omitempty"`
}

// Routes resolves the walking route from the user's position to the
// highlighted station (or the nearest one), walking routes to each top-3
// alternate, and the cycling leg of the current trip plan. The walking origin
// is pinned when the target station is chosen and only moves when the target
// changes, so repeated calls while walking hit the cache. The walking requests
// run concurrently and compete for the shared routing throttle.
func (c *Companion) Routes(ctx context.Context) Routes {
	res, haveFusion := c.fusion.Result()

	c.mu.Lock()
	var origin *geo.Point
	if c.lastPos != nil {
		p := *c.lastPos
		origin = &p
	}
	var targetName string
	var target geo.Point
	if origin != nil && haveFusion {
		targetName = res.Nearest.Name
		target = geo.Point{Lat: res.Nearest.Latitude, Lon: res.Nearest.Longitude}
		if t := findTop(res.Top3, c.highlight); t != nil {
			targetName = t.Name
			target = geo.Point{Lat: t.Lat, Lon: t.Lon}
		}
		if c.routeOrigin == nil || c.routeTarget != targetName {
			c.routeOrigin, c.routeTarget = origin, targetName
		}
		p := *c.routeOrigin
		origin = &p
	}
	c.mu.Unlock()

	out := Routes{Origin: origin, Alternates: []RouteTo{}}
	if targetName != "" {
		var wg sync.WaitGroup
		alts := make([]RouteTo, len(res.Top3))
		var tgt RouteTo
		wg.Add(1)
		go func() {
			defer wg.Done()
			tgt = RouteTo{Name: targetName, Route: c.walking.Resolve(ctx, *origin, target)}
		}()
		for i, s := range res.Top3 {
			wg.Add(1)
			go func(i int, s bikeshare.TopStation) {
				defer wg.Done()
				alts[i] = RouteTo{Name: s.Name, Route: c.walking.Resolve(ctx, *origin, geo.Point{Lat: s.Lat, Lon: s.Lon})}
			}(i, s)
		}
		wg.Wait()
		out.Target = &tgt
		out.Alternates = alts
	}

	if plan, ok := c.planner.Plan(); ok {
		from, okFrom := c.stationPoint(plan.Pickup)
		to, okTo := c.stationPoint(plan.Destination)
		if okFrom && okTo {
			out.TripLeg = &RouteTo{
				Name:  plan.Pickup.Name + " -> " + plan.Destination.Name,
				Route: c.cycling.Resolve(ctx, from, to),
			}
		}
	}
	return out
}

// stationPoint locates a trip station, preferring coordinates the backend
// sent with the plan over the inventory.
func (c *Companion) stationPoint(ref bikeshare.StationRef) (geo.Point, bool) {
	if ref.Station != nil && (ref.Station.Latitude != 0 || ref.Station.Longitude != 0) {
		return geo.Point{Lat: ref.Station.Latitude, Lon: ref.Station.Longitude}, true
	}
	snap, _ := c.stations.Snapshot()
	for _, s := range snap.Stations {
		if s.Name == ref.Name {
			return geo.Point{Lat: s.Latitude, Lon: s.Longitude}, true
		}
	}
	return geo.Point{}, false
}

func (c *Companion) OpenTrip() error { return c.planner.Open() }

func (c *Companion) CloseTrip() { c.planner.Close() }

func (c *Companion) TripCandidates(q string) []bikeshare.Station { return c.planner.Search(q) }

func (c *Companion) PlanTrip(ctx context.Context, destination string) (bikeshare.TripPlan, error) {
	return c.planner.Submit(ctx, destination)
}

func (c *Companion) ClearTrip() { c.planner.Clear() }

func (c *Companion) TripView() trip.View { return c.planner.View() }

// SetAnalyticsView records whether the analytics view is showing.
func (c *Companion) SetAnalyticsView(active bool) {
	c.mu.Lock()
	c.analyticsActive = active
	c.mu.Unlock()
	c.refreshAnalytics()
}

// SelectAnalyticsSession picks the session the analytics view shows; ""
// means the live session.
func (c *Companion) SelectAnalyticsSession(id string) {
	c.mu.Lock()
	c.analyticsSession = id
	c.mu.Unlock()
	c.refreshAnalytics()
}

func (c *Companion) Analytics() AnalyticsView {
	c.mu.Lock()
	v := AnalyticsView{Active: c.analyticsActive, Selected: c.analyticsSession}
	c.mu.Unlock()
	v.View = c.analytics.View()
	return v
}

func (c *Companion) AnalyticsSessions(ctx context.Context) ([]bikeshare.SessionRecord, error) {
	return c.analytics.ListSessions(ctx)
}

func (c *Companion) refreshAnalytics() {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	c.mu.Lock()
	id := c.analyticsSession
	if id == "" {
		id = c.liveSession
	}
	in := analytics.Inputs{ViewActive: c.analyticsActive, SessionID: id}
	c.mu.Unlock()
	c.analytics.Update(c.rootCtx, in)
}
