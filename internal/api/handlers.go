package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/twpayne/go-polyline"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/bikeshare"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/companion"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/geo"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/routecache"
)

func (s *Server) getState(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.sendJSON(w, http.StatusOK, s.svc.State())
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sess, err := s.svc.StartSession()
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, sess)
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sess, err := s.svc.StopSession()
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, sess)
}

func (s *Server) putCredential(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.svc.SetCredential(strings.TrimSpace(body.Token))
	w.WriteHeader(http.StatusNoContent)
}

type stationView struct {
	bikeshare.Station
	Availability bikeshare.Availability `json:"availability"`
}

type stationsResponse struct {
	Loaded    bool          `json:"loaded"`
	Count     int           `json:"count"`
	FetchedAt string        `json:"fetched_at,omitempty"`
	Stations  []stationView `json:"stations"`
}

func (s *Server) getStations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snap, loaded := s.svc.Stations()
	resp := stationsResponse{Loaded: loaded, Count: snap.Count, Stations: make([]stationView, 0, len(snap.Stations))}
	if loaded {
		resp.FetchedAt = snap.FetchedAt.Format(time.RFC3339)
	}
	for _, st := range snap.Stations {
		resp.Stations = append(resp.Stations, stationView{Station: st, Availability: st.Availability()})
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) getFusion(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.sendJSON(w, http.StatusOK, s.svc.Fusion())
}

func (s *Server) postHighlight(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.Highlight(body.Name); err != nil {
		s.sendDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteHighlight(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.svc.ClearHighlight()
	w.WriteHeader(http.StatusNoContent)
}

type routeView struct {
	Name      string            `json:"name"`
	Profile   string            `json:"profile"`
	Source    routecache.Source `json:"source"`
	Degraded  bool              `json:"degraded"`
	Waypoints []geo.Point       `json:"waypoints"`
	Polyline  string            `json:"polyline"`
}

type routesResponse struct {
	Origin     *geo.Point  `json:"origin,omitempty"`
	Target     *routeView  `json:"target,omitempty"`
	Alternates []routeView `json:"alternates"`
	TripLeg    *routeView  `json:"trip_leg,omitempty"`
}

func toRouteView(rt companion.RouteTo) routeView {
	coords := make([][]float64, 0, len(rt.Route.Waypoints))
	for _, p := range rt.Route.Waypoints {
		coords = append(coords, []float64{p.Lat, p.Lon})
	}
	return routeView{
		Name:      rt.Name,
		Profile:   rt.Route.Profile,
		Source:    rt.Route.Source,
		Degraded:  rt.Route.Degraded(),
		Waypoints: rt.Route.Waypoints,
		Polyline:  string(polyline.EncodeCoords(coords)),
	}
}

func (s *Server) getRoutes(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	routes := s.svc.Routes(r.Context())
	resp := routesResponse{Origin: routes.Origin, Alternates: make([]routeView, 0, len(routes.Alternates))}
	if routes.Target != nil {
		v := toRouteView(*routes.Target)
		resp.Target = &v
	}
	for _, a := range routes.Alternates {
		resp.Alternates = append(resp.Alternates, toRouteView(a))
	}
	if routes.TripLeg != nil {
		v := toRouteView(*routes.TripLeg)
		resp.TripLeg = &v
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) openTrip(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.svc.OpenTrip(); err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.svc.TripView())
}

func (s *Server) closeTrip(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.svc.CloseTrip()
	s.sendJSON(w, http.StatusOK, s.svc.TripView())
}

func (s *Server) tripCandidates(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stations := s.svc.TripCandidates(r.URL.Query().Get("q"))
	s.sendJSON(w, http.StatusOK, struct {
		Stations []bikeshare.Station `json:"stations"`
	}{Stations: stations})
}

func (s *Server) planTrip(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Destination string `json:"destination"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.Destination) == "" {
		s.sendError(w, http.StatusBadRequest, "destination is required")
		return
	}
	plan, err := s.svc.PlanTrip(r.Context(), body.Destination)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, plan)
}

func (s *Server) getTrip(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.sendJSON(w, http.StatusOK, s.svc.TripView())
}

func (s *Server) clearTrip(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.svc.ClearTrip()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) analyticsView(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Active == nil {
		s.sendError(w, http.StatusBadRequest, "active is required")
		return
	}
	s.svc.SetAnalyticsView(*body.Active)
	s.sendJSON(w, http.StatusOK, s.svc.Analytics())
}

func (s *Server) analyticsSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.svc.SelectAnalyticsSession(strings.TrimSpace(body.SessionID))
	s.sendJSON(w, http.StatusOK, s.svc.Analytics())
}

func (s *Server) getAnalytics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.sendJSON(w, http.StatusOK, s.svc.Analytics())
}

func (s *Server) analyticsSessions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sessions, err := s.svc.AnalyticsSessions(r.Context())
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, struct {
		Sessions []bikeshare.SessionRecord `json:"sessions"`
	}{Sessions: sessions})
}
