package routecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/geo"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/logging"
)

// ErrNoRoutes is returned when the router answers without a usable route.
var ErrNoRoutes = errors.New("routecache: router returned no routes")

const (
	ProfileWalking = "walking"
	ProfileCycling = "cycling"

	maxRouterBody = 4 << 20
)

// Router resolves the path between two points for a travel profile.
type Router interface {
	Route(ctx context.Context, profile string, origin, destination geo.Point) ([]geo.Point, error)
}

// OSRMRouter calls an OSRM-compatible /route/v1 endpoint.
type OSRMRouter struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewOSRMRouter(baseURL string, timeout time.Duration, logger *slog.Logger) *OSRMRouter {
	return &OSRMRouter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.Component(logger, "osrm_router"),
	}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry json.RawMessage `json:"geometry"`
		Distance float64         `json:"distance"`
		Duration float64         `json:"duration"`
	} `json:"routes"`
}

func (r *OSRMRouter) Route(ctx context.Context, profile string, origin, destination geo.Point) ([]geo.Point, error) {
	url := fmt.Sprintf("%s/route/v1/%s/%s,%s;%s,%s?overview=full&geometries=geojson&alternatives=false",
		r.baseURL, profile,
		coord(origin.Lon), coord(origin.Lat),
		coord(destination.Lon), coord(destination.Lat))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("routecache: osrm: create request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("routecache: osrm: http: %w", err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, r.logger, "osrm_response_body")

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRouterBody))
	if err != nil {
		return nil, fmt.Errorf("routecache: osrm: read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("routecache: osrm: http status %d", resp.StatusCode)
	}

	var or osrmResponse
	if err := json.Unmarshal(body, &or); err != nil {
		return nil, fmt.Errorf("routecache: osrm: decode: %w", err)
	}
	if len(or.Routes) == 0 {
		return nil, ErrNoRoutes
	}
	g, err := geojson.UnmarshalGeometry(or.Routes[0].Geometry)
	if err != nil {
		return nil, fmt.Errorf("routecache: osrm: geometry: %w", err)
	}
	ls, ok := g.Geometry().(orb.LineString)
	if !ok || len(ls) == 0 {
		return nil, ErrNoRoutes
	}
	out := make([]geo.Point, len(ls))
	for i, p := range ls {
		out[i] = geo.FromOrb(p)
	}
	return out, nil
}

func coord(v float64) string {
	return strconv.FormatFloat(geo.Round6(v), 'f', -1, 64)
}
