// Package api exposes the companion to a presentation layer as a small JSON
// API under /v1.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/klauspost/compress/gzhttp"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/bikeshare"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/companion"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/logging"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/trip"
)

const (
	compressionMinSize = 1024
	compressionLevel   = 6
	maxRequestBody     = 64 << 10
	readHeaderTimeout  = 5 * time.Second
)

// Service is the companion surface the API drives.
type Service interface {
	State() companion.State
	StartSession() (bikeshare.Session, error)
	StopSession() (bikeshare.Session, error)
	SetCredential(token string)

	Stations() (bikeshare.StationSnapshot, bool)
	Fusion() companion.FusionView
	Highlight(name string) error
	ClearHighlight()
	Routes(ctx context.Context) companion.Routes

	OpenTrip() error
	CloseTrip()
	TripCandidates(q string) []bikeshare.Station
	PlanTrip(ctx context.Context, destination string) (bikeshare.TripPlan, error)
	ClearTrip()
	TripView() trip.View

	SetAnalyticsView(active bool)
	SelectAnalyticsSession(id string)
	Analytics() companion.AnalyticsView
	AnalyticsSessions(ctx context.Context) ([]bikeshare.SessionRecord, error)
}

type Server struct {
	svc    Service
	logger *slog.Logger
	router *httprouter.Router
}

func NewServer(svc Service, logger *slog.Logger) *Server {
	s := &Server{
		svc:    svc,
		logger: logging.Component(logger, "http_server"),
		router: httprouter.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.GET("/v1/state", s.getState)
	r.POST("/v1/session/start", s.startSession)
	r.POST("/v1/session/stop", s.stopSession)
	r.PUT("/v1/credential", s.putCredential)

	r.GET("/v1/stations", s.getStations)
	r.GET("/v1/fusion", s.getFusion)
	r.POST("/v1/highlight", s.postHighlight)
	r.DELETE("/v1/highlight", s.deleteHighlight)
	r.GET("/v1/routes", s.getRoutes)

	r.POST("/v1/trip/open", s.openTrip)
	r.POST("/v1/trip/close", s.closeTrip)
	r.GET("/v1/trip/candidates", s.tripCandidates)
	r.POST("/v1/trip/plan", s.planTrip)
	r.GET("/v1/trip", s.getTrip)
	r.DELETE("/v1/trip", s.clearTrip)

	r.POST("/v1/analytics/view", s.analyticsView)
	r.PUT("/v1/analytics/session", s.analyticsSession)
	r.GET("/v1/analytics", s.getAnalytics)
	r.GET("/v1/analytics/sessions", s.analyticsSessions)

	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.sendError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		s.logger.Error("handler panic", slog.String("path", r.URL.Path), slog.Any("panic", v))
		s.sendError(w, http.StatusInternalServerError, "internal server error")
	}
}

// Handler returns the router wrapped in compression and request logging.
func (s *Server) Handler() http.Handler {
	return newRequestLoggingMiddleware(s.logger)(newCompressionMiddleware()(s.router))
}

// Listen starts serving on addr in the background.
func (s *Server) Listen(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		s.logger.Info("api listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.LogError(s.logger, "api server error", err)
		}
	}()
	return srv
}

func newCompressionMiddleware() func(http.Handler) http.Handler {
	wrapper, err := gzhttp.NewWrapper(
		gzhttp.MinSize(compressionMinSize),
		gzhttp.CompressionLevel(compressionLevel),
	)
	return func(next http.Handler) http.Handler {
		if err != nil {
			return gzhttp.GzipHandler(next)
		}
		return wrapper(next)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func newRequestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			r = r.WithContext(logging.WithLogger(r.Context(), logger))
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logging.LogHTTPRequest(logger, r.Method, r.URL.Path, rec.status,
				float64(time.Since(start).Nanoseconds())/1e6,
				slog.String("user_agent", r.Header.Get("User-Agent")))
		})
	}
}
