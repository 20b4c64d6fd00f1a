package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	SessionActive    prometheus.Gauge
	SamplesCollected prometheus.Counter
	FixErrors        prometheus.Counter
	Uploads          *prometheus.CounterVec // result: ok|error
	UploadDuration   prometheus.Histogram

	StationPolls     *prometheus.CounterVec // result: ok|error
	StationsLoaded   prometheus.Gauge
	FusionPolls      *prometheus.CounterVec // result: ok|error
	AnalyticsFetches *prometheus.CounterVec // slice: trends|stats|sessions, result: ok|error
	TripPlans        *prometheus.CounterVec // result: ok|rejected|error

	RouteRequests     *prometheus.CounterVec // profile, outcome: hit|network|throttled|error
	RouteCacheEntries *prometheus.GaugeVec   // profile

	StaleResponses  *prometheus.CounterVec   // component
	BackendDuration *prometheus.HistogramVec // endpoint

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	SampleInterval prometheus.Gauge // seconds
	FusionInterval prometheus.Gauge // seconds
}

func NewCollector(sampleInterval, fusionInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		SessionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "companion_session_active",
			Help: "1 while a GPS session is collecting, 0 otherwise.",
		}),
		SamplesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companion_samples_collected_total",
			Help: "Total position samples appended to a session buffer.",
		}),
		FixErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companion_fix_errors_total",
			Help: "Total failed position fixes.",
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_sample_uploads_total",
			Help: "Sample uploads by result.",
		}, []string{"result"}),
		UploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_sample_upload_duration_seconds",
			Help:    "Duration of a single sample upload.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		StationPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_station_polls_total",
			Help: "Station inventory polls by result.",
		}, []string{"result"}),
		StationsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "companion_stations_loaded",
			Help: "Stations in the current inventory snapshot.",
		}),
		FusionPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_fusion_polls_total",
			Help: "Fusion prediction polls by result.",
		}, []string{"result"}),
		AnalyticsFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_analytics_fetches_total",
			Help: "Analytics fetches by slice and result.",
		}, []string{"slice", "result"}),
		TripPlans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_trip_plans_total",
			Help: "Trip plan submissions by result.",
		}, []string{"result"}),
		RouteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_route_requests_total",
			Help: "Route resolutions by profile and outcome.",
		}, []string{"profile", "outcome"}),
		RouteCacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "companion_route_cache_entries",
			Help: "Routes held in the in-memory cache.",
		}, []string{"profile"}),
		StaleResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_stale_responses_total",
			Help: "Responses discarded because the session or selection they belonged to was replaced.",
		}, []string{"component"}),
		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "companion_backend_request_duration_seconds",
			Help:    "Backend request duration by endpoint.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"endpoint"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companion_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companion_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "companion_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		SampleInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "companion_sample_interval_seconds",
			Help: "GPS sampling interval in seconds.",
		}),
		FusionInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "companion_fusion_interval_seconds",
			Help: "Fusion poll interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.SessionActive, c.SamplesCollected, c.FixErrors, c.Uploads, c.UploadDuration,
		c.StationPolls, c.StationsLoaded, c.FusionPolls, c.AnalyticsFetches, c.TripPlans,
		c.RouteRequests, c.RouteCacheEntries, c.StaleResponses, c.BackendDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.SampleInterval, c.FusionInterval,
	)

	c.SampleInterval.Set(sampleInterval.Seconds())
	c.FusionInterval.Set(fusionInterval.Seconds())

	return c
}

// Result maps an error to the "ok"/"error" label used by the result counters.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics listening", slog.String("addr", addr))
	return srv
}
