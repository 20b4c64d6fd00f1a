package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/api"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/backend"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/companion"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/config"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/gps"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/logging"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/metrics"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/publisher"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/routecache"
)

const shutdownTimeout = 3 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logging.LogError(logger, "companion exited", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	src, err := gps.FromSpec(cfg.GPSSource)
	if err != nil {
		return fmt.Errorf("gps source: %w", err)
	}

	var servers []*http.Server

	mcol := metrics.NewCollector(cfg.SampleInterval, cfg.FusionPollInterval)
	if cfg.MetricsAddr != "" {
		servers = append(servers, mcol.Serve(cfg.MetricsAddr, logger))
	}

	opts := []companion.Option{
		companion.WithLogger(logger),
		companion.WithMetrics(mcol),
	}

	// NATS is an optional side channel; the companion runs without it.
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol), logger)
		if err != nil {
			logging.LogError(logger, "nats unavailable, continuing without it", err,
				slog.String("url", cfg.NATSURL))
		} else {
			defer pub.Close()
			opts = append(opts, companion.WithPublisher(pub))
		}
	}

	be := backend.NewClient(cfg.BackendURL, cfg.HTTPTimeout,
		backend.WithLogger(logger),
		backend.WithMetrics(mcol))
	router := routecache.NewOSRMRouter(cfg.RouterURL, cfg.HTTPTimeout, logger)

	comp := companion.New(*cfg, be, src, router, opts...)
	if err := comp.Start(ctx); err != nil {
		comp.Shutdown()
		return err
	}

	if cfg.ListenAddr != "" {
		servers = append(servers, api.NewServer(comp, logger).Listen(cfg.ListenAddr))
	}

	logging.LogOperation(logger, "companion_started",
		slog.String("backend", cfg.BackendURL),
		slog.String("gps_source", cfg.GPSSource),
		slog.Bool("auto_start", cfg.AutoStart))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	comp.Shutdown()
	logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// wrapPublisherMetrics adapts the Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()  { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc() { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
