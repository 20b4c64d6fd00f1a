// Package feed keeps the periodically refreshed backend views: the station
// inventory and the fused nearest-station prediction.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/bikeshare"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/logging"
	mmetrics "github.com/Jamieflana/Urban-Computing-Frontend/internal/metrics"
)

const defaultPollTimeout = 15 * time.Second

type StationSource interface {
	Stations(ctx context.Context) (bikeshare.StationSnapshot, error)
}

// StationFeed polls the inventory once on Start and then every interval.
// A failed poll leaves the previous snapshot in place; there is no backoff.
type StationFeed struct {
	src         StationSource
	interval    time.Duration
	pollTimeout time.Duration
	metrics     *mmetrics.Collector
	logger      *slog.Logger
	onChange    func(bikeshare.StationSnapshot)

	mu      sync.RWMutex
	snap    bikeshare.StationSnapshot
	loaded  bool
	lastErr error

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type StationOption func(*StationFeed)

func WithStationMetrics(m *mmetrics.Collector) StationOption {
	return func(f *StationFeed) { f.metrics = m }
}

func WithStationLogger(l *slog.Logger) StationOption {
	return func(f *StationFeed) { f.logger = logging.Component(l, "station_feed") }
}

func WithStationPollTimeout(d time.Duration) StationOption {
	return func(f *StationFeed) {
		if d > 0 {
			f.pollTimeout = d
		}
	}
}

// OnStations is called from the poll goroutine after each successful poll.
func OnStations(fn func(bikeshare.StationSnapshot)) StationOption {
	return func(f *StationFeed) { f.onChange = fn }
}

func NewStationFeed(src StationSource, interval time.Duration, opts ...StationOption) *StationFeed {
	f := &StationFeed{
		src:         src,
		interval:    interval,
		pollTimeout: defaultPollTimeout,
		logger:      logging.Component(nil, "station_feed"),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Start launches the poll loop. Calling Start on a running feed is a no-op.
func (f *StationFeed) Start(parent context.Context) {
	f.runMu.Lock()
	defer f.runMu.Unlock()
	if f.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	f.cancel = cancel
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.Poll(ctx)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logging.LogOperation(f.logger, "station_feed_stopped")
				return
			case <-ticker.C:
				f.Poll(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for it; no snapshot changes after it returns.
func (f *StationFeed) Stop() {
	f.runMu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	f.wg.Wait()
}

// Poll fetches the inventory once and replaces the snapshot on success.
func (f *StationFeed) Poll(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, f.pollTimeout)
	snap, err := f.src.Stations(pctx)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if f.metrics != nil {
		f.metrics.StationPolls.WithLabelValues(mmetrics.Result(err)).Inc()
	}

	f.mu.Lock()
	if err != nil {
		f.lastErr = err
		f.mu.Unlock()
		logging.LogError(f.logger, "station poll failed, keeping previous snapshot", err)
		return err
	}
	f.snap = snap
	f.loaded = true
	f.lastErr = nil
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.StationsLoaded.Set(float64(len(snap.Stations)))
	}
	f.logger.Debug("stations refreshed", slog.Int("count", snap.Count), slog.Int("stations", len(snap.Stations)))
	if f.onChange != nil {
		f.onChange(snap)
	}
	return nil
}

// Snapshot returns the last good snapshot and whether any poll has succeeded.
func (f *StationFeed) Snapshot() (bikeshare.StationSnapshot, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap, f.loaded
}

func (f *StationFeed) LastError() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastErr
}
