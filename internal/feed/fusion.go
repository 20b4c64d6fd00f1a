package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/bikeshare"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/credential"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/logging"
	mmetrics "github.com/Jamieflana/Urban-Computing-Frontend/internal/metrics"
)

type FusionSource interface {
	FusionPrediction(ctx context.Context, token, sessionID string) (bikeshare.FusionResult, error)
}

// FusionInputs are the values the activation predicate is evaluated on.
// SampleCount is the number of samples the backend has confirmed.
type FusionInputs struct {
	SessionID   string
	SampleCount int
}

// FusionFeed polls the fusion prediction for the active session while its
// activation predicate holds: a session id, a credential and at least one
// sample. It polls immediately on activation and then every interval.
type FusionFeed struct {
	src         FusionSource
	creds       credential.Provider
	interval    time.Duration
	pollTimeout time.Duration
	metrics     *mmetrics.Collector
	logger      *slog.Logger
	onResult    func(bikeshare.FusionResult)
	onError     func(sessionID string, err error)

	emitMu sync.Mutex // held across the gen check and the callbacks; taken before mu

	mu        sync.Mutex
	gen       uint64
	runningID string
	cancel    context.CancelFunc
	result    *bikeshare.FusionResult
	lastErr   error
	wg        sync.WaitGroup
}

type FusionOption func(*FusionFeed)

func WithFusionMetrics(m *mmetrics.Collector) FusionOption {
	return func(f *FusionFeed) { f.metrics = m }
}

func WithFusionLogger(l *slog.Logger) FusionOption {
	return func(f *FusionFeed) { f.logger = logging.Component(l, "fusion_feed") }
}

func WithFusionPollTimeout(d time.Duration) FusionOption {
	return func(f *FusionFeed) {
		if d > 0 {
			f.pollTimeout = d
		}
	}
}

// OnFusion is called after each accepted successful poll. It must not call
// back into Update or Shutdown.
func OnFusion(fn func(bikeshare.FusionResult)) FusionOption {
	return func(f *FusionFeed) { f.onResult = fn }
}

// OnFusionError is called after each accepted failed poll.
func OnFusionError(fn func(sessionID string, err error)) FusionOption {
	return func(f *FusionFeed) { f.onError = fn }
}

func NewFusionFeed(src FusionSource, creds credential.Provider, interval time.Duration, opts ...FusionOption) *FusionFeed {
	f := &FusionFeed{
		src:         src,
		creds:       creds,
		interval:    interval,
		pollTimeout: defaultPollTimeout,
		logger:      logging.Component(nil, "fusion_feed"),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *FusionFeed) shouldRun(in FusionInputs) bool {
	return in.SessionID != "" && in.SampleCount >= 1 && credential.Present(f.creds)
}

// Update re-evaluates the activation predicate. A transition to active, or a
// change of session while active, starts a fresh loop. Further sample count
// changes leave a running loop alone. Deactivation cancels the loop without
// touching the last result. Once Update returns, a canceled loop delivers
// nothing more.
func (f *FusionFeed) Update(parent context.Context, in FusionInputs) {
	active := f.shouldRun(in)

	f.emitMu.Lock()
	defer f.emitMu.Unlock()
	f.mu.Lock()
	defer f.mu.Unlock()
	if active && f.runningID == in.SessionID {
		return
	}
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
		f.runningID = ""
		f.gen++
		logging.LogOperation(f.logger, "fusion_polling_stopped")
	}
	if !active {
		return
	}

	f.gen++
	gen := f.gen
	ctx, cancel := context.WithCancel(parent)
	f.cancel = cancel
	f.runningID = in.SessionID
	f.wg.Add(1)
	f.logger.Info("fusion polling started", slog.String("session_id", in.SessionID))
	go f.run(ctx, gen, in.SessionID)
}

// Shutdown stops polling and waits for the loop to exit.
func (f *FusionFeed) Shutdown() {
	f.emitMu.Lock()
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
		f.runningID = ""
		f.gen++
	}
	f.mu.Unlock()
	f.emitMu.Unlock()
	f.wg.Wait()
}

func (f *FusionFeed) run(ctx context.Context, gen uint64, sessionID string) {
	defer f.wg.Done()
	f.poll(ctx, gen, sessionID)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poll(ctx, gen, sessionID)
		}
	}
}

func (f *FusionFeed) poll(ctx context.Context, gen uint64, sessionID string) {
	token := f.creds.Token()
	if token == "" {
		f.logger.Debug("credential gone, skipping fusion poll", slog.String("session_id", sessionID))
		return
	}
	pctx, cancel := context.WithTimeout(ctx, f.pollTimeout)
	res, err := f.src.FusionPrediction(pctx, token, sessionID)
	cancel()

	f.emitMu.Lock()
	defer f.emitMu.Unlock()

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		if f.metrics != nil {
			f.metrics.StaleResponses.WithLabelValues("fusion_feed").Inc()
		}
		return
	}
	if f.metrics != nil {
		f.metrics.FusionPolls.WithLabelValues(mmetrics.Result(err)).Inc()
	}
	if err != nil {
		f.lastErr = err
		f.mu.Unlock()
		logging.LogError(f.logger, "fusion poll failed, keeping previous result", err,
			slog.String("session_id", sessionID))
		if f.onError != nil {
			f.onError(sessionID, err)
		}
		return
	}
	f.result = &res
	f.lastErr = nil
	f.mu.Unlock()

	if f.onResult != nil {
		f.onResult(res)
	}
}

// Result returns the last good prediction, if any.
func (f *FusionFeed) Result() (bikeshare.FusionResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.result == nil {
		return bikeshare.FusionResult{}, false
	}
	return *f.result, true
}

func (f *FusionFeed) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Active reports whether a poll loop is running and for which session.
func (f *FusionFeed) Active() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runningID, f.cancel != nil
}
