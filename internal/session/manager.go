// Package session runs the GPS sampling lifecycle: Idle -> Collecting -> Idle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/bikeshare"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/credential"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/gps"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/logging"
	mmetrics "github.com/Jamieflana/Urban-Computing-Frontend/internal/metrics"
)

var (
	ErrAlreadyCollecting = errors.New("session: already collecting")
	ErrNotCollecting     = errors.New("session: not collecting")
)

const (
	StatusWaiting     = "Waiting for GPS"
	StatusUnsupported = "Geolocation not supported on this device."
	StatusSendFailed  = "Error sending data"

	defaultUploadTimeout = 10 * time.Second
)

type State int

const (
	Idle State = iota
	Collecting
)

func (s State) String() string {
	if s == Collecting {
		return "collecting"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Uploader delivers one sample to the backend.
type Uploader interface {
	SaveSample(ctx context.Context, token string, s bikeshare.PositionSample) error
}

// SamplePublisher mirrors collected samples to a side channel.
type SamplePublisher interface {
	PublishSample(s bikeshare.PositionSample) error
}

// Snapshot is a copy of the session state handed to listeners.
type Snapshot struct {
	State   State                     `json:"state"`
	Session bikeshare.Session         `json:"session"`
	Last    *bikeshare.PositionSample `json:"last_sample,omitempty"`
	Status  string                    `json:"status"`
}

// Active reports whether a session id is set, which only happens while collecting.
func (s Snapshot) Active() bool { return s.State == Collecting && s.Session.ID != "" }

// Manager owns one GPS session at a time. Each tick acquires a fix, appends
// it to the buffer and uploads it in the background; upload results are
// applied only while the session that produced them is still the active one.
type Manager struct {
	source        gps.Source
	uploader      Uploader
	creds         credential.Provider
	interval      time.Duration
	uploadTimeout time.Duration
	pub           SamplePublisher
	metrics       *mmetrics.Collector
	logger        *slog.Logger
	newID         func() string
	onChange      func(Snapshot)

	emitMu sync.Mutex // serializes onChange; always taken before mu

	mu      sync.Mutex
	state   State
	session bikeshare.Session
	samples []bikeshare.PositionSample
	status  string
	cancel  context.CancelFunc
	wg      sync.WaitGroup // sampling loop

	uploads sync.WaitGroup
}

type Option func(*Manager)

func WithPublisher(p SamplePublisher) Option { return func(m *Manager) { m.pub = p } }

func WithMetrics(c *mmetrics.Collector) Option { return func(m *Manager) { m.metrics = c } }

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = logging.Component(l, "gps_session") }
}

func WithUploadTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.uploadTimeout = d
		}
	}
}

// WithIDGenerator replaces uuid.NewString, mostly for tests.
func WithIDGenerator(f func() string) Option { return func(m *Manager) { m.newID = f } }

// OnChange registers the listener called after every observable change.
// It runs on the goroutine that made the change and must not call back
// into Start or Stop.
func OnChange(f func(Snapshot)) Option { return func(m *Manager) { m.onChange = f } }

func NewManager(src gps.Source, up Uploader, creds credential.Provider, interval time.Duration, opts ...Option) *Manager {
	m := &Manager{
		source:        src,
		uploader:      up,
		creds:         creds,
		interval:      interval,
		uploadTimeout: defaultUploadTimeout,
		logger:        logging.Component(nil, "gps_session"),
		newID:         uuid.NewString,
		status:        StatusWaiting,
	}
	for _, o := range opts {
		o(m)
	}
	if !src.Available() {
		m.status = StatusUnsupported
	}
	return m
}

// Start begins a new session with a fresh id. The sampling loop lives until
// Stop is called or ctx is canceled.
func (m *Manager) Start(ctx context.Context) (bikeshare.Session, error) {
	if !m.source.Available() {
		m.mu.Lock()
		m.status = StatusUnsupported
		m.mu.Unlock()
		m.emit()
		return bikeshare.Session{}, gps.ErrUnavailable
	}

	m.mu.Lock()
	if m.state == Collecting {
		m.mu.Unlock()
		return bikeshare.Session{}, ErrAlreadyCollecting
	}
	id := m.newID()
	loopCtx, cancel := context.WithCancel(ctx)
	m.state = Collecting
	m.session = bikeshare.Session{ID: id, StartedAt: time.Now()}
	m.samples = nil
	m.status = fmt.Sprintf("Session started: %s", id)
	m.cancel = cancel
	m.wg.Add(1)
	started := m.session
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionActive.Set(1)
	}
	m.logger.Info("session started", slog.String("session_id", id))
	m.emit()

	go func() {
		defer m.wg.Done()
		m.run(loopCtx, id)
	}()
	return started, nil
}

// Stop ends the active session. Once it returns the sampling loop has exited
// and uploads still in flight can no longer change state.
func (m *Manager) Stop() (bikeshare.Session, error) {
	m.mu.Lock()
	if m.state != Collecting {
		m.mu.Unlock()
		return bikeshare.Session{}, ErrNotCollecting
	}
	ended := m.session
	ended.SampleCount = len(m.samples)
	m.cancel()
	m.cancel = nil
	m.state = Idle
	m.session = bikeshare.Session{}
	m.samples = nil
	m.status = fmt.Sprintf("Session ended: %s (%d points uploaded)", ended.ID, ended.UploadCount)
	m.mu.Unlock()

	m.wg.Wait()
	if m.metrics != nil {
		m.metrics.SessionActive.Set(0)
	}
	logging.LogOperation(m.logger, "session_ended",
		slog.String("session_id", ended.ID),
		slog.Int("samples", ended.SampleCount),
		slog.Int("uploaded", ended.UploadCount))
	m.emit()
	return ended, nil
}

// Close stops any active session and waits for outstanding uploads.
func (m *Manager) Close() {
	if _, err := m.Stop(); err != nil && !errors.Is(err, ErrNotCollecting) {
		logging.LogError(m.logger, "stop on close", err)
	}
	m.uploads.Wait()
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Samples returns a copy of the active session's buffer in fix order.
func (m *Manager) Samples() []bikeshare.PositionSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bikeshare.PositionSample, len(m.samples))
	copy(out, m.samples)
	return out
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{State: m.state, Session: m.session, Status: m.status}
	snap.Session.SampleCount = len(m.samples)
	if n := len(m.samples); n > 0 {
		last := m.samples[n-1]
		snap.Last = &last
	}
	return snap
}

// emit hands the current state to the listener. Reading the state under
// emitMu keeps listeners from ever observing an older snapshot after a newer one.
func (m *Manager) emit() {
	if m.onChange == nil {
		return
	}
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	m.mu.Lock()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.onChange(snap)
}

func (m *Manager) run(ctx context.Context, id string) {
	if !m.apply(id, func() { m.status = fmt.Sprintf("Collecting data for session: %s", id) }) {
		return
	}

	tick := time.NewTicker(m.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			m.sample(ctx, id)
		}
	}
}

func (m *Manager) sample(ctx context.Context, id string) {
	fix, err := m.source.Fix(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if m.metrics != nil {
			m.metrics.FixErrors.Inc()
		}
		logging.LogError(m.logger, "position fix failed", err, slog.String("session_id", id))
		m.apply(id, func() { m.status = "Error: " + err.Error() })
		return
	}

	s := bikeshare.PositionSample{
		SessionID: id,
		Timestamp: fix.At,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Accuracy:  fix.Accuracy,
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	if !m.apply(id, func() { m.samples = append(m.samples, s) }) {
		return
	}
	if m.metrics != nil {
		m.metrics.SamplesCollected.Inc()
	}
	if m.pub != nil {
		if err := m.pub.PublishSample(s); err != nil {
			m.logger.Debug("sample publish failed", slog.String("error", err.Error()))
		}
	}

	m.uploads.Add(1)
	go m.upload(id, s)
}

// upload runs detached from the sampling loop so a slow backend never delays
// the next tick. The token is read per upload.
func (m *Manager) upload(id string, s bikeshare.PositionSample) {
	defer m.uploads.Done()
	ctx, cancel := context.WithTimeout(context.Background(), m.uploadTimeout)
	defer cancel()

	start := time.Now()
	err := m.uploader.SaveSample(ctx, m.creds.Token(), s)
	if m.metrics != nil {
		m.metrics.Uploads.WithLabelValues(mmetrics.Result(err)).Inc()
		m.metrics.UploadDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		logging.LogError(m.logger, "sample upload failed", err, slog.String("session_id", id))
	}

	applied := m.apply(id, func() {
		if err != nil {
			m.status = StatusSendFailed
			return
		}
		m.session.UploadCount++
		m.status = fmt.Sprintf("Session %s: Sent %d points", id, m.session.UploadCount)
	})
	if !applied {
		if m.metrics != nil {
			m.metrics.StaleResponses.WithLabelValues("gps_session").Inc()
		}
		m.logger.Debug("discarding upload result for ended session", slog.String("session_id", id))
	}
}

// apply runs f under the lock only if id is still the active session, then
// notifies the listener.
func (m *Manager) apply(id string, f func()) bool {
	m.mu.Lock()
	if m.state != Collecting || m.session.ID != id {
		m.mu.Unlock()
		return false
	}
	f()
	m.mu.Unlock()
	m.emit()
	return true
}
