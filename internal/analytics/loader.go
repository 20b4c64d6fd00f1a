// Package analytics loads per-session trend and summary statistics for the
// analytics view and lists past sessions.
package analytics

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

const defaultFetchTimeout = 15 * time.Second

type Client interface {
	Sessions(ctx context.Context, token string) ([]bikeshare.SessionRecord, error)
	Trends(ctx context.Context, token, sessionID string) (bikeshare.Trends, error)
	Stats(ctx context.Context, token, sessionID string) (*bikeshare.SessionStats, error)
}

// Inputs drive the activation predicate together with the credential.
type Inputs struct {
	ViewActive bool
	SessionID  string
}

// View is what the analytics screen shows. A slice whose fetch failed is nil.
type View struct {
	SessionID string                  `json:"session_id,omitempty"`
	Loading   bool                    `json:"loading"`
	Loaded    bool                    `json:"loaded"`
	Trends    bikeshare.Trends        `json:"trends"`
	Stats     *bikeshare.SessionStats `json:"stats"`
	LoadedAt  time.Time               `json:"loaded_at,omitempty"`
}

type Loader struct {
	client       Client
	creds        credential.Provider
	fetchTimeout time.Duration
	metrics      *mmetrics.Collector
	logger       *slog.Logger
	onLoaded     func(View)

	mu         sync.Mutex
	gen        uint64
	firedFor   string
	firedToken string
	cancel     context.CancelFunc
	view       View
	wg         sync.WaitGroup
}

type Option func(*Loader)

func WithMetrics(m *mmetrics.Collector) Option { return func(l *Loader) { l.metrics = m } }

func WithLogger(lg *slog.Logger) Option {
	return func(l *Loader) { l.logger = logging.Component(lg, "analytics_loader") }
}

func WithFetchTimeout(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.fetchTimeout = d
		}
	}
}

// OnLoaded is called once both fetches of an accepted load have resolved.
func OnLoaded(fn func(View)) Option { return func(l *Loader) { l.onLoaded = fn } }

func NewLoader(client Client, creds credential.Provider, opts ...Option) *Loader {
	l := &Loader{
		client:       client,
		creds:        creds,
		fetchTimeout: defaultFetchTimeout,
		logger:       logging.Component(nil, "analytics_loader"),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Update re-evaluates activation. A load fires when the view becomes active,
// or while active when the selected session or the credential changes. Going inactive abandons any
// load in flight but keeps what is already displayed.
func (l *Loader) Update(parent context.Context, in Inputs) {
	token := l.creds.Token()
	active := in.ViewActive && in.SessionID != "" && token != ""

	l.mu.Lock()
	defer l.mu.Unlock()
	if active && l.firedFor == in.SessionID && l.firedToken == token {
		return
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.gen++
	l.view.Loading = false
	if !active {
		l.firedFor, l.firedToken = "", ""
		return
	}

	gen := l.gen
	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	l.firedFor, l.firedToken = in.SessionID, token
	if l.view.SessionID != in.SessionID {
		l.view = View{SessionID: in.SessionID}
	}
	l.view.Loading = true
	l.view.Loaded = false
	l.wg.Add(1)
	go l.load(ctx, gen, token, in.SessionID)
}

func (l *Loader) load(ctx context.Context, gen uint64, token, sessionID string) {
	defer l.wg.Done()
	ctx, cancel := context.WithTimeout(ctx, l.fetchTimeout)
	defer cancel()

	var wg sync.WaitGroup
	var trends bikeshare.Trends
	var stats *bikeshare.SessionStats
	var trendsErr, statsErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		trends, trendsErr = l.client.Trends(ctx, token, sessionID)
		if trendsErr != nil {
			logging.LogError(l.logger, "trends fetch failed", trendsErr, slog.String("session_id", sessionID))
		}
	}()
	go func() {
		defer wg.Done()
		stats, statsErr = l.client.Stats(ctx, token, sessionID)
		if statsErr != nil {
			logging.LogError(l.logger, "stats fetch failed", statsErr, slog.String("session_id", sessionID))
		}
	}()
	wg.Wait()

	if l.metrics != nil {
		l.metrics.AnalyticsFetches.WithLabelValues("trends", mmetrics.Result(trendsErr)).Inc()
		l.metrics.AnalyticsFetches.WithLabelValues("stats", mmetrics.Result(statsErr)).Inc()
	}
	if trendsErr != nil {
		trends = nil
	}
	if statsErr != nil {
		stats = nil
	}

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.StaleResponses.WithLabelValues("analytics_loader").Inc()
		}
		return
	}
	l.cancel = nil
	l.view = View{
		SessionID: sessionID,
		Loaded:    true,
		Trends:    trends,
		Stats:     stats,
		LoadedAt:  time.Now(),
	}
	v := l.view
	l.mu.Unlock()

	logging.LogOperation(l.logger, "analytics_loaded", slog.String("session_id", sessionID))
	if l.onLoaded != nil {
		l.onLoaded(v)
	}
}

func (l *Loader) View() View {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view
}

// ListSessions returns the user's past sessions for the history picker.
func (l *Loader) ListSessions(ctx context.Context) ([]bikeshare.SessionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, l.fetchTimeout)
	defer cancel()
	sessions, err := l.client.Sessions(ctx, l.creds.Token())
	if l.metrics != nil {
		l.metrics.AnalyticsFetches.WithLabelValues("sessions", mmetrics.Result(err)).Inc()
	}
	return sessions, err
}

// Close abandons any load in flight and waits for it to return.
func (l *Loader) Close() {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.gen++
	l.firedFor = ""
	l.mu.Unlock()
	l.wg.Wait()
}
