package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/bikeshare"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/credential"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/gps"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/metrics"
)

const testInterval = 10 * time.Millisecond

type fakeSource struct {
	mu    sync.Mutex
	fixes []gps.Fix
	errs  []error
	calls int
}

func (f *fakeSource) Available() bool { return true }

func (f *fakeSource) Fix(ctx context.Context) (gps.Fix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return gps.Fix{}, f.errs[i]
	}
	if len(f.fixes) == 0 {
		return gps.Fix{Latitude: 53.3498, Longitude: -6.2603, Accuracy: 5, At: time.Now()}, nil
	}
	fx := f.fixes[i%len(f.fixes)]
	fx.At = time.Now()
	return fx, nil
}

type fakeUploader struct {
	mu      sync.Mutex
	samples []bikeshare.PositionSample
	tokens  []string
	err     error
	block   chan struct{}
}

func (u *fakeUploader) SaveSample(ctx context.Context, token string, s bikeshare.PositionSample) error {
	if u.block != nil {
		<-u.block
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.samples = append(u.samples, s)
	u.tokens = append(u.tokens, token)
	return u.err
}

func (u *fakeUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.samples)
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) record(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s.Status)
	}
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func newTestManager(t *testing.T, src gps.Source, up Uploader, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithMetrics(metrics.NewCollector(testInterval, time.Second))}, opts...)
	m := NewManager(src, up, credential.NewStore("tok"), testInterval, opts...)
	t.Cleanup(m.Close)
	return m
}

func TestStartStopLifecycle(t *testing.T) {
	up := &fakeUploader{}
	m := newTestManager(t, &fakeSource{}, up, WithIDGenerator(func() string { return "s-1" }))

	assert.Equal(t, StatusWaiting, m.Snapshot().Status)
	assert.False(t, m.Snapshot().Active())

	sess, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s-1", sess.ID)
	assert.True(t, m.Snapshot().Active())

	_, err = m.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyCollecting)

	require.Eventually(t, func() bool { return m.Snapshot().Session.UploadCount >= 2 }, time.Second, 5*time.Millisecond)

	ended, err := m.Stop()
	require.NoError(t, err)
	assert.Equal(t, "s-1", ended.ID)
	assert.GreaterOrEqual(t, ended.SampleCount, 2)

	snap := m.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, snap.Session.ID)
	assert.Zero(t, snap.Session.SampleCount)
	assert.Nil(t, snap.Last)
	assert.Empty(t, m.Samples())
	assert.Contains(t, snap.Status, "Session ended: s-1 (")

	_, err = m.Stop()
	assert.ErrorIs(t, err, ErrNotCollecting)
}

func TestUploadsCarrySessionIDAndToken(t *testing.T) {
	up := &fakeUploader{}
	m := newTestManager(t, &fakeSource{}, up, WithIDGenerator(func() string { return "abc" }))

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return up.count() >= 1 }, time.Second, 5*time.Millisecond)
	_, _ = m.Stop()

	up.mu.Lock()
	defer up.mu.Unlock()
	assert.Equal(t, "abc", up.samples[0].SessionID)
	assert.InDelta(t, 53.3498, up.samples[0].Latitude, 1e-9)
	assert.Equal(t, "tok", up.tokens[0])
}

func TestSampleOrderFollowsFixOrder(t *testing.T) {
	src := &fakeSource{fixes: []gps.Fix{{Latitude: 1}, {Latitude: 2}, {Latitude: 3}}}
	m := newTestManager(t, src, &fakeUploader{})

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(m.Samples()) >= 3 }, time.Second, 5*time.Millisecond)

	got := m.Samples()
	for i := 0; i < 3; i++ {
		assert.InDelta(t, float64(i+1), got[i].Latitude, 1e-9)
	}
}

func TestStatusMessagesCountUploads(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(t, &fakeSource{}, &fakeUploader{},
		WithIDGenerator(func() string { return "s-7" }), OnChange(rec.record))

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.Snapshot().Session.UploadCount >= 2 }, time.Second, 5*time.Millisecond)
	_, err = m.Stop()
	require.NoError(t, err)

	statuses := rec.statuses()
	assert.Equal(t, "Session started: s-7", statuses[0])
	assert.Contains(t, statuses, "Collecting data for session: s-7")
	assert.Contains(t, statuses, "Session s-7: Sent 1 points")
	assert.Contains(t, statuses, "Session s-7: Sent 2 points")
}

func TestFixErrorDoesNotStopLoop(t *testing.T) {
	src := &fakeSource{errs: []error{errors.New("timeout expired"), errors.New("timeout expired")}}
	rec := &recorder{}
	m := newTestManager(t, src, &fakeUploader{}, OnChange(rec.record))

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(m.Samples()) >= 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, rec.statuses(), "Error: timeout expired")
	assert.True(t, m.Snapshot().Active())
}

func TestUploadFailureSetsStatusAndKeepsSampling(t *testing.T) {
	up := &fakeUploader{err: errors.New("connection refused")}
	m := newTestManager(t, &fakeSource{}, up)

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return up.count() >= 3 }, time.Second, 5*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, StatusSendFailed, snap.Status)
	assert.Zero(t, snap.Session.UploadCount)
	assert.GreaterOrEqual(t, snap.Session.SampleCount, 3)
}

func TestUnavailableSourceNeverLeavesIdle(t *testing.T) {
	m := newTestManager(t, gps.Unavailable{}, &fakeUploader{})
	assert.Equal(t, StatusUnsupported, m.Snapshot().Status)

	_, err := m.Start(context.Background())
	assert.ErrorIs(t, err, gps.ErrUnavailable)
	assert.Equal(t, Idle, m.Snapshot().State)
	assert.Equal(t, StatusUnsupported, m.Snapshot().Status)
}

func TestStaleUploadIsDiscardedAfterStop(t *testing.T) {
	up := &fakeUploader{block: make(chan struct{})}
	ids := []string{"old", "new"}
	var idx int
	m := newTestManager(t, &fakeSource{}, up, WithIDGenerator(func() string {
		id := ids[idx]
		idx++
		return id
	}))

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(m.Samples()) >= 1 }, time.Second, 5*time.Millisecond)
	_, err = m.Stop()
	require.NoError(t, err)

	_, err = m.Start(context.Background())
	require.NoError(t, err)
	_, err = m.Stop()
	require.NoError(t, err)
	close(up.block)
	m.uploads.Wait()

	snap := m.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Zero(t, snap.Session.UploadCount)
	assert.Equal(t, "Session ended: new (0 points uploaded)", snap.Status)
}

func TestNoStateChangeAfterStop(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(t, &fakeSource{}, &fakeUploader{}, OnChange(rec.record))

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(m.Samples()) >= 1 }, time.Second, 5*time.Millisecond)
	_, err = m.Stop()
	require.NoError(t, err)
	m.uploads.Wait()

	before := m.Snapshot()
	assert.Never(t, func() bool { return m.Snapshot() != before }, 5*testInterval, testInterval)
}

func TestParentCancelStopsSampling(t *testing.T) {
	src := &fakeSource{}
	m := newTestManager(t, src, &fakeUploader{})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := m.Start(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(m.Samples()) >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	time.Sleep(2 * testInterval)
	n := len(m.Samples())
	assert.Never(t, func() bool { return len(m.Samples()) != n }, 5*testInterval, testInterval)
}
