package trip

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/backend"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/bikeshare"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/credential"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/metrics"
)

type fakeClient struct {
	mu      sync.Mutex
	calls   [][2]string
	err     error
	release chan struct{}
	entered chan struct{}
}

func (f *fakeClient) PlanTrip(ctx context.Context, token, pickup, destination string) (bikeshare.TripPlan, error) {
	f.mu.Lock()
	f.calls = append(f.calls, [2]string{pickup, destination})
	err, release, entered := f.err, f.release, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return bikeshare.TripPlan{}, err
	}
	return bikeshare.TripPlan{
		Pickup:      bikeshare.StationRef{Name: pickup},
		Destination: bikeshare.StationRef{Name: destination},
		DistanceM:   1500,
		ETASec:      360,
	}, nil
}

var inventory = []bikeshare.Station{
	{Name: "Station A", NumDocksAvailable: 5},
	{Name: "Station B", NumDocksAvailable: 3},
	{Name: "Full Station", NumDocksAvailable: 0},
	{Name: "Grand Canal Dock", NumDocksAvailable: 12},
}

func newTestPlanner(c Client, opts ...Option) *Planner {
	opts = append([]Option{WithMetrics(metrics.NewCollector(time.Second, time.Second))}, opts...)
	p := NewPlanner(c, credential.NewStore("tok"), opts...)
	p.SetStations(inventory)
	return p
}

func TestOpenRequiresNearestStation(t *testing.T) {
	p := newTestPlanner(&fakeClient{})
	assert.False(t, p.CanOpen())
	assert.ErrorIs(t, p.Open(), ErrNoNearestStation)

	p.SetNearest("Station A")
	assert.True(t, p.CanOpen())
	require.NoError(t, p.Open())
	assert.Equal(t, Browsing, p.View().Phase)
}

func TestCandidatesFilterDocksAndName(t *testing.T) {
	p := newTestPlanner(&fakeClient{})

	names := func(ss []bikeshare.Station) []string {
		out := make([]string, 0, len(ss))
		for _, s := range ss {
			out = append(out, s.Name)
		}
		return out
	}

	assert.Equal(t, []string{"Station A", "Station B", "Grand Canal Dock"}, names(p.Candidates()))
	assert.Equal(t, []string{"Station A", "Station B"}, names(p.Search("STATION")))
	assert.Equal(t, []string{"Grand Canal Dock"}, names(p.Search("canal")))
	assert.Empty(t, p.Search("full"))
	assert.Equal(t, "full", p.View().Query)
}

func TestSubmitSuccessClosesPanel(t *testing.T) {
	c := &fakeClient{}
	var planned []bikeshare.TripPlan
	p := newTestPlanner(c, OnPlan(func(tp bikeshare.TripPlan) { planned = append(planned, tp) }))
	p.SetNearest("Station A")
	require.NoError(t, p.Open())

	plan, err := p.Submit(context.Background(), "Station B")
	require.NoError(t, err)
	assert.Equal(t, "Station A", plan.Pickup.Name)
	assert.Equal(t, "Station B", plan.Destination.Name)

	v := p.View()
	assert.Equal(t, Closed, v.Phase)
	require.NotNil(t, v.Plan)
	assert.Equal(t, "Station B", v.Plan.Destination.Name)
	assert.Len(t, planned, 1)
	assert.Equal(t, [][2]string{{"Station A", "Station B"}}, c.calls)
}

func TestSubmitRejectionKeepsPanelOpen(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"backend message", &backend.RejectedError{Status: "error", Message: "No route between stations"}, "No route between stations"},
		{"transport failure", errors.New("connection reset"), FailedMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeClient{err: tt.err}
			p := newTestPlanner(c)
			p.SetNearest("Station A")
			require.NoError(t, p.Open())

			_, err := p.Submit(context.Background(), "Station B")
			require.Error(t, err)
			v := p.View()
			assert.Equal(t, Browsing, v.Phase)
			assert.Equal(t, tt.want, v.Error)
			assert.Nil(t, v.Plan)

			c.mu.Lock()
			c.err = nil
			c.mu.Unlock()
			_, err = p.Submit(context.Background(), "Grand Canal Dock")
			require.NoError(t, err)
			assert.Empty(t, p.View().Error)
		})
	}
}

func TestSubmitPreconditions(t *testing.T) {
	p := newTestPlanner(&fakeClient{})
	_, err := p.Submit(context.Background(), "Station B")
	assert.ErrorIs(t, err, ErrNotOpen)

	p.SetNearest("Station A")
	require.NoError(t, p.Open())
	_, err = p.Submit(context.Background(), "Full Station")
	assert.ErrorIs(t, err, ErrUnknownDestination)
	_, err = p.Submit(context.Background(), "Nowhere")
	assert.ErrorIs(t, err, ErrUnknownDestination)
}

func TestConcurrentSubmitIsRejectedNotQueued(t *testing.T) {
	c := &fakeClient{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	p := newTestPlanner(c)
	p.SetNearest("Station A")
	require.NoError(t, p.Open())

	done := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), "Station B")
		done <- err
	}()
	<-c.entered

	assert.Equal(t, Submitting, p.View().Phase)
	_, err := p.Submit(context.Background(), "Grand Canal Dock")
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, p.Open(), ErrBusy)

	close(c.release)
	require.NoError(t, <-done)
	assert.Len(t, c.calls, 1)
}

func TestResetDiscardsInFlightResult(t *testing.T) {
	c := &fakeClient{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	p := newTestPlanner(c)
	p.SetNearest("Station A")
	require.NoError(t, p.Open())

	done := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), "Station B")
		done <- err
	}()
	<-c.entered
	p.Reset()
	close(c.release)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	_, ok := p.Plan()
	assert.False(t, ok)
	assert.Equal(t, Closed, p.View().Phase)
}

func TestClearIsIdempotent(t *testing.T) {
	p := newTestPlanner(&fakeClient{})
	p.SetNearest("Station A")
	require.NoError(t, p.Open())
	_, err := p.Submit(context.Background(), "Station B")
	require.NoError(t, err)

	p.Clear()
	p.Clear()
	_, ok := p.Plan()
	assert.False(t, ok)
}

func TestCloseDuringSubmitStillRecordsPlan(t *testing.T) {
	c := &fakeClient{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	p := newTestPlanner(c)
	p.SetNearest("Station A")
	require.NoError(t, p.Open())

	done := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), "Station B")
		done <- err
	}()
	<-c.entered
	p.Close()
	close(c.release)

	require.NoError(t, <-done)
	plan, ok := p.Plan()
	require.True(t, ok)
	assert.Equal(t, "Station B", plan.Destination.Name)
	assert.Equal(t, Closed, p.View().Phase)
}

func TestReopenWhileSubmitInFlightIsBusy(t *testing.T) {
	c := &fakeClient{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	p := newTestPlanner(c)
	p.SetNearest("Station A")
	require.NoError(t, p.Open())

	done := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), "Station B")
		done <- err
	}()
	<-c.entered
	p.Close()

	assert.ErrorIs(t, p.Open(), ErrBusy)
	_, err := p.Submit(context.Background(), "Grand Canal Dock")
	assert.ErrorIs(t, err, ErrBusy)
	v := p.View()
	assert.True(t, v.Busy)
	assert.Equal(t, Closed, v.Phase)

	close(c.release)
	require.NoError(t, <-done)

	c.mu.Lock()
	assert.Equal(t, [][2]string{{"Station A", "Station B"}}, c.calls)
	c.mu.Unlock()
	plan, ok := p.Plan()
	require.True(t, ok)
	assert.Equal(t, "Station B", plan.Destination.Name)
	assert.False(t, p.View().Busy)
	assert.NoError(t, p.Open())
}

func TestResetFreesPlannerForNewSubmit(t *testing.T) {
	c := &fakeClient{release: make(chan struct{}), entered: make(chan struct{}, 2)}
	p := newTestPlanner(c)
	p.SetNearest("Station A")
	require.NoError(t, p.Open())

	first := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), "Station B")
		first <- err
	}()
	<-c.entered
	p.Reset()
	require.NoError(t, p.Open())

	second := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), "Grand Canal Dock")
		second <- err
	}()
	<-c.entered
	close(c.release)

	assert.ErrorIs(t, <-first, ErrSuperseded)
	require.NoError(t, <-second)
	plan, ok := p.Plan()
	require.True(t, ok)
	assert.Equal(t, "Grand Canal Dock", plan.Destination.Name)
	assert.False(t, p.View().Busy)
}
