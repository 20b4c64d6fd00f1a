package gps

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSpec(t *testing.T) {
	t.Run("none is unavailable", func(t *testing.T) {
		for _, spec := range []string{"", "none", "NONE"} {
			src, err := FromSpec(spec)
			require.NoError(t, err)
			assert.False(t, src.Available())
			_, err = src.Fix(context.Background())
			assert.ErrorIs(t, err, ErrUnavailable)
		}
	})

	t.Run("static with default accuracy", func(t *testing.T) {
		src, err := FromSpec("static:53.3498,-6.2603")
		require.NoError(t, err)
		require.True(t, src.Available())

		fix, err := src.Fix(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 53.3498, fix.Latitude)
		assert.Equal(t, -6.2603, fix.Longitude)
		assert.Equal(t, defaultStaticAccuracy, fix.Accuracy)
		assert.False(t, fix.At.IsZero())
	})

	t.Run("static with accuracy", func(t *testing.T) {
		src, err := FromSpec("static: 53.3498, -6.2603, 4.5")
		require.NoError(t, err)
		fix, err := src.Fix(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 4.5, fix.Accuracy)
	})

	t.Run("invalid specs", func(t *testing.T) {
		for _, spec := range []string{"static:1", "static:a,b", "static:91,0", "replay:", "gpsd:localhost"} {
			_, err := FromSpec(spec)
			assert.Error(t, err, spec)
		}
	})

	t.Run("replay from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "track.csv")
		require.NoError(t, os.WriteFile(path, []byte("timestamp,latitude,longitude,accuracy\n1,53.1,-6.1,5\n"), 0o600))

		src, err := FromSpec("replay:" + path)
		require.NoError(t, err)
		fix, err := src.Fix(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 53.1, fix.Latitude)
	})
}

func TestStaticHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewStatic(1, 2, 3).Fix(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadReplay(t *testing.T) {
	t.Run("plays fixes in order and wraps", func(t *testing.T) {
		track := strings.Join([]string{
			"timestamp,latitude,longitude,accuracy",
			"2025-03-10T08:00:00Z,53.3498,-6.2603,5",
			"2025-03-10T08:00:01Z,53.3500,-6.2600,6",
		}, "\n")
		r, err := LoadReplay(strings.NewReader(track))
		require.NoError(t, err)
		require.Equal(t, 2, r.Len())

		ctx := context.Background()
		first, err := r.Fix(ctx)
		require.NoError(t, err)
		second, err := r.Fix(ctx)
		require.NoError(t, err)
		third, err := r.Fix(ctx)
		require.NoError(t, err)

		assert.Equal(t, 53.3498, first.Latitude)
		assert.Equal(t, 6.0, second.Accuracy)
		assert.Equal(t, first.Latitude, third.Latitude)
	})

	t.Run("accepts bare lat,lon rows", func(t *testing.T) {
		r, err := LoadReplay(strings.NewReader("53.3,-6.2\n53.4,-6.3,7\n"))
		require.NoError(t, err)
		assert.Equal(t, 2, r.Len())
	})

	t.Run("rejects bad rows", func(t *testing.T) {
		_, err := LoadReplay(strings.NewReader("53.3,-6.2\nnot,a,number\n"))
		assert.Error(t, err)

		_, err = LoadReplay(strings.NewReader("1,2,3,4,5\n"))
		assert.Error(t, err)
	})

	t.Run("rejects empty track", func(t *testing.T) {
		_, err := LoadReplay(strings.NewReader("timestamp,latitude,longitude,accuracy\n"))
		assert.Error(t, err)
	})
}
