package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredLogger(t *testing.T) {
	t.Run("writes JSON with level and attributes", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewStructuredLogger(&buf, slog.LevelInfo)

		logger.Info("poll finished", slog.String("component", "station_feed"), slog.Int("count", 12))

		out := buf.String()
		assert.Contains(t, out, `"level":"INFO"`)
		assert.Contains(t, out, `"msg":"poll finished"`)
		assert.Contains(t, out, `"component":"station_feed"`)
		assert.Contains(t, out, `"count":12`)
	})

	t.Run("respects level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewStructuredLogger(&buf, slog.LevelWarn)

		logger.Info("hidden")
		logger.Warn("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestLogHelpers(t *testing.T) {
	t.Run("LogError includes error text", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewStructuredLogger(&buf, slog.LevelInfo)

		LogError(logger, "upload failed", assert.AnError, slog.String("session_id", "abc"))

		out := buf.String()
		assert.Contains(t, out, `"level":"ERROR"`)
		assert.Contains(t, out, `"msg":"upload failed"`)
		assert.Contains(t, out, `"error":"assert.AnError general error for testing"`)
		assert.Contains(t, out, `"session_id":"abc"`)
	})

	t.Run("LogOperation drops zero durations", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewStructuredLogger(&buf, slog.LevelInfo)

		LogOperation(logger, "session_started",
			slog.String("session_id", "abc"),
			slog.Duration("duration", 0))

		out := buf.String()
		assert.Contains(t, out, `"msg":"session_started"`)
		assert.NotContains(t, out, `"duration"`)
	})

	t.Run("LogOperation keeps non-zero durations", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewStructuredLogger(&buf, slog.LevelInfo)

		LogOperation(logger, "poll", slog.Duration("duration", time.Second))

		assert.Contains(t, buf.String(), `"duration"`)
	})

	t.Run("nil logger is a no-op", func(t *testing.T) {
		assert.NotPanics(t, func() {
			LogError(nil, "x", assert.AnError)
			LogOperation(nil, "x")
			LogHTTPRequest(nil, "GET", "/", 200, 1)
		})
	})

	t.Run("Component tags output", func(t *testing.T) {
		var buf bytes.Buffer
		logger := Component(NewStructuredLogger(&buf, slog.LevelInfo), "route_cache")

		logger.Info("hit")

		assert.Contains(t, buf.String(), `"component":"route_cache"`)
	})
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	ctx := WithLogger(context.Background(), logger)
	FromContext(ctx).Info("from context")
	assert.Contains(t, buf.String(), "from context")

	require.NotNil(t, FromContext(context.Background()))
}

type failingCloser struct{}

func (failingCloser) Close() error { return assert.AnError }

func TestSafeCloseWithLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	SafeCloseWithLogging(failingCloser{}, logger, "http_response_body")

	out := buf.String()
	assert.Contains(t, out, `"msg":"failed to close resource"`)
	assert.Contains(t, out, `"operation":"http_response_body"`)

	assert.NotPanics(t, func() { SafeCloseWithLogging(nil, logger, "noop") })
}
