package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/aaghdai/nominal/pkg/log"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		"debug":   {input: "debug", want: slog.LevelDebug},
		"upper":   {input: "INFO", want: slog.LevelInfo},
		"warning": {input: "warning", want: slog.LevelWarn},
		"error":   {input: "error", want: slog.LevelError},
		"empty":   {input: "", want: slog.LevelInfo},
		"unknown": {input: "verbose", wantErr: true},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := log.ParseLevel(tc.input)
			if tc.wantErr {
				require.ErrorIs(t, err, log.ErrUnknownLogLevel)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	got, err := log.ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, log.FormatJSON, got)

	got, err = log.ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, log.FormatText, got)

	_, err = log.ParseFormat("xml")
	require.ErrorIs(t, err, log.ErrUnknownLogFormat)
}

func TestNewHandler(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer

		h, err := log.NewHandler(&buf, "warn", "json")
		require.NoError(t, err)

		logger := slog.New(h)
		logger.Info("hidden")
		logger.Warn("shown", slog.String("rule_id", "W2"))

		var got map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "shown", got["msg"])
		assert.Equal(t, "W2", got["rule_id"])
	})

	t.Run("text", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer

		h, err := log.NewHandler(&buf, "info", "text")
		require.NoError(t, err)

		slog.New(h).Info("document matched", slog.String("rule_id", "W2"))
		assert.Contains(t, buf.String(), "document matched")
		assert.Contains(t, buf.String(), "rule_id=W2")
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		_, err := log.NewHandler(&bytes.Buffer{}, "info", "xml")
		require.ErrorIs(t, err, log.ErrInvalidArgument)

		_, err = log.NewHandler(&bytes.Buffer{}, "loud", "json")
		require.ErrorIs(t, err, log.ErrInvalidArgument)
	})
}

func TestWithContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, nil)).With(slog.String("run", "r1"))
	ctx := log.NewContext(t.Context(), logger)

	traceID, err := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0123456789abcdef")
	require.NoError(t, err)

	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	log.WithContext(ctx).InfoContext(ctx, "hello")

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "r1", got["run"])
	assert.Equal(t, "01234567", got["trace_id"])

	assert.Equal(t, slog.Default(), log.WithContext(context.Background()))
}

func TestTee(t *testing.T) {
	t.Parallel()

	var debug, warn bytes.Buffer

	logger := slog.New(log.Tee(
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)).With(slog.String("document", "a.pdf")).WithGroup("g")

	logger.Debug("reading")
	logger.Warn("unreadable", slog.Int("n", 1))

	assert.Contains(t, debug.String(), "msg=reading")
	assert.Contains(t, debug.String(), "msg=unreadable")
	assert.NotContains(t, warn.String(), "reading")
	assert.Contains(t, warn.String(), "document=a.pdf")
	assert.Contains(t, warn.String(), "g.n=1")
}
