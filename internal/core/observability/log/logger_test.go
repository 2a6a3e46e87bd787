package log

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved(level Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewWithCore(core, level), logs
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"":        LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
		"fatal":   LevelFatal,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestLogger_LevelFiltering(t *testing.T) {
	logger, logs := newObserved(LevelWarn)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown", String("conn", "c1"))
	logger.Error("shown too", Error(errors.New("boom")))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "shown", entries[0].Message)
	assert.Equal(t, "c1", entries[0].ContextMap()["conn"])
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])

	logger.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, logger.GetLevel())
	logger.Debug("now visible")
	assert.Equal(t, 1, logs.FilterMessage("now visible").Len())
}

func TestLogger_FieldTypes(t *testing.T) {
	logger, logs := newObserved(LevelDebug)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	logger.Info("typed",
		Bool("ok", true),
		Int("n", 3),
		Int64("n64", 4),
		Uint("u", 5),
		Uint64("u64", 6),
		Float64("f", 1.5),
		Duration("d", time.Second),
		Time("at", at),
		Strings("ids", []string{"a", "b"}),
		Any("any", map[string]int{"x": 1}),
	)

	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, true, ctx["ok"])
	assert.EqualValues(t, 3, ctx["n"])
	assert.EqualValues(t, 6, ctx["u64"])
	assert.Equal(t, time.Second, ctx["d"])
	loggedAt, ok := ctx["at"].(time.Time)
	require.True(t, ok)
	assert.True(t, at.Equal(loggedAt))
}

func TestLogger_WithAndContext(t *testing.T) {
	logger, logs := newObserved(LevelInfo)

	child := logger.With(String("component", "delivery"))
	ctx := ContextWith(context.Background(), String("connection_id", "c7"))
	child.WithContext(ctx).Info("hello")

	entry := logs.All()[0]
	assert.Equal(t, "delivery", entry.ContextMap()["component"])
	assert.Equal(t, "c7", entry.ContextMap()["connection_id"])

	assert.Same(t, logger, logger.WithContext(context.Background()))
}

func TestNewWithConfig_RejectsUnknownEncoding(t *testing.T) {
	_, err := NewWithConfig(Config{Level: "info", Encoding: "xml"})
	assert.Error(t, err)

	_, err = NewWithConfig(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	logger := NewNop()
	logger.Error("discarded")
	assert.NotNil(t, Provide())
}
