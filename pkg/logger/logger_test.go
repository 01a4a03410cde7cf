package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLogs перенаправляет глобальный логгер в буфер до конца теста.
func captureLogs(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	prev := Logger()
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		SetGlobalLogger(prev)
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	Init(Config{Level: level, Output: &buf})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestFromContext_AddsIDs(t *testing.T) {
	buf := captureLogs(t, "info")

	ctx := NewContextWithIDs(context.Background(), "trace-1", "corr-1")
	l := FromContext(ctx)
	l.Info().Str("intent_id", "intent-1").Msg("Интент авторизован")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "corr-1", entry["correlation_id"])
	assert.Equal(t, "intent-1", entry["intent_id"])
}

func TestNewContextWithIDs_SkipsEmpty(t *testing.T) {
	ctx := NewContextWithIDs(context.Background(), "", "corr-2")

	assert.Empty(t, TraceIDFromContext(ctx))
	assert.Equal(t, "corr-2", CorrelationIDFromContext(ctx))
}

func TestLevelFilter(t *testing.T) {
	buf := captureLogs(t, "warn")

	Info().Msg("не попадёт в лог")
	Warn().Msg("попадёт")

	assert.NotContains(t, buf.String(), "не попадёт")
	assert.Contains(t, buf.String(), "попадёт")
}

func TestSetGlobalLogger(t *testing.T) {
	_ = captureLogs(t, "info")

	var buf bytes.Buffer
	SetGlobalLogger(zerolog.New(&buf).With().Str("service", "svpay").Logger())

	ctx := NewContextWithIDs(context.Background(), "trace-3", "")
	Ctx(ctx).Info().Msg("Интент подтверждён")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "svpay", entry["service"])
	assert.Equal(t, "trace-3", entry["trace_id"])

	l := Logger()
	l.Info().Msg("Интент отменён")
	assert.Contains(t, buf.String(), "Интент отменён")
}
