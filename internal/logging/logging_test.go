package logging

import (
	"context"
	"testing"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	l, err := New("debug", "console")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New("warn", "json")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))

	_, err = New("loud", "json")
	assert.Error(t, err)
	_, err = New("info", "xml")
	assert.Error(t, err)
}

func TestInterceptorLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := InterceptorLogger(zap.New(core))

	l.Log(context.Background(), logging.LevelWarn, "finished call",
		"grpc.method", "GetUser", "grpc.code", "Unauthenticated", "attempt", 2, "ok", false)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "finished call", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "GetUser", fields["grpc.method"])
	assert.Equal(t, int64(2), fields["attempt"])
	assert.Equal(t, false, fields["ok"])
}
