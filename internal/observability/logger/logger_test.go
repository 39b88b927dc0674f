package logger

import (
	"context"
	"testing"
	"time"

	obscontext "github.com/smallbiznis/campaigncredit/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsOnlyKnownIDs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	WithContext(context.Background(), base).Info("background")

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithActor(ctx, "api_key", "key_T")
	WithContext(ctx, base).Info("request")

	entries := logs.TakeAll()
	assert.Len(t, entries, 2)
	assert.Empty(t, entries[0].Context)

	fields := entries[1].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "api_key", fields["actor_type"])
	assert.Equal(t, "key_T", fields["actor_id"])
	assert.NotContains(t, fields, "tenant_id")
	assert.NotContains(t, fields, "trace_id")
}

func TestSamplingDefaults(t *testing.T) {
	initial, thereafter, window := samplingOrDefault(Config{})
	assert.Equal(t, 100, initial)
	assert.Equal(t, 100, thereafter)
	assert.Equal(t, time.Second, window)

	initial, _, _ = samplingOrDefault(Config{SamplingInitial: 5})
	assert.Equal(t, 5, initial)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(nil, Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewAppliesLevelAndServiceFields(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	log, err := New(nil, Config{Level: "warn", Format: "console"})
	assert.NoError(t, err)
	assert.False(t, log.Core().Enabled(zap.InfoLevel))
	assert.True(t, log.Core().Enabled(zap.WarnLevel))
	assert.Same(t, log, zap.L())
}
