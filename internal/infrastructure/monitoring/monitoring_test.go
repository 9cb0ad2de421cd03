package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/turtacn/certforge/internal/config"
	"github.com/turtacn/certforge/pkg/constants"
	"github.com/turtacn/certforge/pkg/logger"
)

func TestMetrics_RecordsIntoRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRequest(constants.ResultSuccess)
	m.RecordRequest(constants.ResultSuccess)
	m.RecordRequest(constants.ResultProtocolError)
	m.RecordIssuance(constants.ResultFailure, 10*time.Millisecond)
	m.RecordCoalesced()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.RecordInboxCallback(constants.ResultFailure)
	m.SetPoolBacklog(3)
	m.SetCacheEntries(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues(constants.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues(constants.ResultProtocolError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Issuances.WithLabelValues(constants.ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Coalesced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InboxCallbacks.WithLabelValues(constants.ResultFailure)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PoolBacklog))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.CacheEntries))
	assert.Equal(t, 1, testutil.CollectAndCount(m.IssuanceDuration))
}

func TestZapLogger_WritesContextAndComponentFields(t *testing.T) {
	var buf bytes.Buffer
	log := newZapLogger(&config.LogConfig{Level: "debug", Format: "json"}, zapcore.AddSync(&buf))

	ctx := context.WithValue(context.Background(), constants.ContextKeyConnID, uint64(42))
	ctx = context.WithValue(ctx, constants.ContextKeyName, "alice")
	log.WithComponent("Reactor").Error(ctx, "write failed", errors.New("broken pipe"), logger.Int("bytes", 3))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "write failed", entry["msg"])
	assert.Equal(t, "Reactor", entry["component"])
	assert.Equal(t, 42.0, entry["conn_id"])
	assert.Equal(t, "alice", entry["name"])
	assert.Equal(t, 3.0, entry["bytes"])
	assert.Equal(t, "broken pipe", entry["error"])
}

func TestZapLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := newZapLogger(&config.LogConfig{Level: "warn"}, zapcore.AddSync(&buf))

	log.Info(context.Background(), "hidden")
	assert.Zero(t, buf.Len())

	log.Warn(context.Background(), "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestTracingManager_Disabled(t *testing.T) {
	tm, err := NewTracingManager(&config.TracingConfig{ServiceName: "certforge"}, logger.NewNoopLogger())
	require.NoError(t, err)
	assert.NotNil(t, tm.Tracer())
	assert.NoError(t, tm.Shutdown(context.Background()))
}
