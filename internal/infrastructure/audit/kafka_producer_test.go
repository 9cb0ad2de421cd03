package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/certforge/internal/config"
	"github.com/turtacn/certforge/internal/domain/models"
	cferrors "github.com/turtacn/certforge/pkg/errors"
	"github.com/turtacn/certforge/pkg/logger"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaProducer_Record(t *testing.T) {
	writer := &fakeWriter{}
	producer := newKafkaProducer(writer, logger.NewNoopLogger())

	event := models.AuditEvent{
		ID:       "evt-1",
		Name:     "alice",
		Success:  true,
		Duration: 2 * time.Second,
		At:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, producer.Record(context.Background(), event))

	require.Len(t, writer.messages, 1)
	assert.Equal(t, []byte("alice"), writer.messages[0].Key)

	var decoded models.AuditEvent
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, event.Name, decoded.Name)
	assert.True(t, decoded.Success)
	assert.Equal(t, event.Duration, decoded.Duration)
	assert.True(t, event.At.Equal(decoded.At))

	require.NoError(t, producer.Close())
	assert.True(t, writer.closed)
}

func TestKafkaProducer_RecordWriteFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker unavailable")}
	producer := newKafkaProducer(writer, logger.NewNoopLogger())

	err := producer.Record(context.Background(), models.AuditEvent{ID: "evt-2", Name: "bob"})
	require.Error(t, err)
	assert.True(t, cferrors.IsCode(err, cferrors.CodeTransport))
}

func TestNewKafkaProducer_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaProducer(config.AuditConfig{Topic: "t"}, logger.NewNoopLogger())
	assert.True(t, cferrors.IsCode(err, cferrors.CodeConfig))

	sink, err := NewKafkaProducer(config.AuditConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, logger.NewNoopLogger())
	require.NoError(t, err)
	assert.NoError(t, sink.Close())
}

func TestLogSink_Record(t *testing.T) {
	sink := NewLogSink(logger.NewNoopLogger())
	assert.NoError(t, sink.Record(context.Background(), models.AuditEvent{Name: "x", Success: false, Error: "boom"}))
	assert.NoError(t, sink.Close())
}
