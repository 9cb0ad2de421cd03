// Package audit implements the AuditSink interface using Kafka.
package audit

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/certforge/internal/config"
	"github.com/turtacn/certforge/internal/domain/models"
	"github.com/turtacn/certforge/internal/domain/service"
	"github.com/turtacn/certforge/pkg/errors"
	"github.com/turtacn/certforge/pkg/logger"
)

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer is a Kafka-backed implementation of the AuditSink.
type KafkaProducer struct {
	writer messageWriter
	logger logger.Logger
}

// NewKafkaProducer creates a new KafkaProducer.
func NewKafkaProducer(cfg config.AuditConfig, logger logger.Logger) (service.AuditSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New(errors.CodeConfig, "audit sink requires brokers and a topic")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}
	return newKafkaProducer(writer, logger), nil
}

func newKafkaProducer(writer messageWriter, log logger.Logger) *KafkaProducer {
	return &KafkaProducer{
		writer: writer,
		logger: log.WithComponent("KafkaProducer"),
	}
}

// Record sends an audit event to the Kafka topic, keyed by the credential name.
func (p *KafkaProducer) Record(ctx context.Context, event models.AuditEvent) error {
	bytes, err := json.Marshal(event)
	if err != nil {
		p.logger.Error(ctx, "failed to marshal audit event", err)
		return errors.Wrap(err, errors.CodeInternal, "marshal audit event")
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Name),
		Value: bytes,
	})
	if err != nil {
		p.logger.Error(ctx, "failed to write message to Kafka", err, logger.String("event_id", event.ID))
		return errors.Wrap(err, errors.CodeTransport, "write audit event")
	}
	return nil
}

// Close closes the underlying Kafka writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
