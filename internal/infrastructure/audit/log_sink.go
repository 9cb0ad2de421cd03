package audit

import (
	"context"

	"github.com/turtacn/certforge/internal/domain/models"
	"github.com/turtacn/certforge/internal/domain/service"
	"github.com/turtacn/certforge/pkg/logger"
)

// LogSink writes audit events to the structured log. It is used when Kafka is not configured.
type LogSink struct {
	logger logger.Logger
}

// NewLogSink creates a new LogSink.
func NewLogSink(log logger.Logger) service.AuditSink {
	return &LogSink{logger: log.WithComponent("Audit")}
}

// Record logs the event at info level, or warn level for failures.
func (s *LogSink) Record(ctx context.Context, event models.AuditEvent) error {
	fields := []logger.Field{
		logger.String("event_id", event.ID),
		logger.String("name", event.Name),
		logger.Bool("success", event.Success),
		logger.Duration("duration", event.Duration),
	}
	if event.Success {
		s.logger.Info(ctx, "credential issued", fields...)
		return nil
	}
	fields = append(fields, logger.String("reason", event.Error))
	s.logger.Warn(ctx, "credential issuance failed", fields...)
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error { return nil }
