package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/turtacn/certforge/internal/domain/models"
)

// MockAuditSink is a mock implementation of AuditSink
type MockAuditSink struct {
	mock.Mock
}

func (m *MockAuditSink) Record(ctx context.Context, event models.AuditEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockAuditSink) Close() error {
	args := m.Called()
	return args.Error(0)
}
