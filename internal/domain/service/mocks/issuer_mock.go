package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/turtacn/certforge/internal/domain/models"
)

// MockIssuer is a mock implementation of Issuer
type MockIssuer struct {
	mock.Mock
}

func (m *MockIssuer) Issue(ctx context.Context, name string) (*models.CredentialBundle, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CredentialBundle), args.Error(1)
}
