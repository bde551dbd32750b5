package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	args := m.Called(ctx, routingKey, event, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

type IdempotencyStoreMock struct {
	mock.Mock
}

func (m *IdempotencyStoreMock) Lookup(ctx context.Context, key string) (int, error) {
	args := m.Called(ctx, key)
	return args.Int(0), args.Error(1)
}

func (m *IdempotencyStoreMock) Remember(ctx context.Context, key string, messageID int) error {
	args := m.Called(ctx, key, messageID)
	return args.Error(0)
}
