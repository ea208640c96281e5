package mocks

import (
	"context"

	"github.com/codinguncut/builtwith/internal/db"
	"github.com/codinguncut/builtwith/internal/detect"
	"github.com/stretchr/testify/mock"
)

// MockHistoryStore is a mock implementation of the detection history store
type MockHistoryStore struct {
	mock.Mock
}

// SaveDetection mocks the SaveDetection method
func (m *MockHistoryStore) SaveDetection(ctx context.Context, result *detect.Result) (*db.Detection, error) {
	args := m.Called(ctx, result)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Detection), args.Error(1)
}

// ListDetections mocks the ListDetections method
func (m *MockHistoryStore) ListDetections(ctx context.Context, url string, limit int) ([]db.Detection, error) {
	args := m.Called(ctx, url, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]db.Detection), args.Error(1)
}
