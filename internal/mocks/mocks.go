package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/api"
	"chat-sync/internal/models"
	"chat-sync/internal/transport"
)

type APIClientMock struct {
	mock.Mock
}

func (m *APIClientMock) FetchHistory(ctx context.Context, peer string) ([]models.Message, error) {
	args := m.Called(ctx, peer)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *APIClientMock) SendMessage(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *APIClientMock) FetchDailyUsage(ctx context.Context) (models.Usage, error) {
	args := m.Called(ctx)
	var usage models.Usage
	if val := args.Get(0); val != nil {
		usage = val.(models.Usage)
	}
	return usage, args.Error(1)
}

type ConnectionMock struct {
	mock.Mock
}

func (m *ConnectionMock) Connect(ctx context.Context, credential string) error {
	args := m.Called(ctx, credential)
	return args.Error(0)
}

func (m *ConnectionMock) Subscribe(topic string, h transport.Handler) (transport.Handle, error) {
	args := m.Called(topic, h)
	var handle transport.Handle
	if val := args.Get(0); val != nil {
		handle = val.(transport.Handle)
	}
	return handle, args.Error(1)
}

func (m *ConnectionMock) Unsubscribe(h transport.Handle) {
	m.Called(h)
}

func (m *ConnectionMock) Publish(ctx context.Context, destination string, payload []byte) error {
	args := m.Called(ctx, destination, payload)
	return args.Error(0)
}

func (m *ConnectionMock) Disconnect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *ConnectionMock) State() transport.State {
	args := m.Called()
	return args.Get(0).(transport.State)
}

func (m *ConnectionMock) Notify() <-chan transport.StateChange {
	args := m.Called()
	return args.Get(0).(<-chan transport.StateChange)
}

var _ api.Client = (*APIClientMock)(nil)
var _ transport.Connection = (*ConnectionMock)(nil)
