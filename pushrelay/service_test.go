package pushrelay_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-relay/internal/storage/file"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
	"github.com/tinywideclouds/go-push-relay/pushrelay"
)

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Send(ctx context.Context, deviceToken string, n notification.Notification) notification.SendResult {
	args := m.Called(ctx, deviceToken, n)
	return args.Get(0).(notification.SendResult)
}

func (m *MockDispatcher) SendAll(ctx context.Context, deviceTokens []string, n notification.Notification) notification.BatchResult {
	args := m.Called(ctx, deviceTokens, n)
	return args.Get(0).(notification.BatchResult)
}

func newTestService(t *testing.T) (*pushrelay.Service, *file.DeviceRegistry, *MockDispatcher) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := file.NewDeviceRegistry(filepath.Join(t.TempDir(), "devices.json"), logger)
	dispatcher := new(MockDispatcher)
	return pushrelay.New(registry, dispatcher, logger), registry, dispatcher
}

func okBatch(tokens ...string) notification.BatchResult {
	results := make([]notification.SendResult, len(tokens))
	for i, tok := range tokens {
		results[i] = notification.SendResult{DeviceToken: tok, Success: true}
	}
	return notification.BatchResult{Total: len(tokens), Successful: len(tokens), Results: results}
}

func TestService_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("Empty title fails fast", func(t *testing.T) {
		svc, _, dispatcher := newTestService(t)

		_, err := svc.SendToDevice(ctx, "tok", notification.Notification{Title: "  ", Body: "b"})

		assert.ErrorIs(t, err, notification.ErrEmptyTitle)
		dispatcher.AssertNotCalled(t, "Send")
	})

	t.Run("Empty body fails fast on broadcast", func(t *testing.T) {
		svc, _, dispatcher := newTestService(t)

		_, err := svc.SendToAllRegistered(ctx, notification.Notification{Title: "t"})

		assert.ErrorIs(t, err, notification.ErrEmptyBody)
		dispatcher.AssertNotCalled(t, "SendAll")
	})
}

func TestService_SendToDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("Success bumps LastSeenAt for registered devices", func(t *testing.T) {
		svc, registry, dispatcher := newTestService(t)
		registry.Register("tok1", notification.DeviceMetadata{})
		before := registry.List()[0].LastSeenAt

		dispatcher.On("Send", mock.Anything, "tok1", mock.Anything).
			Return(notification.SendResult{DeviceToken: "tok1", Success: true})

		time.Sleep(5 * time.Millisecond)
		result, err := svc.SendToDevice(ctx, "tok1", notification.Notification{Title: "t", Body: "b"})

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.True(t, registry.List()[0].LastSeenAt.After(before))
		dispatcher.AssertExpectations(t)
	})

	t.Run("Failure leaves the registry untouched", func(t *testing.T) {
		svc, registry, dispatcher := newTestService(t)
		registry.Register("tok1", notification.DeviceMetadata{})
		before := registry.List()[0].LastSeenAt

		dispatcher.On("Send", mock.Anything, "tok1", mock.Anything).
			Return(notification.SendResult{DeviceToken: "tok1", Success: false, Error: "Unregistered"})

		result, err := svc.SendToDevice(ctx, "tok1", notification.Notification{Title: "t", Body: "b"})

		require.NoError(t, err, "delivery failure is a result, not an error")
		assert.False(t, result.Success)
		assert.True(t, registry.List()[0].LastSeenAt.Equal(before))
		assert.Equal(t, 1, registry.Count(), "gateway-reported failures never auto-unregister")
	})
}

func TestService_SendToAllRegistered(t *testing.T) {
	ctx := context.Background()

	t.Run("Targets a snapshot of the registry", func(t *testing.T) {
		svc, registry, dispatcher := newTestService(t)
		registry.Register("tok1", notification.DeviceMetadata{})
		registry.Register("tok2", notification.DeviceMetadata{})
		registry.Register("tok3", notification.DeviceMetadata{})

		dispatcher.On("SendAll", mock.Anything, mock.MatchedBy(func(tokens []string) bool {
			return len(tokens) == 3
		}), mock.Anything).Return(notification.BatchResult{
			Total:      3,
			Successful: 2,
			Results: []notification.SendResult{
				{DeviceToken: "tok1", Success: true},
				{DeviceToken: "tok2", Success: false, Error: "Unregistered"},
				{DeviceToken: "tok3", Success: true},
			},
		})

		batch, err := svc.SendToAllRegistered(ctx, notification.Notification{Title: "t", Body: "b"})

		require.NoError(t, err)
		assert.Equal(t, 3, batch.Total)
		assert.Equal(t, 2, batch.Successful)
		require.Len(t, batch.Results, 3)
		dispatcher.AssertExpectations(t)
	})
}

func TestService_SendMessageNotification(t *testing.T) {
	ctx := context.Background()
	svc, registry, dispatcher := newTestService(t)

	registry.Register("abc123", notification.DeviceMetadata{DeviceName: "iPhone 15"})
	before := registry.List()[0].LastSeenAt

	dispatcher.On("SendAll", mock.Anything, []string{"abc123"}, mock.MatchedBy(func(n notification.Notification) bool {
		return n.Category == notification.CategoryMessage &&
			n.Data["type"] == "message" &&
			n.Title == "Hello" && n.Body == "World"
	})).Return(okBatch("abc123"))

	time.Sleep(5 * time.Millisecond)
	batch, err := svc.SendMessageNotification(ctx, "Hello", "World")

	require.NoError(t, err)
	assert.Equal(t, 1, batch.Successful)

	devices := registry.List()
	require.Len(t, devices, 1)
	assert.Equal(t, "iPhone 15", devices[0].DeviceName)
	assert.True(t, devices[0].LastSeenAt.After(before), "successful delivery updates LastSeenAt")
	dispatcher.AssertExpectations(t)
}
