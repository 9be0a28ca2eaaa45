// Package pushrelay is the orchestration façade over the device registry
// and the gateway dispatcher. Each send is a stateless request: targets
// are resolved at call time and every per-device outcome comes back as a
// value, so a batch caller always sees partial success explicitly.
package pushrelay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// Service wires registry lookups to dispatcher deliveries. It holds no
// persistent state of its own.
type Service struct {
	registry   dispatch.DeviceRegistry
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger
}

// New assembles the service.
func New(registry dispatch.DeviceRegistry, dispatcher dispatch.Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger.With("component", "NotificationService"),
	}
}

// SendToDevice delivers one notification to one token. The returned error
// is a validation failure only; delivery outcomes live in the result.
func (s *Service) SendToDevice(ctx context.Context, deviceToken string, n notification.Notification) (notification.SendResult, error) {
	if err := n.Validate(); err != nil {
		return notification.SendResult{}, fmt.Errorf("invalid notification: %w", err)
	}

	result := s.dispatcher.Send(ctx, deviceToken, n)
	s.recordOutcome(result)
	return result, nil
}

// SendToDevices fans one notification out to an explicit token list.
func (s *Service) SendToDevices(ctx context.Context, deviceTokens []string, n notification.Notification) (notification.BatchResult, error) {
	if err := n.Validate(); err != nil {
		return notification.BatchResult{}, fmt.Errorf("invalid notification: %w", err)
	}

	batch := s.dispatcher.SendAll(ctx, deviceTokens, n)
	for _, result := range batch.Results {
		s.recordOutcome(result)
	}
	s.logger.Info("batch dispatched", "total", batch.Total, "successful", batch.Successful)
	return batch, nil
}

// SendToAllRegistered broadcasts to a snapshot of the registry taken at
// call time. Devices registered after resolution are not included.
func (s *Service) SendToAllRegistered(ctx context.Context, n notification.Notification) (notification.BatchResult, error) {
	if err := n.Validate(); err != nil {
		return notification.BatchResult{}, fmt.Errorf("invalid notification: %w", err)
	}

	devices := s.registry.List()
	tokens := make([]string, len(devices))
	for i, d := range devices {
		tokens[i] = d.Token
	}
	return s.SendToDevices(ctx, tokens, n)
}

// SendMessageNotification is the convenience path the webhook layer uses
// for conversational message alerts: fixed category, default routing data.
func (s *Service) SendMessageNotification(ctx context.Context, title, body string) (notification.BatchResult, error) {
	return s.SendToAllRegistered(ctx, notification.Notification{
		Title:    title,
		Body:     body,
		Category: notification.CategoryMessage,
		Sound:    notification.DefaultSound,
		Data:     map[string]string{"type": "message"},
	})
}

// recordOutcome bumps LastSeenAt for devices that accepted a delivery.
// Gateway-reported dead tokens are logged but never auto-pruned here;
// registry transitions happen only through explicit register/unregister.
func (s *Service) recordOutcome(result notification.SendResult) {
	if !result.Success {
		return
	}
	s.registry.Touch(result.DeviceToken)
}
