package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// Dispatcher defines the contract for a component that can deliver a
// notification to the push gateway. Implementations report outcomes as
// values; a failed delivery is a result, not an error.
type Dispatcher interface {
	// Send delivers one notification to one device token.
	Send(ctx context.Context, deviceToken string, n notification.Notification) notification.SendResult

	// SendAll delivers one notification to each token concurrently and
	// waits for all deliveries to complete. No ordering guarantee, no
	// per-token retry.
	SendAll(ctx context.Context, deviceTokens []string, n notification.Notification) notification.BatchResult
}

// DeviceRegistry defines the contract for the durable device set.
// It allows the service to remember "where" to send notifications.
type DeviceRegistry interface {
	// Register upserts a device. Re-registering merges non-empty metadata
	// over the existing record and never changes RegisteredAt.
	Register(token string, meta notification.DeviceMetadata)

	// Unregister removes a device, reporting whether a record existed.
	Unregister(token string) bool

	// Touch bumps LastSeenAt after a successful delivery, reporting
	// whether the token was registered.
	Touch(token string) bool

	Count() int
	List() []notification.RegisteredDevice
}
