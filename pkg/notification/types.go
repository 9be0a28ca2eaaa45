// Package notification contains the public domain models for the push relay.
package notification

import (
	"errors"
	"strings"
	"time"
)

// Category groups notifications for client-side action handling.
// The mobile client registers actions against these identifiers, so the
// set is closed: new values require a matching client release.
type Category string

const (
	CategoryMessage  Category = "MESSAGE_CATEGORY"
	CategoryReminder Category = "REMINDER_CATEGORY"
	CategorySystem   Category = "SYSTEM_CATEGORY"
)

// DefaultSound is used when a notification does not name a sound file.
const DefaultSound = "default"

// Notification is the platform-neutral content of a single push.
// Data fields are merged into the top level of the delivered payload
// (outside the alert envelope) for client-side routing.
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Subtitle string            `json:"subtitle,omitempty"`
	Category Category          `json:"category,omitempty"`
	Badge    *int              `json:"badge,omitempty"` // nil = don't change
	Sound    string            `json:"sound,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

var (
	ErrEmptyTitle = errors.New("notification title must not be empty")
	ErrEmptyBody  = errors.New("notification body must not be empty")
)

// Validate rejects notifications that would be dropped by the gateway anyway.
// It runs before any network attempt.
func (n Notification) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return ErrEmptyTitle
	}
	if strings.TrimSpace(n.Body) == "" {
		return ErrEmptyBody
	}
	return nil
}

// DeviceMetadata carries the optional descriptive fields a client reports
// when registering. Empty fields are "unknown", not "clear".
type DeviceMetadata struct {
	DeviceName  string `json:"deviceName,omitempty"`
	DeviceModel string `json:"deviceModel,omitempty"`
	OSVersion   string `json:"osVersion,omitempty"`
	AppVersion  string `json:"appVersion,omitempty"`
}

// RegisteredDevice is one mobile endpoint capable of receiving pushes.
// The token is the registry key; RegisteredAt never changes after the
// first registration, LastSeenAt moves on every registration and on
// every successful delivery.
type RegisteredDevice struct {
	Token        string    `json:"token"`
	DeviceName   string    `json:"deviceName,omitempty"`
	DeviceModel  string    `json:"deviceModel,omitempty"`
	OSVersion    string    `json:"osVersion,omitempty"`
	AppVersion   string    `json:"appVersion,omitempty"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
}

// SendResult is the outcome of one delivery attempt. It is always a
// value: transport and gateway failures are captured in Error, never
// raised past the dispatcher boundary.
type SendResult struct {
	DeviceToken string `json:"deviceToken"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// BatchResult aggregates a fan-out. Successful counts results with
// Success == true; Results always holds one entry per requested token.
type BatchResult struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Results    []SendResult `json:"results"`
}

// MaskToken shortens a device token for logs and API responses so the
// full delivery address never crosses an external boundary.
func MaskToken(token string) string {
	if len(token) <= 16 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "..." + token[len(token)-8:]
}
