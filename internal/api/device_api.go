// Package api is the thin management surface the webhook/route layer
// calls into. Bearer-token authentication is enforced outside this core;
// the middleware is injected by the caller.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// Sender is the subset of the notification service the API needs.
type Sender interface {
	SendToDevice(ctx context.Context, deviceToken string, n notification.Notification) (notification.SendResult, error)
	SendToAllRegistered(ctx context.Context, n notification.Notification) (notification.BatchResult, error)
}

type DeviceAPI struct {
	Registry dispatch.DeviceRegistry
	Sender   Sender
	Logger   *slog.Logger
}

func NewDeviceAPI(registry dispatch.DeviceRegistry, sender Sender, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Registry: registry,
		Sender:   sender,
		Logger:   logger.With("component", "DeviceAPI"),
	}
}

// Router mounts the management routes behind the injected auth middleware.
func (api *DeviceAPI) Router(authMiddleware func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(authMiddleware)

	r.Post("/api/v1/devices/register", api.RegisterDevice)
	r.Post("/api/v1/devices/unregister", api.UnregisterDevice)
	r.Get("/api/v1/devices", api.ListDevices)
	r.Post("/api/v1/notifications/send", api.SendNotification)
	r.Post("/api/v1/notifications/broadcast", api.BroadcastNotification)
	return r
}

type RegisterDeviceRequest struct {
	Token       string `json:"token"`
	DeviceName  string `json:"deviceName,omitempty"`
	DeviceModel string `json:"deviceModel,omitempty"`
	OSVersion   string `json:"osVersion,omitempty"`
	AppVersion  string `json:"appVersion,omitempty"`
}

func (api *DeviceAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		writeJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	api.Registry.Register(req.Token, notification.DeviceMetadata{
		DeviceName:  req.DeviceName,
		DeviceModel: req.DeviceModel,
		OSVersion:   req.OSVersion,
		AppVersion:  req.AppVersion,
	})
	w.WriteHeader(http.StatusNoContent)
}

type UnregisterDeviceRequest struct {
	Token string `json:"token"`
}

func (api *DeviceAPI) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	var req UnregisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		writeJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	removed := api.Registry.Unregister(req.Token)
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// maskedDevice is the external representation: the full token never
// crosses this boundary.
type maskedDevice struct {
	Token        string `json:"token"`
	DeviceName   string `json:"deviceName,omitempty"`
	DeviceModel  string `json:"deviceModel,omitempty"`
	OSVersion    string `json:"osVersion,omitempty"`
	AppVersion   string `json:"appVersion,omitempty"`
	RegisteredAt string `json:"registeredAt"`
	LastSeenAt   string `json:"lastSeenAt"`
}

func (api *DeviceAPI) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices := api.Registry.List()
	masked := make([]maskedDevice, len(devices))
	for i, d := range devices {
		masked[i] = maskedDevice{
			Token:        notification.MaskToken(d.Token),
			DeviceName:   d.DeviceName,
			DeviceModel:  d.DeviceModel,
			OSVersion:    d.OSVersion,
			AppVersion:   d.AppVersion,
			RegisteredAt: d.RegisteredAt.Format(time.RFC3339),
			LastSeenAt:   d.LastSeenAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(masked),
		"devices": masked,
	})
}

type SendNotificationRequest struct {
	Token string `json:"token,omitempty"`
	notification.Notification
}

func (api *DeviceAPI) SendNotification(w http.ResponseWriter, r *http.Request) {
	var req SendNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		writeJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	result, err := api.Sender.SendToDevice(r.Context(), req.Token, req.Notification)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (api *DeviceAPI) BroadcastNotification(w http.ResponseWriter, r *http.Request) {
	var n notification.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	batch, err := api.Sender.SendToAllRegistered(r.Context(), n)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func writeValidationError(w http.ResponseWriter, err error) {
	if errors.Is(err, notification.ErrEmptyTitle) || errors.Is(err, notification.ErrEmptyBody) {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSONError(w, http.StatusInternalServerError, "send failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
