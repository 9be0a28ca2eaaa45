// Package file implements the DeviceRegistry on a single JSON file.
// The file is private to one process; the registry serializes every
// mutation and the following write under one mutex.
package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// DeviceRegistry owns the durable device set. Persistence is
// write-through: the full set is rewritten after every mutating call.
// Write failures are logged, not returned; the in-memory state stays
// authoritative for the rest of the process lifetime.
type DeviceRegistry struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	devices map[string]*notification.RegisteredDevice

	now func() time.Time
}

// NewDeviceRegistry loads the registry file if present. A missing or
// corrupt file starts an empty registry rather than failing startup.
func NewDeviceRegistry(path string, logger *slog.Logger) *DeviceRegistry {
	r := &DeviceRegistry{
		path:    path,
		logger:  logger.With("component", "DeviceRegistry"),
		devices: make(map[string]*notification.RegisteredDevice),
		now:     time.Now,
	}
	r.load()
	return r
}

// Register upserts a device. Non-empty metadata fields merge over the
// existing record; a previously known field is never cleared.
// RegisteredAt is set once, LastSeenAt on every call.
func (r *DeviceRegistry) Register(token string, meta notification.DeviceMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	device, ok := r.devices[token]
	if !ok {
		device = &notification.RegisteredDevice{
			Token:        token,
			RegisteredAt: now,
		}
		r.devices[token] = device
	}
	if meta.DeviceName != "" {
		device.DeviceName = meta.DeviceName
	}
	if meta.DeviceModel != "" {
		device.DeviceModel = meta.DeviceModel
	}
	if meta.OSVersion != "" {
		device.OSVersion = meta.OSVersion
	}
	if meta.AppVersion != "" {
		device.AppVersion = meta.AppVersion
	}
	device.LastSeenAt = now

	r.save()
	r.logger.Info("device registered",
		"token", notification.MaskToken(token),
		"total", len(r.devices),
	)
}

// Unregister removes a device if present and reports whether it existed.
func (r *DeviceRegistry) Unregister(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[token]; !ok {
		return false
	}
	delete(r.devices, token)
	r.save()
	r.logger.Info("device unregistered", "token", notification.MaskToken(token))
	return true
}

// Touch records a successful delivery to the token. Unknown tokens are a
// no-op: direct sends to addresses outside the registry are allowed.
func (r *DeviceRegistry) Touch(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[token]
	if !ok {
		return false
	}
	device.LastSeenAt = r.now()
	r.save()
	return true
}

// Count returns the number of registered devices.
func (r *DeviceRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// List returns a snapshot of the registry, ordered by registration time.
func (r *DeviceRegistry) List() []notification.RegisteredDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *DeviceRegistry) snapshotLocked() []notification.RegisteredDevice {
	out := make([]notification.RegisteredDevice, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].Token < out[j].Token
	})
	return out
}

func (r *DeviceRegistry) load() {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Info("no registry file, starting empty", "path", r.path)
		} else {
			r.logger.Warn("registry file unreadable, starting empty", "path", r.path, "err", err)
		}
		return
	}

	var records []notification.RegisteredDevice
	if err := json.Unmarshal(raw, &records); err != nil {
		r.logger.Warn("registry file corrupt, starting empty", "path", r.path, "err", err)
		return
	}
	for i := range records {
		r.devices[records[i].Token] = &records[i]
	}
	r.logger.Info("registry loaded", "path", r.path, "devices", len(r.devices))
}

// save writes the full set atomically: write to a temp file, then rename
// over the target, so a crash never leaves a half-written registry.
// Callers must hold r.mu.
func (r *DeviceRegistry) save() {
	if err := r.writeLocked(); err != nil {
		r.logger.Error("registry write failed, memory remains authoritative", "path", r.path, "err", err)
	}
}

func (r *DeviceRegistry) writeLocked() error {
	raw, err := json.MarshalIndent(r.snapshotLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
