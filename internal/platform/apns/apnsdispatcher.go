package apns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"
	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

const (
	HostProduction = "https://api.push.apple.com"
	HostSandbox    = "https://api.sandbox.push.apple.com"

	// defaultRequestTimeout bounds one delivery end to end. Expiry is
	// reported as a transport failure in the SendResult.
	defaultRequestTimeout = 10 * time.Second

	// maxConcurrentSends caps the fan-out so a broadcast to a large
	// registry does not open unbounded streams.
	maxConcurrentSends = 16
)

// Reason strings the gateway returns for dead tokens. Kept exported so
// callers can decide whether to prune a device on these.
const (
	ReasonBadDeviceToken = "BadDeviceToken"
	ReasonUnregistered   = "Unregistered"
)

// authTokenSource is the subset of TokenSigner the dispatcher needs.
// This allows mocking for unit tests.
type authTokenSource interface {
	GetAuthToken() (string, error)
}

// Config holds the credentials and routing flags for the gateway client.
type Config struct {
	KeyID  string
	TeamID string
	// Topic is the app bundle ID the gateway routes on (e.g. com.tinywide.voiceapp).
	Topic string
	// P8KeyContent is the raw string content of the .p8 file.
	P8KeyContent string
	// Sandbox selects the development gateway host.
	Sandbox bool
	// RequestTimeout overrides the per-delivery deadline when positive.
	RequestTimeout time.Duration
}

// Dispatcher delivers notifications over the gateway's HTTP/2 API.
// One request per device token; there is no multicast endpoint.
type Dispatcher struct {
	client  *http.Client
	signer  authTokenSource
	host    string
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewDispatcher creates a configured dispatcher. It parses the P8 key
// immediately to fail fast on startup if credentials are bad.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	signer, err := NewTokenSigner([]byte(cfg.P8KeyContent), cfg.KeyID, cfg.TeamID)
	if err != nil {
		return nil, err
	}

	host := HostProduction
	if cfg.Sandbox {
		host = HostSandbox
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Dispatcher{
		client:  &http.Client{Transport: &http2.Transport{}},
		signer:  signer,
		host:    host,
		topic:   cfg.Topic,
		timeout: timeout,
		logger:  logger.With("component", "APNSDispatcher"),
	}, nil
}

// Send delivers one notification to one device token. Signing, transport
// and gateway failures all come back as a SendResult; nothing escapes as
// an error.
func (d *Dispatcher) Send(ctx context.Context, deviceToken string, n notification.Notification) notification.SendResult {
	fail := func(err string) notification.SendResult {
		return notification.SendResult{DeviceToken: deviceToken, Success: false, Error: err}
	}

	body, err := buildPayload(n)
	if err != nil {
		return fail(fmt.Sprintf("build payload: %v", err))
	}

	authToken, err := d.signer.GetAuthToken()
	if err != nil {
		// The key was validated at construction, so this is rare; it
		// still must not panic a batch.
		d.logger.Error("provider token minting failed", "err", err)
		return fail(fmt.Sprintf("provider token: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.host+"/3/device/"+deviceToken, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("authorization", "bearer "+authToken)
	req.Header.Set("apns-topic", d.topic)
	req.Header.Set("apns-push-type", "alert")
	req.Header.Set("apns-priority", "10")
	req.Header.Set("apns-id", uuid.NewString())
	req.Header.Set("content-type", "application/json")

	res, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("APNs transport failed", "token", notification.MaskToken(deviceToken), "err", err)
		return fail(fmt.Sprintf("transport: %v", err))
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusOK {
		return notification.SendResult{DeviceToken: deviceToken, Success: true}
	}

	reason := readRejectionReason(res.Body, res.StatusCode)
	if reason == ReasonBadDeviceToken || reason == ReasonUnregistered {
		d.logger.Info("APNs reports dead token", "token", notification.MaskToken(deviceToken), "reason", reason)
	} else {
		d.logger.Warn("APNs rejected notification", "status", res.StatusCode, "reason", reason)
	}
	return fail(reason)
}

// SendAll issues one independent delivery per token concurrently and waits
// for all of them. Individual failures never abort the batch.
func (d *Dispatcher) SendAll(ctx context.Context, deviceTokens []string, n notification.Notification) notification.BatchResult {
	results := make([]notification.SendResult, len(deviceTokens))

	var g errgroup.Group
	g.SetLimit(maxConcurrentSends)
	for i, token := range deviceTokens {
		i, token := i, token
		g.Go(func() error {
			results[i] = d.Send(ctx, token, n)
			return nil
		})
	}
	_ = g.Wait()

	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
		}
	}
	return notification.BatchResult{
		Total:      len(deviceTokens),
		Successful: successful,
		Results:    results,
	}
}

// readRejectionReason extracts the machine-readable reason the gateway
// encodes in a non-200 response body.
func readRejectionReason(body io.Reader, status int) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Sprintf("unexpected status %d", status)
	}

	var parsed struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Reason != "" {
		return parsed.Reason
	}
	return strings.TrimSpace(string(raw))
}
