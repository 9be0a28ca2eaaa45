package apns

import (
	"encoding/json"

	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

type alertEnvelope struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	Body     string `json:"body"`
}

// buildPayload renders the gateway's JSON body: the aps envelope plus the
// caller's opaque data fields merged at the top level, where the client's
// routing code expects them.
func buildPayload(n notification.Notification) ([]byte, error) {
	sound := n.Sound
	if sound == "" {
		sound = notification.DefaultSound
	}

	aps := map[string]any{
		"alert": alertEnvelope{
			Title:    n.Title,
			Subtitle: n.Subtitle,
			Body:     n.Body,
		},
		"sound": sound,
	}
	if n.Badge != nil {
		aps["badge"] = *n.Badge
	}
	if n.Category != "" {
		aps["category"] = string(n.Category)
	}

	body := map[string]any{"aps": aps}
	for k, v := range n.Data {
		if k == "aps" {
			// Data must never shadow the alert envelope.
			continue
		}
		body[k] = v
	}
	return json.Marshal(body)
}
