package api

import "encoding/json"

// ClientEvent is one inbound frame on the realtime connection.
type ClientEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound event types.
const (
	evFindMatch = "find_match"
	evCancel    = "cancel"
	evSignal    = "signal"
	evChat      = "chat"
	evConnected = "connected"
	evSkip      = "skip"
	evEnd       = "end"
	evNext      = "next"
)

// errorPayload is the structured rejection surfaced to the caller only;
// the other participant and the queue state are unaffected.
type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// rateLimitedPayload names the throttled event so clients can back off
// per channel.
type rateLimitedPayload struct {
	Event string `json:"event"`
}
