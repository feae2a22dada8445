package domain

// Event is an outbound realtime event destined for a single device.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Sender delivers outbound events to whatever connection currently
// belongs to a device. Delivery to an offline device is a no-op.
type Sender interface {
	SendToDevice(deviceID string, event Event)
}

// Outbound event types.
const (
	EventQueued        = "queued"
	EventCancelled     = "cancelled"
	EventMatched       = "matched"
	EventSignal        = "signal"
	EventChat          = "chat"
	EventPeerConnected = "peer_connected"
	EventSessionEnded  = "session_ended"
	EventSkipped       = "skipped"
	EventRateLimited   = "rate_limited"
	EventError         = "error"
)

// PartnerInfo is the safe subset of a peer's profile shared on match.
type PartnerInfo struct {
	Alias           string   `json:"alias"`
	Region          string   `json:"region,omitempty"`
	Language        string   `json:"language,omitempty"`
	SharedInterests []string `json:"shared_interests,omitempty"`
}

// MatchedPayload is sent to both sides when a match is created.
type MatchedPayload struct {
	MatchID string      `json:"match_id"`
	Score   int         `json:"score"`
	Partner PartnerInfo `json:"partner"`
}

// SessionEndedPayload is sent to both sides when a session ends.
type SessionEndedPayload struct {
	MatchID  string    `json:"match_id"`
	Reason   EndReason `json:"reason"`
	Requeued bool      `json:"requeued"`
}
