package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type SessionState string

const (
	SessionConnecting SessionState = "connecting"
	SessionConnected  SessionState = "connected"
	SessionEnded      SessionState = "ended"
)

type EndReason string

const (
	EndSkip       EndReason = "skip"
	EndNatural    EndReason = "natural"
	EndDisconnect EndReason = "disconnect"
	EndError      EndReason = "error"
)

// Session is the live negotiation state for one match. It brokers
// delivery between exactly two participants and never interprets the
// payloads it relays. Mutated only through its own transition methods.
type Session struct {
	ID    uuid.UUID
	Match *Match

	mu          sync.Mutex
	state       SessionState
	endReason   EndReason
	endedBy     string
	createdAt   time.Time
	connectedAt time.Time
	endedAt     time.Time
}

func newSession(m *Match, now time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		Match:     m,
		state:     SessionConnecting,
		createdAt: now,
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EndReason is only meaningful once the session has ended.
func (s *Session) EndReason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// PeerOf validates the sender is a participant of a live session and
// returns the peer's device identity.
func (s *Session) PeerOf(deviceID string) (string, error) {
	peer, ok := s.Match.Peer(deviceID)
	if !ok {
		return "", ErrNotParticipant
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionEnded {
		return "", ErrSessionEnded
	}
	return peer.Entry.DeviceID, nil
}

// MarkConnected transitions connecting -> connected once either side
// reports ICE success. Idempotent: returns true only on the transition.
func (s *Session) MarkConnected(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionConnecting {
		return false
	}
	s.state = SessionConnected
	s.connectedAt = now
	return true
}

// end transitions to ended exactly once; later calls are no-ops.
func (s *Session) end(reason EndReason, endedBy string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionEnded {
		return false
	}
	s.state = SessionEnded
	s.endReason = reason
	s.endedBy = endedBy
	s.endedAt = now
	return true
}
