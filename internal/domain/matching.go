package domain

import (
	"time"

	"github.com/google/uuid"
)

type QueueType string

const (
	QueueCasual   QueueType = "casual"
	QueueSerious  QueueType = "serious"
	QueueLanguage QueueType = "language"
	QueueInterest QueueType = "interest"
)

// Criteria is what a device asks for when it requests a partner.
type Criteria struct {
	QueueType    QueueType `json:"queue_type"`
	Region       string    `json:"region"`
	Language     string    `json:"language"`
	Interests    []string  `json:"interests"`
	GenderFilter string    `json:"gender_filter,omitempty"`
}

// Profile is the immutable snapshot the scorer works on: the stated
// criteria plus the reputation fetched at enqueue time.
type Profile struct {
	Criteria   Criteria
	Reputation int // 0..100
}

// QueueEntry is a waiting device. The blocked set is bidirectional and
// pre-fetched; the engine never does I/O while holding its lock.
type QueueEntry struct {
	DeviceID   string
	Profile    Profile
	Blocked    map[string]struct{}
	EnqueuedAt time.Time
}

// blockedEither reports whether either side has blocked the other.
func blockedEither(a, b *QueueEntry) bool {
	if _, ok := a.Blocked[b.DeviceID]; ok {
		return true
	}
	_, ok := b.Blocked[a.DeviceID]
	return ok
}

// MatchSide is one participant of a match. Alias is the opaque per-match
// identifier shown to the peer; the device identity never crosses over.
type MatchSide struct {
	Entry *QueueEntry
	Alias uuid.UUID
}

// Match is an ephemeral pairing of two devices. A device belongs to at
// most one active Match at a time.
type Match struct {
	ID        uuid.UUID
	A, B      MatchSide
	Score     int
	CreatedAt time.Time
}

// Side returns the side owned by deviceID.
func (m *Match) Side(deviceID string) (*MatchSide, bool) {
	switch deviceID {
	case m.A.Entry.DeviceID:
		return &m.A, true
	case m.B.Entry.DeviceID:
		return &m.B, true
	}
	return nil, false
}

// Peer returns the other side of the match.
func (m *Match) Peer(deviceID string) (*MatchSide, bool) {
	switch deviceID {
	case m.A.Entry.DeviceID:
		return &m.B, true
	case m.B.Entry.DeviceID:
		return &m.A, true
	}
	return nil, false
}

// SharedInterests returns the interest tags both criteria have in common,
// in a's order.
func SharedInterests(a, b Criteria) []string {
	if len(a.Interests) == 0 || len(b.Interests) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(b.Interests))
	for _, tag := range b.Interests {
		set[tag] = struct{}{}
	}
	var shared []string
	for _, tag := range a.Interests {
		if _, ok := set[tag]; ok {
			shared = append(shared, tag)
		}
	}
	return shared
}

// MatchRecord is the write-only archive record emitted to the persistence
// collaborator on match creation and session end.
type MatchRecord struct {
	MatchID   uuid.UUID
	DeviceA   string
	DeviceB   string
	Score     int
	CreatedAt time.Time
	EndedAt   *time.Time
	EndReason EndReason
}
