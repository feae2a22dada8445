package domain

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mock collaborators shared by the matching and session tests.

type mockBlockRepo struct {
	mu   sync.Mutex
	sets map[string]map[string]struct{}
	err  error
}

func newMockBlockRepo() *mockBlockRepo {
	return &mockBlockRepo{sets: make(map[string]map[string]struct{})}
}

func (m *mockBlockRepo) block(blocker, blocked string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets[blocker] == nil {
		m.sets[blocker] = make(map[string]struct{})
	}
	m.sets[blocker][blocked] = struct{}{}
	// Bidirectional: the blocked side sees the blocker too.
	if m.sets[blocked] == nil {
		m.sets[blocked] = make(map[string]struct{})
	}
	m.sets[blocked][blocker] = struct{}{}
}

func (m *mockBlockRepo) GetBlockedSet(ctx context.Context, deviceID string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]struct{}, len(m.sets[deviceID]))
	for id := range m.sets[deviceID] {
		out[id] = struct{}{}
	}
	return out, nil
}

type mockReputationRepo struct {
	mu     sync.Mutex
	scores map[string]int
	banned map[string]bool
	repErr error
}

func newMockReputationRepo() *mockReputationRepo {
	return &mockReputationRepo{
		scores: make(map[string]int),
		banned: make(map[string]bool),
	}
}

func (m *mockReputationRepo) GetReputation(ctx context.Context, deviceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.repErr != nil {
		return 0, m.repErr
	}
	if score, ok := m.scores[deviceID]; ok {
		return score, nil
	}
	return DefaultReputation, nil
}

func (m *mockReputationRepo) IsBanned(ctx context.Context, deviceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.banned[deviceID], nil
}

type endRecord struct {
	matchID uuid.UUID
	endedAt time.Time
	reason  EndReason
}

type mockRecorder struct {
	mu      sync.Mutex
	records []MatchRecord
	ends    []endRecord
	err     error
}

func (m *mockRecorder) RecordMatch(ctx context.Context, record MatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, record)
	return nil
}

func (m *mockRecorder) RecordMatchEnd(ctx context.Context, matchID uuid.UUID, endedAt time.Time, reason EndReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.ends = append(m.ends, endRecord{matchID: matchID, endedAt: endedAt, reason: reason})
	return nil
}

func (m *mockRecorder) endCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ends)
}

func (m *mockRecorder) end(i int) endRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ends[i]
}

type mockSender struct {
	mu     sync.Mutex
	events map[string][]Event
}

func newMockSender() *mockSender {
	return &mockSender{events: make(map[string][]Event)}
}

func (m *mockSender) SendToDevice(deviceID string, event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[deviceID] = append(m.events[deviceID], event)
}

func (m *mockSender) eventsFor(deviceID string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events[deviceID]))
	copy(out, m.events[deviceID])
	return out
}

func (m *mockSender) hasEvent(deviceID, eventType string) bool {
	for _, e := range m.eventsFor(deviceID) {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

func (m *mockSender) countEvent(deviceID, eventType string) int {
	n := 0
	for _, e := range m.eventsFor(deviceID) {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
