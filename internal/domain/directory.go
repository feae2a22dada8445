package domain

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BlockRepository exposes the bidirectional blocked-device set: both
// "I blocked them" and "they blocked me".
type BlockRepository interface {
	GetBlockedSet(ctx context.Context, deviceID string) (map[string]struct{}, error)
}

// ReputationRepository exposes the behaviour standing of a device.
// Scores are computed elsewhere; the matching core only reads them.
type ReputationRepository interface {
	GetReputation(ctx context.Context, deviceID string) (int, error)
	IsBanned(ctx context.Context, deviceID string) (bool, error)
}

// MatchRecorder archives matches. Fire-and-forget: failures are logged
// by the caller, never retried synchronously, and never block pairing.
type MatchRecorder interface {
	RecordMatch(ctx context.Context, record MatchRecord) error
	RecordMatchEnd(ctx context.Context, matchID uuid.UUID, endedAt time.Time, reason EndReason) error
}

// DefaultReputation is used when the reputation collaborator is
// unavailable; a lookup failure never blocks a user from queueing.
const DefaultReputation = 50

type blockedCacheEntry struct {
	set       map[string]struct{}
	fetchedAt time.Time
}

type reputationCacheEntry struct {
	score     int
	fetchedAt time.Time
}

// Directory is a read-through, time-boxed cache over the blocking and
// reputation collaborators. The matching core treats the cached values
// as read-only snapshots and never writes back.
type Directory struct {
	blocks BlockRepository
	rep    ReputationRepository
	ttl    time.Duration
	now    func() time.Time

	mu         sync.Mutex
	blockCache map[string]blockedCacheEntry
	repCache   map[string]reputationCacheEntry
}

// NewDirectory creates a directory with the given cache TTL (bounded at
// five minutes).
func NewDirectory(blocks BlockRepository, rep ReputationRepository, ttl time.Duration) *Directory {
	if ttl <= 0 || ttl > 5*time.Minute {
		ttl = 5 * time.Minute
	}
	return &Directory{
		blocks:     blocks,
		rep:        rep,
		ttl:        ttl,
		now:        time.Now,
		blockCache: make(map[string]blockedCacheEntry),
		repCache:   make(map[string]reputationCacheEntry),
	}
}

// BlockedSet returns the device's blocked set. Unlike reputation this
// must be available: an error here rejects the enqueue.
func (d *Directory) BlockedSet(ctx context.Context, deviceID string) (map[string]struct{}, error) {
	d.mu.Lock()
	cached, ok := d.blockCache[deviceID]
	d.mu.Unlock()
	if ok && d.now().Sub(cached.fetchedAt) < d.ttl {
		return cached.set, nil
	}

	set, err := d.blocks.GetBlockedSet(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if set == nil {
		set = map[string]struct{}{}
	}

	d.mu.Lock()
	d.blockCache[deviceID] = blockedCacheEntry{set: set, fetchedAt: d.now()}
	d.mu.Unlock()
	return set, nil
}

// Reputation returns the device's reputation, falling back to
// DefaultReputation when the collaborator is unavailable.
func (d *Directory) Reputation(ctx context.Context, deviceID string) int {
	d.mu.Lock()
	cached, ok := d.repCache[deviceID]
	d.mu.Unlock()
	if ok && d.now().Sub(cached.fetchedAt) < d.ttl {
		return cached.score
	}

	score, err := d.rep.GetReputation(ctx, deviceID)
	if err != nil {
		return DefaultReputation
	}

	d.mu.Lock()
	d.repCache[deviceID] = reputationCacheEntry{score: score, fetchedAt: d.now()}
	d.mu.Unlock()
	return score
}

// IsBanned checks ban status. Not cached: bans must take effect on the
// next enqueue. Fails open so an outage does not lock everyone out.
func (d *Directory) IsBanned(ctx context.Context, deviceID string) bool {
	banned, err := d.rep.IsBanned(ctx, deviceID)
	if err != nil {
		return false
	}
	return banned
}

// Forget drops a device's cached snapshots; called on disconnect.
func (d *Directory) Forget(deviceID string) {
	d.mu.Lock()
	delete(d.blockCache, deviceID)
	delete(d.repCache, deviceID)
	d.mu.Unlock()
}
