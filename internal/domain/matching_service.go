package domain

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MatchingConfig holds the pairing tuning knobs. Threshold and aging
// values are product parameters, exposed rather than hard-coded.
type MatchingConfig struct {
	TickInterval time.Duration // periodic sweep period

	ScanWindow      int // candidates scored against a queue head per sweep
	AcceptThreshold int // minimum score before aging kicks in

	// After AgingAfter of waiting, the acceptance threshold relaxes
	// linearly over AgingRamp down to AgingFloor, bounding worst-case
	// wait at the cost of match quality.
	AgingAfter time.Duration
	AgingRamp  time.Duration
	AgingFloor int
}

// DefaultMatchingConfig returns the production defaults.
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		TickInterval:    250 * time.Millisecond,
		ScanWindow:      20,
		AcceptThreshold: 60,
		AgingAfter:      12 * time.Second,
		AgingRamp:       12 * time.Second,
		AgingFloor:      35,
	}
}

const globalQueueKey = "global"

// MatchingService owns the waiting queues and the active-match table.
// All queue mutation is serialized behind a single mutex: pairing must
// see a consistent snapshot. Entry storage is canonical; the per-queue
// FIFO indexes are derived and always mutated together with it.
type MatchingService struct {
	cfg      MatchingConfig
	scorer   ScorerConfig
	dir      *Directory
	recorder MatchRecorder
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	entries     map[string]*QueueEntry // deviceID -> canonical entry
	indexes     map[string][]string    // queue key -> deviceIDs, FIFO
	matches     map[string]*Match      // deviceID -> active match
	matchesByID map[uuid.UUID]*Match

	// OnMatched is invoked outside the queue lock for every created
	// match. Set once during wiring, before Run.
	OnMatched func(*Match)
}

// NewMatchingService creates the queue owner.
func NewMatchingService(cfg MatchingConfig, scorer ScorerConfig, dir *Directory, recorder MatchRecorder, logger *zap.Logger) *MatchingService {
	return &MatchingService{
		cfg:         cfg,
		scorer:      scorer,
		dir:         dir,
		recorder:    recorder,
		logger:      logger,
		now:         time.Now,
		entries:     make(map[string]*QueueEntry),
		indexes:     make(map[string][]string),
		matches:     make(map[string]*Match),
		matchesByID: make(map[uuid.UUID]*Match),
	}
}

// Run drives the periodic sweep until ctx is cancelled. Enqueue also
// triggers a sweep, so the tick only covers aging relaxation.
func (s *MatchingService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// Enqueue registers a device as waiting. Ban status, reputation and the
// bidirectional blocked set are fetched before the lock is taken; the
// critical section does no I/O.
func (s *MatchingService) Enqueue(ctx context.Context, deviceID string, criteria Criteria) error {
	if s.dir.IsBanned(ctx, deviceID) {
		return ErrBanned
	}
	blocked, err := s.dir.BlockedSet(ctx, deviceID)
	if err != nil {
		return err
	}
	entry := &QueueEntry{
		DeviceID: deviceID,
		Profile: Profile{
			Criteria:   criteria,
			Reputation: s.dir.Reputation(ctx, deviceID),
		},
		Blocked:    blocked,
		EnqueuedAt: s.now(),
	}
	if err := s.insert(entry); err != nil {
		return err
	}
	s.logger.Debug("device enqueued",
		zap.String("device_id", deviceID),
		zap.String("queue_type", string(criteria.QueueType)),
	)
	s.sweep()
	return nil
}

// Requeue re-inserts a previous entry snapshot with a fresh enqueue
// time. Used when a session end returns a side to the queue; the cached
// reputation and blocked-set snapshots are reused.
func (s *MatchingService) Requeue(entry *QueueEntry) error {
	fresh := &QueueEntry{
		DeviceID:   entry.DeviceID,
		Profile:    entry.Profile,
		Blocked:    entry.Blocked,
		EnqueuedAt: s.now(),
	}
	if err := s.insert(fresh); err != nil {
		return err
	}
	s.sweep()
	return nil
}

// Cancel removes the device's queue entry. Not idempotent: a second
// call fails with ErrNotQueued.
func (s *MatchingService) Cancel(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[deviceID]
	if !ok {
		return ErrNotQueued
	}
	s.removeLocked(entry)
	return nil
}

// Release tears down the active match, freeing both devices for new
// pairings. Returns nil if the match is already gone.
func (s *MatchingService) Release(matchID uuid.UUID) *Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matchesByID[matchID]
	if !ok {
		return nil
	}
	delete(s.matchesByID, matchID)
	delete(s.matches, m.A.Entry.DeviceID)
	delete(s.matches, m.B.Entry.DeviceID)
	return m
}

// CancelIfQueued is the disconnect path: removes a queue entry if one
// exists, without the caller-misuse error.
func (s *MatchingService) CancelIfQueued(deviceID string) {
	if err := s.Cancel(deviceID); err == nil {
		s.logger.Debug("queue entry dropped on disconnect", zap.String("device_id", deviceID))
	}
}

func (s *MatchingService) insert(entry *QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, queued := s.entries[entry.DeviceID]; queued {
		return ErrAlreadyQueued
	}
	if _, matched := s.matches[entry.DeviceID]; matched {
		return ErrAlreadyQueued
	}
	s.entries[entry.DeviceID] = entry
	for _, key := range queueKeys(entry.Profile.Criteria) {
		s.indexes[key] = append(s.indexes[key], entry.DeviceID)
	}
	return nil
}

// queueKeys returns every index a criteria set is scanned under. Broad
// criteria land in extra queues to improve pairing speed; the entry
// itself stays canonical, and removal sweeps all of them together.
func queueKeys(c Criteria) []string {
	qt := c.QueueType
	if qt == "" {
		qt = QueueCasual
	}
	keys := []string{"type:" + string(qt)}
	if c.Language != "" {
		keys = append(keys, "lang:"+c.Language)
	}
	if c.GenderFilter == "" {
		keys = append(keys, globalQueueKey)
	}
	return keys
}

// removeLocked drops an entry from the canonical arena and every index
// atomically. Caller holds s.mu.
func (s *MatchingService) removeLocked(entry *QueueEntry) {
	delete(s.entries, entry.DeviceID)
	for _, key := range queueKeys(entry.Profile.Criteria) {
		ids := s.indexes[key]
		for i, id := range ids {
			if id == entry.DeviceID {
				s.indexes[key] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(s.indexes[key]) == 0 {
			delete(s.indexes, key)
		}
	}
}

// sweep runs one pairing pass over every queue and emits the resulting
// matches outside the lock.
func (s *MatchingService) sweep() {
	made := s.collectPairs()
	for _, m := range made {
		s.emit(m)
	}
}

func (s *MatchingService) collectPairs() []*Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	var made []*Match
	for key := range s.indexes {
		for {
			m := s.pairHeadLocked(key)
			if m == nil {
				break
			}
			made = append(made, m)
		}
	}
	return made
}

// pairHeadLocked tries to pair the head of one queue. Candidates are
// scanned from the most recent end, at most ScanWindow of them; mutual
// blocking is a hard exclusion checked before scoring. Returns nil when
// no candidate clears the head's current (possibly aged) threshold.
func (s *MatchingService) pairHeadLocked(key string) *Match {
	ids := s.indexes[key]
	if len(ids) < 2 {
		return nil
	}
	head := s.entries[ids[0]]
	if head == nil {
		return nil
	}
	threshold := s.thresholdFor(head)

	var best *QueueEntry
	bestScore := -1
	scanned := 0
	for i := len(ids) - 1; i >= 1 && scanned < s.cfg.ScanWindow; i-- {
		cand := s.entries[ids[i]]
		if cand == nil {
			continue
		}
		if blockedEither(head, cand) {
			continue
		}
		scanned++
		// Scoring is pure over immutable snapshots.
		if score := s.scorer.Score(head.Profile, cand.Profile); score > bestScore {
			bestScore = score
			best = cand
		}
	}
	if best == nil || bestScore < threshold {
		return nil
	}

	// Re-validate before committing: an earlier pairing in this sweep
	// or a concurrent cancel may have taken either entry.
	if _, ok := s.entries[head.DeviceID]; !ok {
		return nil
	}
	if _, ok := s.entries[best.DeviceID]; !ok {
		return nil
	}
	s.removeLocked(head)
	s.removeLocked(best)

	m := &Match{
		ID:        uuid.New(),
		A:         MatchSide{Entry: head, Alias: uuid.New()},
		B:         MatchSide{Entry: best, Alias: uuid.New()},
		Score:     bestScore,
		CreatedAt: s.now(),
	}
	s.matches[head.DeviceID] = m
	s.matches[best.DeviceID] = m
	s.matchesByID[m.ID] = m
	return m
}

// thresholdFor returns the acceptance threshold for an entry, relaxed
// linearly after AgingAfter so long-waiting users are not starved.
func (s *MatchingService) thresholdFor(entry *QueueEntry) int {
	wait := s.now().Sub(entry.EnqueuedAt)
	if wait <= s.cfg.AgingAfter {
		return s.cfg.AcceptThreshold
	}
	if s.cfg.AgingRamp <= 0 {
		return s.cfg.AgingFloor
	}
	frac := float64(wait-s.cfg.AgingAfter) / float64(s.cfg.AgingRamp)
	if frac > 1 {
		frac = 1
	}
	relaxed := float64(s.cfg.AcceptThreshold) - frac*float64(s.cfg.AcceptThreshold-s.cfg.AgingFloor)
	return int(relaxed)
}

func (s *MatchingService) emit(m *Match) {
	s.logger.Info("match created",
		zap.String("match_id", m.ID.String()),
		zap.Int("score", m.Score),
	)

	// Archive write never blocks pairing; failures are logged, not
	// retried.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		record := MatchRecord{
			MatchID:   m.ID,
			DeviceA:   m.A.Entry.DeviceID,
			DeviceB:   m.B.Entry.DeviceID,
			Score:     m.Score,
			CreatedAt: m.CreatedAt,
		}
		if err := s.recorder.RecordMatch(ctx, record); err != nil {
			s.logger.Warn("match archive write failed",
				zap.String("match_id", m.ID.String()),
				zap.Error(err),
			)
		}
	}()

	if s.OnMatched != nil {
		s.OnMatched(m)
	}
}
