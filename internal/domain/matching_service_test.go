package domain

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type matchCollector struct {
	mu      sync.Mutex
	matches []*Match
}

func (c *matchCollector) collect(m *Match) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matches = append(c.matches, m)
}

func (c *matchCollector) all() []*Match {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Match, len(c.matches))
	copy(out, c.matches)
	return out
}

func newTestMatcher(blocks *mockBlockRepo, rep *mockReputationRepo) (*MatchingService, *matchCollector) {
	dir := NewDirectory(blocks, rep, time.Minute)
	svc := NewMatchingService(DefaultMatchingConfig(), DefaultScorerConfig(), dir, &mockRecorder{}, zap.NewNop())
	collector := &matchCollector{}
	svc.OnMatched = collector.collect
	return svc, collector
}

func criteria(region, language string, interests ...string) Criteria {
	return Criteria{
		QueueType: QueueCasual,
		Region:    region,
		Language:  language,
		Interests: interests,
	}
}

// checkInvariants asserts the global state the engine must uphold after
// every operation: one queue entry and one active match per device, and
// indexes consistent with the canonical arena.
func checkInvariants(t *testing.T, s *MatchingService) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	for deviceID := range s.entries {
		if _, matched := s.matches[deviceID]; matched {
			t.Fatalf("device %s is both queued and matched", deviceID)
		}
	}

	for key, ids := range s.indexes {
		seen := make(map[string]struct{})
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				t.Fatalf("device %s appears twice in index %s", id, key)
			}
			seen[id] = struct{}{}
			if _, ok := s.entries[id]; !ok {
				t.Fatalf("index %s references unknown entry %s", key, id)
			}
		}
	}

	for deviceID, entry := range s.entries {
		for _, key := range queueKeys(entry.Profile.Criteria) {
			found := false
			for _, id := range s.indexes[key] {
				if id == deviceID {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("entry %s missing from its index %s", deviceID, key)
			}
		}
	}

	for deviceID, m := range s.matches {
		if _, ok := m.Side(deviceID); !ok {
			t.Fatalf("device %s mapped to a match it is not part of", deviceID)
		}
		if s.matchesByID[m.ID] != m {
			t.Fatalf("match %s missing from the by-ID table", m.ID)
		}
	}
}

func TestEnqueuePairsCompatibleDevices(t *testing.T) {
	svc, collector := newTestMatcher(newMockBlockRepo(), newMockReputationRepo())
	ctx := context.Background()

	if err := svc.Enqueue(ctx, "alice", criteria("eu", "en", "movies")); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := svc.Enqueue(ctx, "bob", criteria("eu", "en", "movies")); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}

	matches := collector.all()
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	m := matches[0]
	devices := map[string]bool{m.A.Entry.DeviceID: true, m.B.Entry.DeviceID: true}
	if !devices["alice"] || !devices["bob"] {
		t.Errorf("match contains %v, want {alice, bob}", devices)
	}
	if m.Score < 80 {
		t.Errorf("identical criteria scored %d, want >= 80", m.Score)
	}
	if m.A.Alias == m.B.Alias {
		t.Error("both sides share an alias")
	}
	checkInvariants(t, svc)
}

func TestEnqueueRejectsDuplicate(t *testing.T) {
	svc, _ := newTestMatcher(newMockBlockRepo(), newMockReputationRepo())
	ctx := context.Background()

	if err := svc.Enqueue(ctx, "alice", criteria("eu", "en")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := svc.Enqueue(ctx, "alice", criteria("us", "fr")); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("second enqueue = %v, want ErrAlreadyQueued", err)
	}
}

func TestEnqueueRejectsWhileMatched(t *testing.T) {
	svc, collector := newTestMatcher(newMockBlockRepo(), newMockReputationRepo())
	ctx := context.Background()

	svc.Enqueue(ctx, "alice", criteria("eu", "en", "movies"))
	svc.Enqueue(ctx, "bob", criteria("eu", "en", "movies"))
	if len(collector.all()) != 1 {
		t.Fatal("expected a match")
	}

	if err := svc.Enqueue(ctx, "alice", criteria("eu", "en")); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("enqueue while matched = %v, want ErrAlreadyQueued", err)
	}
}

func TestEnqueueRejectsBanned(t *testing.T) {
	rep := newMockReputationRepo()
	rep.banned["alice"] = true
	svc, _ := newTestMatcher(newMockBlockRepo(), rep)

	if err := svc.Enqueue(context.Background(), "alice", criteria("eu", "en")); !errors.Is(err, ErrBanned) {
		t.Errorf("enqueue = %v, want ErrBanned", err)
	}
	checkInvariants(t, svc)
}

func TestBlockedDevicesNeverPair(t *testing.T) {
	blocks := newMockBlockRepo()
	blocks.block("bob", "alice")
	svc, collector := newTestMatcher(blocks, newMockReputationRepo())
	ctx := context.Background()

	svc.Enqueue(ctx, "alice", criteria("eu", "en", "movies"))
	svc.Enqueue(ctx, "bob", criteria("eu", "en", "movies"))

	for i := 0; i < 10; i++ {
		svc.sweep()
	}
	if got := collector.all(); len(got) != 0 {
		t.Fatalf("blocked pair matched: %v", got)
	}

	// Both stay queued until a third compatible, unblocked peer shows up.
	if err := svc.Enqueue(ctx, "carol", criteria("eu", "en", "movies")); err != nil {
		t.Fatalf("enqueue carol: %v", err)
	}
	matches := collector.all()
	if len(matches) != 1 {
		t.Fatalf("got %d matches after carol joined, want 1", len(matches))
	}
	m := matches[0]
	paired := map[string]bool{m.A.Entry.DeviceID: true, m.B.Entry.DeviceID: true}
	if paired["alice"] && paired["bob"] {
		t.Fatal("blocked devices alice and bob were paired")
	}
	if !paired["carol"] {
		t.Errorf("carol not in match %v", paired)
	}
	checkInvariants(t, svc)
}

func TestCancel(t *testing.T) {
	svc, _ := newTestMatcher(newMockBlockRepo(), newMockReputationRepo())
	ctx := context.Background()

	if err := svc.Cancel("alice"); !errors.Is(err, ErrNotQueued) {
		t.Errorf("cancel without entry = %v, want ErrNotQueued", err)
	}

	svc.Enqueue(ctx, "alice", criteria("eu", "en"))
	if err := svc.Cancel("alice"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Not idempotent: the second call must fail.
	if err := svc.Cancel("alice"); !errors.Is(err, ErrNotQueued) {
		t.Errorf("second cancel = %v, want ErrNotQueued", err)
	}
	checkInvariants(t, svc)
}

func TestAgingRelaxesThreshold(t *testing.T) {
	svc, collector := newTestMatcher(newMockBlockRepo(), newMockReputationRepo())
	clock := newFakeClock()
	svc.now = clock.now
	ctx := context.Background()

	// Nothing in common: score 50, below the accept threshold of 60.
	svc.Enqueue(ctx, "alice", criteria("eu", "en"))
	svc.Enqueue(ctx, "bob", criteria("us", "pt"))
	if len(collector.all()) != 0 {
		t.Fatal("low-compatibility pair matched before aging")
	}

	// Past AgingAfter + AgingRamp the threshold bottoms out at 35.
	clock.advance(30 * time.Second)
	svc.sweep()

	matches := collector.all()
	if len(matches) != 1 {
		t.Fatalf("got %d matches after aging, want 1 (liveness)", len(matches))
	}
	if matches[0].Score != 50 {
		t.Errorf("aged match score = %d, want 50", matches[0].Score)
	}
	checkInvariants(t, svc)
}

func TestReleaseFreesDevices(t *testing.T) {
	svc, collector := newTestMatcher(newMockBlockRepo(), newMockReputationRepo())
	ctx := context.Background()

	svc.Enqueue(ctx, "alice", criteria("eu", "en", "movies"))
	svc.Enqueue(ctx, "bob", criteria("eu", "en", "movies"))
	m := collector.all()[0]

	if got := svc.Release(m.ID); got != m {
		t.Fatalf("Release returned %v, want the active match", got)
	}
	if got := svc.Release(m.ID); got != nil {
		t.Fatalf("second Release returned %v, want nil", got)
	}

	// Both sides are free to queue again.
	if err := svc.Enqueue(ctx, "alice", criteria("eu", "en")); err != nil {
		t.Errorf("enqueue after release: %v", err)
	}
	checkInvariants(t, svc)
}

func TestRequeueReusesSnapshot(t *testing.T) {
	svc, collector := newTestMatcher(newMockBlockRepo(), newMockReputationRepo())
	ctx := context.Background()

	svc.Enqueue(ctx, "alice", criteria("eu", "en", "movies"))
	svc.Enqueue(ctx, "bob", criteria("eu", "en", "movies"))
	m := collector.all()[0]
	svc.Release(m.ID)

	side, _ := m.Side("alice")
	if err := svc.Requeue(side.Entry); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	svc.mu.Lock()
	entry := svc.entries["alice"]
	svc.mu.Unlock()
	if entry == nil {
		t.Fatal("alice not queued after requeue")
	}
	if entry.Profile.Criteria.Region != "eu" {
		t.Errorf("requeued entry lost its criteria snapshot: %+v", entry.Profile.Criteria)
	}
	checkInvariants(t, svc)
}

func TestFallbackReputationOnLookupFailure(t *testing.T) {
	rep := newMockReputationRepo()
	rep.repErr = errors.New("reputation store down")
	svc, _ := newTestMatcher(newMockBlockRepo(), rep)

	// The outage must not block queueing.
	if err := svc.Enqueue(context.Background(), "alice", criteria("eu", "en")); err != nil {
		t.Fatalf("enqueue with reputation outage: %v", err)
	}
	svc.mu.Lock()
	got := svc.entries["alice"].Profile.Reputation
	svc.mu.Unlock()
	if got != DefaultReputation {
		t.Errorf("reputation = %d, want fallback %d", got, DefaultReputation)
	}
}

func TestBlockedSetFailureRejectsEnqueue(t *testing.T) {
	blocks := newMockBlockRepo()
	blocks.err = errors.New("block store down")
	svc, _ := newTestMatcher(blocks, newMockReputationRepo())

	if err := svc.Enqueue(context.Background(), "alice", criteria("eu", "en")); err == nil {
		t.Fatal("enqueue accepted without a blocked-set snapshot")
	}
	checkInvariants(t, svc)
}

// Random interleavings of enqueue, cancel and sweeps must never violate
// the at-most-one-entry / at-most-one-match invariant.
func TestInvariantsUnderRandomOperations(t *testing.T) {
	blocks := newMockBlockRepo()
	blocks.block("dev3", "dev7")
	blocks.block("dev1", "dev2")
	svc, collector := newTestMatcher(blocks, newMockReputationRepo())
	clock := newFakeClock()
	svc.now = clock.now
	ctx := context.Background()

	rng := rand.New(rand.NewSource(42))
	regions := []string{"eu", "us"}
	languages := []string{"en", "fr"}

	for i := 0; i < 2000; i++ {
		dev := fmt.Sprintf("dev%d", rng.Intn(12))
		switch rng.Intn(4) {
		case 0:
			c := criteria(regions[rng.Intn(2)], languages[rng.Intn(2)])
			err := svc.Enqueue(ctx, dev, c)
			if err != nil && !errors.Is(err, ErrAlreadyQueued) {
				t.Fatalf("enqueue %s: %v", dev, err)
			}
		case 1:
			err := svc.Cancel(dev)
			if err != nil && !errors.Is(err, ErrNotQueued) {
				t.Fatalf("cancel %s: %v", dev, err)
			}
		case 2:
			svc.sweep()
		case 3:
			clock.advance(time.Duration(rng.Intn(3000)) * time.Millisecond)
		}
		checkInvariants(t, svc)
	}

	for _, m := range collector.all() {
		a, b := m.A.Entry.DeviceID, m.B.Entry.DeviceID
		if (a == "dev3" && b == "dev7") || (a == "dev7" && b == "dev3") {
			t.Fatal("blocked pair dev3/dev7 was matched")
		}
		if (a == "dev1" && b == "dev2") || (a == "dev2" && b == "dev1") {
			t.Fatal("blocked pair dev1/dev2 was matched")
		}
	}
}
