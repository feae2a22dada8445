package domain

import (
	"context"
	"testing"
	"time"
)

type countingBlockRepo struct {
	*mockBlockRepo
	calls int
}

func (c *countingBlockRepo) GetBlockedSet(ctx context.Context, deviceID string) (map[string]struct{}, error) {
	c.calls++
	return c.mockBlockRepo.GetBlockedSet(ctx, deviceID)
}

func TestDirectoryCachesBlockedSet(t *testing.T) {
	blocks := &countingBlockRepo{mockBlockRepo: newMockBlockRepo()}
	blocks.block("alice", "mallory")
	dir := NewDirectory(blocks, newMockReputationRepo(), time.Minute)
	clock := newFakeClock()
	dir.now = clock.now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		set, err := dir.BlockedSet(ctx, "alice")
		if err != nil {
			t.Fatalf("blocked set: %v", err)
		}
		if _, ok := set["mallory"]; !ok {
			t.Fatal("blocked set missing mallory")
		}
	}
	if blocks.calls != 1 {
		t.Errorf("repository hit %d times within TTL, want 1", blocks.calls)
	}

	clock.advance(2 * time.Minute)
	if _, err := dir.BlockedSet(ctx, "alice"); err != nil {
		t.Fatalf("blocked set after expiry: %v", err)
	}
	if blocks.calls != 2 {
		t.Errorf("stale cache not refreshed: %d repository hits, want 2", blocks.calls)
	}
}

func TestDirectoryForgetDropsSnapshots(t *testing.T) {
	blocks := &countingBlockRepo{mockBlockRepo: newMockBlockRepo()}
	dir := NewDirectory(blocks, newMockReputationRepo(), time.Minute)
	ctx := context.Background()

	dir.BlockedSet(ctx, "alice")
	dir.Forget("alice")
	dir.BlockedSet(ctx, "alice")
	if blocks.calls != 2 {
		t.Errorf("forget did not drop the cached snapshot: %d hits, want 2", blocks.calls)
	}
}

func TestDirectoryCacheTTLIsBounded(t *testing.T) {
	dir := NewDirectory(newMockBlockRepo(), newMockReputationRepo(), time.Hour)
	if dir.ttl > 5*time.Minute {
		t.Errorf("cache TTL %v exceeds the five minute bound", dir.ttl)
	}
}
