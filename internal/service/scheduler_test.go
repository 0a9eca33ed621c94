package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sirenlink/internal/models"
)

type fireRecorder struct {
	mu    sync.Mutex
	fired []string
	err   error
}

func (r *fireRecorder) fire(_ context.Context, deviceID, commandID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, deviceID+"/"+commandID)
	return r.err
}

func (r *fireRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func newTestScheduler() (*AutoOffScheduler, *fakeClock, *fakeDeadlineRepo, *fireRecorder) {
	clock := newFakeClock()
	repo := newFakeDeadlineRepo()
	s := NewAutoOffScheduler(clock, repo, nil)
	rec := &fireRecorder{}
	s.SetFireFunc(rec.fire)
	return s, clock, repo, rec
}

func TestScheduler_FiresAfterTTL(t *testing.T) {
	s, clock, repo, rec := newTestScheduler()
	ctx := context.Background()

	s.Arm(ctx, "SRN-001", "c1", 5*time.Second)
	if !repo.has("SRN-001") {
		t.Fatalf("arming must persist a deadline")
	}

	clock.Advance(4999 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("fired before deadline")
	}
	clock.Advance(time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("expected one firing, got %d", rec.count())
	}
	if _, armed := s.Armed("SRN-001"); armed {
		t.Fatalf("device still armed after firing")
	}
	if repo.has("SRN-001") {
		t.Fatalf("deadline row must be removed after firing")
	}
}

// A later ON replaces the earlier timer rather than adding to it.
func TestScheduler_LatestTTLWins(t *testing.T) {
	s, clock, _, rec := newTestScheduler()
	ctx := context.Background()
	start := clock.Now()

	s.Arm(ctx, "SRN-001", "c1", 5000*time.Millisecond)
	clock.Advance(1000 * time.Millisecond)
	s.Arm(ctx, "SRN-001", "c2", 10000*time.Millisecond)

	clock.Advance(9999 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("replaced timer fired: %v", rec.fired)
	}
	clock.Advance(time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("expected exactly one firing, got %d", rec.count())
	}
	if got := clock.Now().Sub(start); got != 11000*time.Millisecond {
		t.Fatalf("fired at %v after first dispatch, want 11s", got)
	}
	if rec.fired[0] != "SRN-001/c2" {
		t.Fatalf("fired for %s, want the latest command", rec.fired[0])
	}

	clock.Advance(time.Hour)
	if rec.count() != 1 {
		t.Fatalf("double firing: %v", rec.fired)
	}
}

func TestScheduler_CancelPreventsFiring(t *testing.T) {
	s, clock, repo, rec := newTestScheduler()
	ctx := context.Background()

	s.Arm(ctx, "SRN-001", "c1", time.Second)
	clock.Advance(500 * time.Millisecond)
	s.Cancel(ctx, "SRN-001")
	clock.Advance(time.Hour)

	if rec.count() != 0 {
		t.Fatalf("cancelled timer fired %d times", rec.count())
	}
	if repo.has("SRN-001") {
		t.Fatalf("cancel must delete the deadline row")
	}
	// idempotent
	s.Cancel(ctx, "SRN-001")
}

func TestScheduler_DevicesAreIndependent(t *testing.T) {
	s, clock, _, rec := newTestScheduler()
	ctx := context.Background()

	s.Arm(ctx, "A", "a1", time.Second)
	s.Arm(ctx, "B", "b1", 2*time.Second)
	s.Cancel(ctx, "A")
	clock.Advance(3 * time.Second)

	if rec.count() != 1 || rec.fired[0] != "B/b1" {
		t.Fatalf("fired = %v, want only B", rec.fired)
	}
}

func TestScheduler_RetriesFailedFiring(t *testing.T) {
	s, clock, repo, rec := newTestScheduler()
	ctx := context.Background()
	rec.err = errors.New("broker down")

	s.Arm(ctx, "SRN-001", "c1", time.Second)
	clock.Advance(time.Second)
	if rec.count() != 1 {
		t.Fatalf("expected first attempt, got %d", rec.count())
	}
	if _, armed := s.Armed("SRN-001"); !armed {
		t.Fatalf("failed firing must stay armed for retry")
	}
	if !repo.has("SRN-001") {
		t.Fatalf("failed firing must keep the deadline row")
	}

	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()
	clock.Advance(autoOffRetryDelay)
	if rec.count() != 2 {
		t.Fatalf("expected retry, got %d attempts", rec.count())
	}
	if _, armed := s.Armed("SRN-001"); armed {
		t.Fatalf("successful retry must disarm")
	}
}

func TestScheduler_RestoreRearmsAndFiresExpired(t *testing.T) {
	clock := newFakeClock()
	repo := newFakeDeadlineRepo()
	ctx := context.Background()
	now := clock.Now()
	_ = repo.Save(ctx, models.AutoOffDeadline{DeviceID: "past", CommandID: "p1", Deadline: now.Add(-time.Minute)})
	_ = repo.Save(ctx, models.AutoOffDeadline{DeviceID: "future", CommandID: "f1", Deadline: now.Add(time.Minute)})

	s := NewAutoOffScheduler(clock, repo, nil)
	rec := &fireRecorder{}
	s.SetFireFunc(rec.fire)

	n, err := s.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 2 {
		t.Fatalf("restored %d, want 2", n)
	}

	clock.Advance(0)
	if rec.count() != 1 || rec.fired[0] != "past/p1" {
		t.Fatalf("expired deadline should fire at once, got %v", rec.fired)
	}
	clock.Advance(time.Minute)
	if rec.count() != 2 {
		t.Fatalf("future deadline did not fire: %v", rec.fired)
	}
}

func TestScheduler_StopKeepsDeadlines(t *testing.T) {
	s, clock, repo, rec := newTestScheduler()
	ctx := context.Background()

	s.Arm(ctx, "SRN-001", "c1", time.Second)
	s.Stop()
	clock.Advance(time.Minute)

	if rec.count() != 0 {
		t.Fatalf("stopped scheduler fired")
	}
	if !repo.has("SRN-001") {
		t.Fatalf("stop must leave the deadline for the next start")
	}
	if clock.active() != 0 {
		t.Fatalf("stop must release timers, %d still active", clock.active())
	}
}

func TestScheduler_ArmDuringFiringKeepsNewDeadline(t *testing.T) {
	clock := newFakeClock()
	repo := newFakeDeadlineRepo()
	s := NewAutoOffScheduler(clock, repo, nil)
	ctx := context.Background()
	s.SetFireFunc(func(ctx context.Context, deviceID, _ string) error {
		s.Arm(ctx, deviceID, "c2", time.Minute)
		return nil
	})

	s.Arm(ctx, "SRN-001", "c1", time.Second)
	clock.Advance(time.Second)

	if _, armed := s.Armed("SRN-001"); !armed {
		t.Fatalf("arming during a firing must survive it")
	}
	rows, _ := repo.List(ctx)
	if len(rows) != 1 || rows[0].CommandID != "c2" || !rows[0].Deadline.Equal(clock.Now().Add(time.Minute)) {
		t.Fatalf("deadline rows = %+v, want the c2 deadline", rows)
	}
}

func TestScheduler_CancelRemovesStaleRow(t *testing.T) {
	s, _, repo, _ := newTestScheduler()
	ctx := context.Background()
	_ = repo.Save(ctx, models.AutoOffDeadline{DeviceID: "SRN-001", CommandID: "old", Deadline: time.Now()})

	s.Cancel(ctx, "SRN-001")
	if repo.has("SRN-001") {
		t.Fatalf("cancel must clear a row even when nothing is armed in memory")
	}
}
