package service

import (
	"context"
	"sync"
	"time"

	"sirenlink/internal/logger"
	"sirenlink/internal/metrics"
	"sirenlink/internal/models"
	"sirenlink/internal/repository"
)

const (
	autoOffFireTimeout = 10 * time.Second
	autoOffRetryDelay  = 30 * time.Second
)

// FireFunc issues the automatic OFF for deviceID. A non-nil error leaves the
// deadline in place and the scheduler retries later.
type FireFunc func(ctx context.Context, deviceID, armedCommandID string) error

type armedTimer struct {
	gen       uint64
	commandID string
	deadline  time.Time
	timer     Timer
}

// AutoOffScheduler keeps at most one auto-off timer per device. Arming
// replaces any outstanding timer; a replaced or cancelled timer that still
// fires is recognised by its generation and does nothing.
type AutoOffScheduler struct {
	clock     Clock
	deadlines repository.DeadlineRepo
	log       *logger.Logger

	mu      sync.Mutex
	timers  map[string]*armedTimer
	nextGen uint64
	fire    FireFunc
	stopped bool

	// persistMu orders deadline writes; see persist.
	persistMu sync.Mutex
}

// NewAutoOffScheduler builds a scheduler. deadlines may be nil, which disables
// restart recovery.
func NewAutoOffScheduler(clock Clock, deadlines repository.DeadlineRepo, log *logger.Logger) *AutoOffScheduler {
	return &AutoOffScheduler{
		clock:     clock,
		deadlines: deadlines,
		log:       logger.OrNop(log),
		timers:    make(map[string]*armedTimer),
	}
}

// SetFireFunc installs the expiry action. The dispatcher calls this on construction.
func (s *AutoOffScheduler) SetFireFunc(f FireFunc) {
	s.mu.Lock()
	s.fire = f
	s.mu.Unlock()
}

// Arm (re)arms the timer for deviceID so it expires ttl from now.
func (s *AutoOffScheduler) Arm(ctx context.Context, deviceID, commandID string, ttl time.Duration) {
	deadline := s.clock.Now().Add(ttl)
	if !s.armAt(deviceID, commandID, deadline) {
		return
	}
	s.log.Infow("auto_off_armed", "device_id", deviceID, "command_id", commandID, "ttl", ttl, "deadline", deadline)
	s.persist(ctx, deviceID)
}

func (s *AutoOffScheduler) armAt(deviceID, commandID string, deadline time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if prev, ok := s.timers[deviceID]; ok {
		prev.timer.Stop()
	}

	s.nextGen++
	gen := s.nextGen
	delay := deadline.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	s.timers[deviceID] = &armedTimer{
		gen:       gen,
		commandID: commandID,
		deadline:  deadline,
		timer:     s.clock.AfterFunc(delay, func() { s.expire(deviceID, gen) }),
	}
	metrics.AutoOffArmed.Set(float64(len(s.timers)))
	return true
}

// Cancel disarms deviceID. It is a no-op when nothing is armed.
func (s *AutoOffScheduler) Cancel(ctx context.Context, deviceID string) {
	s.mu.Lock()
	t, ok := s.timers[deviceID]
	if ok {
		t.timer.Stop()
		delete(s.timers, deviceID)
		metrics.AutoOffArmed.Set(float64(len(s.timers)))
	}
	s.mu.Unlock()

	if ok {
		s.log.Infow("auto_off_cancelled", "device_id", deviceID, "command_id", t.commandID)
	}
	s.persist(ctx, deviceID)
}

// persist makes the deadline row for deviceID match memory: a row while a
// timer is armed, none otherwise. Calls are serialised and each one reads the
// timer afresh, so whichever write lands last reflects the latest Arm or Cancel.
func (s *AutoOffScheduler) persist(ctx context.Context, deviceID string) {
	if s.deadlines == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	t, armed := s.timers[deviceID]
	var row models.AutoOffDeadline
	if armed {
		row = models.AutoOffDeadline{DeviceID: deviceID, CommandID: t.commandID, Deadline: t.deadline}
	}
	s.mu.Unlock()

	if armed {
		if err := s.deadlines.Save(ctx, row); err != nil {
			s.log.Errorw("auto_off_deadline_save_failed", "device_id", deviceID, "err", err)
		}
		return
	}
	if err := s.deadlines.Delete(ctx, deviceID); err != nil {
		s.log.Errorw("auto_off_deadline_delete_failed", "device_id", deviceID, "err", err)
	}
}

// Armed reports the pending deadline for deviceID.
func (s *AutoOffScheduler) Armed(deviceID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[deviceID]
	if !ok {
		return time.Time{}, false
	}
	return t.deadline, true
}

func (s *AutoOffScheduler) expire(deviceID string, gen uint64) {
	s.mu.Lock()
	t, ok := s.timers[deviceID]
	if !ok || t.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, deviceID)
	metrics.AutoOffArmed.Set(float64(len(s.timers)))
	fire := s.fire
	s.mu.Unlock()

	if fire == nil {
		s.log.Errorw("auto_off_no_fire_func", "device_id", deviceID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), autoOffFireTimeout)
	defer cancel()

	s.log.Infow("auto_off_firing", "device_id", deviceID, "command_id", t.commandID)
	if err := fire(ctx, deviceID, t.commandID); err != nil {
		s.log.Errorw("auto_off_fire_failed", "device_id", deviceID, "err", err, "retry_in", autoOffRetryDelay)
		s.retry(deviceID, t.commandID)
	}
	// A command dispatched while the OFF was in flight may have re-armed the
	// device; persist keeps its row in that case.
	s.persist(ctx, deviceID)
}

// retry re-arms a failed firing unless a newer command already took over the device.
func (s *AutoOffScheduler) retry(deviceID, commandID string) {
	s.mu.Lock()
	_, taken := s.timers[deviceID]
	s.mu.Unlock()
	if taken {
		return
	}
	s.armAt(deviceID, commandID, s.clock.Now().Add(autoOffRetryDelay))
}

// Restore re-arms persisted deadlines after a restart. Deadlines already in
// the past fire immediately.
func (s *AutoOffScheduler) Restore(ctx context.Context) (int, error) {
	if s.deadlines == nil {
		return 0, nil
	}
	list, err := s.deadlines.List(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	for _, d := range list {
		s.armAt(d.DeviceID, d.CommandID, d.Deadline)
		s.log.Infow("auto_off_restored", "device_id", d.DeviceID, "command_id", d.CommandID,
			"deadline", d.Deadline, "overdue", !d.Deadline.After(now))
	}
	return len(list), nil
}

// Stop halts all timers. Persisted deadlines are kept for the next Restore.
func (s *AutoOffScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, id)
	}
	metrics.AutoOffArmed.Set(0)
}
