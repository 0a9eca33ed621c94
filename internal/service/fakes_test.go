package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"sirenlink/internal/models"
	"sirenlink/internal/repository"
	"sirenlink/internal/transport"
)

// fakeClock only fires timers from Advance, never from AfterFunc, so callers
// holding their own locks while arming cannot deadlock.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs every due timer in deadline order,
// including timers armed by callbacks that fall inside the window.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		next := due[0]
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
	}
}

// active counts timers that are neither stopped nor fired.
func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// publishGate holds auto-off publishes until release is closed.
type publishGate struct {
	entered chan struct{}
	release chan struct{}
}

func newPublishGate() *publishGate {
	return &publishGate{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	publishErr error // returned before the message is taken
	sentErr    error // returned after the message is taken
	ctxErrs    []error
	autoGate   *publishGate
	sent       []published
	subs       map[string]transport.Handler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true, subs: map[string]transport.Handler{}}
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) ClientID() string { return "backend-api_test" }

func (f *fakeTransport) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	gate := f.autoGate
	f.mu.Unlock()
	if gate != nil && isAutoPayload(payload) {
		gate.entered <- struct{}{}
		<-gate.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.publishErr != nil {
		return f.publishErr
	}
	f.sent = append(f.sent, published{topic: topic, qos: qos, retained: retained, payload: payload})
	return f.sentErr
}

func (f *fakeTransport) setSentErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentErr = err
}

func isAutoPayload(raw []byte) bool {
	var p models.CommandPayload
	return json.Unmarshal(raw, &p) == nil && p.Cause == models.CauseAuto
}

func (f *fakeTransport) Subscribe(topic string, _ byte, h transport.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = h
	return nil
}

func (f *fakeTransport) Close() {}

func (f *fakeTransport) sentMessages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.sent...)
}

var _ transport.Client = (*fakeTransport)(nil)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type fakeActivationRepo struct {
	mu        sync.Mutex
	entries   []models.ActivationLog
	appendErr error
	lastQuery repository.ActivationQuery
}

func (r *fakeActivationRepo) Append(_ context.Context, e models.ActivationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *fakeActivationRepo) List(_ context.Context, q repository.ActivationQuery) ([]models.ActivationLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastQuery = q
	return append([]models.ActivationLog(nil), r.entries...), nil
}

func (r *fakeActivationRepo) all() []models.ActivationLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ActivationLog(nil), r.entries...)
}

type fakeSirenRepo struct {
	mu          sync.Mutex
	sirens      map[string]models.Siren
	assignments map[[2]int]bool
	getErr      error
	nextID      int
}

func newFakeSirenRepo(sirens ...models.Siren) *fakeSirenRepo {
	r := &fakeSirenRepo{sirens: map[string]models.Siren{}, assignments: map[[2]int]bool{}, nextID: 100}
	for _, s := range sirens {
		r.sirens[s.DeviceID] = s
	}
	return r
}

func (r *fakeSirenRepo) GetByDeviceID(_ context.Context, deviceID string) (*models.Siren, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	s, ok := r.sirens[deviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *fakeSirenRepo) Create(_ context.Context, s models.Siren) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.sirens[s.DeviceID]; dup {
		return 0, errors.New("duplicate device")
	}
	r.nextID++
	s.ID = r.nextID
	r.sirens[s.DeviceID] = s
	return s.ID, nil
}

func (r *fakeSirenRepo) List(_ context.Context, urb *int) ([]models.Siren, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Siren{}
	for _, s := range r.sirens {
		if urb == nil || (s.UrbanizationID != nil && *s.UrbanizationID == *urb) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeSirenRepo) HasActiveAssignment(_ context.Context, userID, sirenID int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assignments[[2]int{userID, sirenID}], nil
}

func (r *fakeSirenRepo) Assign(_ context.Context, userID, sirenID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[[2]int{userID, sirenID}] = true
	return len(r.assignments), nil
}

type fakeDeadlineRepo struct {
	mu    sync.Mutex
	items map[string]models.AutoOffDeadline
}

func newFakeDeadlineRepo() *fakeDeadlineRepo {
	return &fakeDeadlineRepo{items: map[string]models.AutoOffDeadline{}}
}

func (r *fakeDeadlineRepo) Save(_ context.Context, d models.AutoOffDeadline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[d.DeviceID] = d
	return nil
}

func (r *fakeDeadlineRepo) Delete(_ context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, deviceID)
	return nil
}

func (r *fakeDeadlineRepo) List(_ context.Context) ([]models.AutoOffDeadline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AutoOffDeadline, 0, len(r.items))
	for _, d := range r.items {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (r *fakeDeadlineRepo) has(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[deviceID]
	return ok
}

type fakeStateRepo struct {
	mu        sync.Mutex
	saved     map[string]models.DeviceState
	upsertErr error
}

func newFakeStateRepo() *fakeStateRepo {
	return &fakeStateRepo{saved: map[string]models.DeviceState{}}
}

func (r *fakeStateRepo) Upsert(_ context.Context, s models.DeviceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.saved[s.DeviceID] = s
	return nil
}

func (r *fakeStateRepo) Get(_ context.Context, deviceID string) (models.DeviceState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.saved[deviceID]
	if !ok {
		return models.DeviceState{}, repository.ErrNotFound
	}
	return s, nil
}

type fakeCache struct {
	mu     sync.Mutex
	set    []models.DeviceState
	err    error
	getErr error
}

func (c *fakeCache) Set(_ context.Context, s models.DeviceState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set = append(c.set, s)
	return c.err
}

// Get returns the latest Set for deviceID, or (nil, nil) like a cache miss.
func (c *fakeCache) Get(_ context.Context, deviceID string) (*models.DeviceState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	for i := len(c.set) - 1; i >= 0; i-- {
		if c.set[i].DeviceID == deviceID {
			s := c.set[i]
			return &s, nil
		}
	}
	return nil, nil
}

type event struct {
	name string
	data interface{}
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []event
}

func (b *fakeBroadcaster) Publish(name string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event{name: name, data: data})
}

func (b *fakeBroadcaster) all() []event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]event(nil), b.events...)
}

func intp(v int) *int { return &v }

// harness wires the device-side components against fakes.
type harness struct {
	clock      *fakeClock
	client     *fakeTransport
	ledgerRepo *fakeActivationRepo
	sirens     *fakeSirenRepo
	deadlines  *fakeDeadlineRepo
	snapshots  *fakeStateRepo
	cache      *fakeCache
	events     *fakeBroadcaster

	store      *StateStore
	pending    *PendingCommands
	ledger     *Ledger
	scheduler  *AutoOffScheduler
	dispatcher *Dispatcher
	ingestor   *Ingestor
}

const testDefaultTTL = 5 * time.Minute

func newHarness(sirens ...models.Siren) *harness {
	h := &harness{
		clock:      newFakeClock(),
		client:     newFakeTransport(),
		ledgerRepo: &fakeActivationRepo{},
		sirens:     newFakeSirenRepo(sirens...),
		deadlines:  newFakeDeadlineRepo(),
		snapshots:  newFakeStateRepo(),
		cache:      &fakeCache{},
		events:     &fakeBroadcaster{},
		store:      NewStateStore(),
	}
	h.pending = NewPendingCommands(2*time.Minute, h.clock)
	h.ledger = NewLedger(h.ledgerRepo, h.clock, nil)
	h.scheduler = NewAutoOffScheduler(h.clock, h.deadlines, nil)
	h.dispatcher = NewDispatcher(h.client, h.scheduler, h.pending, h.ledger, h.sirens, h.clock, testDefaultTTL, nil)
	h.ingestor = NewIngestor(IngestorDeps{
		Store:     h.store,
		Snapshots: h.snapshots,
		Cache:     h.cache,
		Events:    h.events,
		Ledger:    h.ledger,
		Sirens:    h.sirens,
		Pending:   h.pending,
		Clock:     h.clock,
	})
	return h
}

func (h *harness) deliver(topic, payload string) {
	h.ingestor.HandleMessage(context.Background(), fakeMessage{topic: topic, payload: []byte(payload)})
}
