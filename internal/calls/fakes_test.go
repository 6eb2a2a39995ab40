package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// manualTimers records armed callbacks; tests fire them explicitly.
type manualTimers struct {
	mu      sync.Mutex
	pending map[string]func()
	armedD  map[string]time.Duration
}

func newManualTimers() *manualTimers {
	return &manualTimers{pending: map[string]func(){}, armedD: map[string]time.Duration{}}
}

func (m *manualTimers) Arm(key string, d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[key] = fn
	m.armedD[key] = d
}

func (m *manualTimers) Cancel(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[key]
	delete(m.pending, key)
	return ok
}

func (m *manualTimers) armed(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[key]
	return ok
}

func (m *manualTimers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// take removes the callback as if the timer had just fired.
func (m *manualTimers) take(key string) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn := m.pending[key]
	delete(m.pending, key)
	return fn
}

type sentEvent struct {
	UserID  string
	Type    string
	Payload any
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sentEvent
	err  error
}

func (d *recordingDispatcher) SendToUser(_ context.Context, userID, eventType string, payload any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentEvent{UserID: userID, Type: eventType, Payload: payload})
	return d.err
}

func (d *recordingDispatcher) eventsFor(userID string) []sentEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]sentEvent, 0)
	for _, e := range d.sent {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (d *recordingDispatcher) count(eventType EventType, callID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.sent {
		if e.Type == string(eventType) && payloadCallID(e.Payload) == callID {
			n++
		}
	}
	return n
}

func payloadCallID(p any) string {
	switch v := p.(type) {
	case IncomingPayload:
		return v.CallID
	case AcceptedPayload:
		return v.CallID
	case RejectedPayload:
		return v.CallID
	case EndedPayload:
		return v.CallID
	case TimeoutPayload:
		return v.CallID
	default:
		return ""
	}
}

type fakeMinter struct {
	mu     sync.Mutex
	err    error
	minted []string
}

func (m *fakeMinter) Mint(_ context.Context, channelID, participantID string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Credential{}, m.err
	}
	m.minted = append(m.minted, participantID)
	return Credential{Token: "tok:" + channelID + ":" + participantID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type staticProfiles map[string]Profile

func (p staticProfiles) Profile(_ context.Context, userID string) (Profile, error) {
	if v, ok := p[userID]; ok {
		return v, nil
	}
	return Profile{}, errors.New("unknown user")
}

type recordingObserver struct {
	mu     sync.Mutex
	events []EventType
}

func (o *recordingObserver) CallChanged(_ context.Context, _ Call, event EventType, _, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

type harness struct {
	svc      *Service
	repo     *MemoryRepo
	timers   *manualTimers
	dispatch *recordingDispatcher
	minter   *fakeMinter
	observer *recordingObserver
	clock    *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:     NewMemoryRepo(),
		timers:   newManualTimers(),
		dispatch: &recordingDispatcher{},
		minter:   &fakeMinter{},
		observer: &recordingObserver{},
		clock:    newFakeClock(),
	}
	h.svc = NewService(h.repo, h.timers, h.minter, h.dispatch, Options{
		Profiles: staticProfiles{"1": {UserID: "1", DisplayName: "Alice", AvatarURL: "https://cdn.example/alice.png"}},
		Observer: h.observer,
		Clock:    h.clock.Now,
	})
	return h
}


// hookRepo fails Create with createErr, or runs afterCreate once a call has
// been stored.
type hookRepo struct {
	*MemoryRepo
	createErr   error
	afterCreate func(Call)
}

func (r *hookRepo) Create(ctx context.Context, c Call) error {
	if r.createErr != nil {
		return r.createErr
	}
	if err := r.MemoryRepo.Create(ctx, c); err != nil {
		return err
	}
	if r.afterCreate != nil {
		r.afterCreate(c)
	}
	return nil
}
