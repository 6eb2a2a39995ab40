package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chattrix-calls/internal/lock"
	"chattrix-calls/pkg/logger"

	"github.com/google/uuid"
)

const (
	DefaultRingTimeout = 60 * time.Second

	ReasonDisconnected = "disconnected"
	ReasonMaxDuration  = "max_duration_exceeded"

	// expireBudget bounds the work of one timeout callback.
	expireBudget = 10 * time.Second
)

// Locker serializes work on a set of keys.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// TimeoutScheduler arms one cancellable callback per key.
type TimeoutScheduler interface {
	Arm(key string, d time.Duration, fn func())
	Cancel(key string) bool
}

// CredentialMinter issues media access credentials for a channel.
type CredentialMinter interface {
	Mint(ctx context.Context, channelID, participantID string) (Credential, error)
}

// Dispatcher delivers a signaling event to every live connection of a user.
type Dispatcher interface {
	SendToUser(ctx context.Context, userID, eventType string, payload any) error
}

// ProfileDirectory resolves display data for invitations.
type ProfileDirectory interface {
	Profile(ctx context.Context, userID string) (Profile, error)
}

// Observer is told about every committed transition. It must not block.
type Observer interface {
	CallChanged(ctx context.Context, c Call, event EventType, actorID, reason string)
}

type Options struct {
	RingTimeout time.Duration
	Locker      Locker
	Profiles    ProfileDirectory
	Observer    Observer
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Service drives calls through their lifecycle and narrates every transition
// to the participants.
//
// Initiation holds the lock of both users across the busy check and the insert.
// Every later transition holds the lock of the call and persists with a
// compare-and-set on status, so the first transition wins and the rest fail
// with ErrInvalidStatus.
type Service struct {
	repo     Repository
	guard    BusyGuard
	timers   TimeoutScheduler
	minter   CredentialMinter
	dispatch Dispatcher

	locks    Locker
	profiles ProfileDirectory
	observer Observer
	log      *slog.Logger
	clock    func() time.Time

	ringTimeout time.Duration
	channels    channelClock
}

func NewService(repo Repository, timers TimeoutScheduler, minter CredentialMinter, dispatch Dispatcher, opts Options) *Service {
	s := &Service{
		repo:        repo,
		guard:       NewBusyGuard(repo),
		timers:      timers,
		minter:      minter,
		dispatch:    dispatch,
		locks:       opts.Locker,
		profiles:    opts.Profiles,
		observer:    opts.Observer,
		log:         opts.Logger,
		clock:       opts.Clock,
		ringTimeout: opts.RingTimeout,
	}
	if s.locks == nil {
		s.locks = lock.NewLocal()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.ringTimeout <= 0 {
		s.ringTimeout = DefaultRingTimeout
	}
	return s
}

// Initiate arms the ring timeout of a new RINGING call, stores it, invites the callee and
// mints the caller's credential. A mint failure is returned wrapped in
// ErrCredentialGeneration together with the created call.
func (s *Service) Initiate(ctx context.Context, callerID, calleeID string, t Type) (Connection, error) {
	if callerID == "" || calleeID == "" {
		return Connection{}, fmt.Errorf("%w: caller and callee are required", ErrInvalidArgument)
	}
	if callerID == calleeID {
		return Connection{}, fmt.Errorf("%w: cannot call yourself", ErrInvalidArgument)
	}
	for _, id := range []string{callerID, calleeID} {
		if err := ValidateUserID(id); err != nil {
			return Connection{}, err
		}
	}
	if _, ok := ParseType(string(t)); !ok {
		return Connection{}, fmt.Errorf("%w: unknown call type %q", ErrInvalidArgument, t)
	}

	unlock, err := s.locks.Lock(ctx, userKey(callerID), userKey(calleeID))
	if err != nil {
		return Connection{}, fmt.Errorf("calls: lock participants: %w", err)
	}
	c, err := s.create(ctx, callerID, calleeID, t)
	unlock()
	if err != nil {
		return Connection{}, err
	}

	s.logFor(ctx).Info("call initiated", "call_id", c.ID, "caller_id", callerID, "callee_id", calleeID, "call_type", t)

	s.notify(ctx, c, EventIncoming, callerID, "")
	s.send(ctx, c.CalleeID, EventIncoming, incomingPayload(c, s.profile(ctx, callerID)))

	cred, err := s.mint(ctx, c, callerID)
	return Connection{Call: c, Credential: cred}, err
}

func (s *Service) create(ctx context.Context, callerID, calleeID string, t Type) (Call, error) {
	for _, u := range []string{callerID, calleeID} {
		busy, err := s.guard.IsBusy(ctx, u)
		if err != nil {
			return Call{}, err
		}
		if busy {
			return Call{}, fmt.Errorf("%w: user %s", ErrBusy, u)
		}
	}

	now := s.clock().UTC()
	channelID, err := ChannelID(s.channels.next(now), callerID, calleeID)
	if err != nil {
		return Call{}, err
	}
	c := Call{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		CallerID:  callerID,
		CalleeID:  calleeID,
		Type:      t,
		Status:    StatusRinging,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// Armed before the insert so that any transition that can see the call
	// also finds its timer to cancel.
	s.timers.Arm(c.ID, s.ringTimeout, func() { s.expire(c.ID) })
	if err := s.repo.Create(ctx, c); err != nil {
		s.timers.Cancel(c.ID)
		return Call{}, err
	}
	return c, nil
}

// Accept connects a ringing call. Only the callee may accept.
func (s *Service) Accept(ctx context.Context, callID, actorID string) (Connection, error) {
	c, err := s.transition(ctx, callID, StatusConnected, calleeOnly(actorID))
	if err != nil {
		return Connection{}, err
	}
	s.logFor(ctx).Info("call accepted", "call_id", c.ID, "user_id", actorID)

	cred, mintErr := s.mint(ctx, c, actorID)
	s.notify(ctx, c, EventAccepted, actorID, "")
	s.send(ctx, c.CallerID, EventAccepted, AcceptedPayload{CallID: c.ID, AcceptedBy: actorID})
	return Connection{Call: c, Credential: cred}, mintErr
}

// Reject declines a ringing call. Only the callee may reject.
func (s *Service) Reject(ctx context.Context, callID, actorID, reason string) (Call, error) {
	c, err := s.transition(ctx, callID, StatusRejected, calleeOnly(actorID))
	if err != nil {
		return Call{}, err
	}
	s.logFor(ctx).Info("call rejected", "call_id", c.ID, "user_id", actorID, "reason", reason)

	s.notify(ctx, c, EventRejected, actorID, reason)
	s.send(ctx, c.CallerID, EventRejected, RejectedPayload{CallID: c.ID, RejectedBy: actorID, Reason: reason})
	return c, nil
}

// End hangs up a ringing or connected call on behalf of either participant.
func (s *Service) End(ctx context.Context, callID, actorID, reason string) (Call, error) {
	c, err := s.transition(ctx, callID, StatusEnded, participantOnly(actorID))
	if err != nil {
		return Call{}, err
	}
	s.logFor(ctx).Info("call ended", "call_id", c.ID, "user_id", actorID, "reason", reason)

	s.notify(ctx, c, EventEnded, actorID, reason)
	s.send(ctx, c.OtherParty(actorID), EventEnded, endedPayload(c, actorID, reason))
	return c, nil
}

// ForceDisconnect ends the user's active call after their last connection
// dropped. Failures are logged only.
func (s *Service) ForceDisconnect(ctx context.Context, userID string) {
	log := s.logFor(ctx).With("user_id", userID)

	c, ok, err := s.guard.ActiveCall(ctx, userID)
	if err != nil {
		log.Error("force disconnect lookup failed", "err", err)
		return
	}
	if !ok {
		return
	}
	if _, err := s.End(ctx, c.ID, userID, ReasonDisconnected); err != nil {
		log.Warn("force disconnect failed", "call_id", c.ID, "err", err)
	}
}

// Terminate finalizes a call on behalf of the service itself. A MISSED outcome
// is narrated as a timeout, anything else as an end by SystemActor, to both
// participants. REJECTED stays reserved for the callee.
func (s *Service) Terminate(ctx context.Context, callID string, to Status, reason string) (Call, error) {
	if !CanTerminateTo(to) {
		return Call{}, fmt.Errorf("%w: cannot terminate a call as %q", ErrInvalidArgument, to)
	}
	c, err := s.transition(ctx, callID, to, nil)
	if err != nil {
		return Call{}, err
	}
	s.logFor(ctx).Info("call terminated", "call_id", c.ID, "status", to, "reason", reason)

	if to == StatusMissed {
		s.notify(ctx, c, EventTimeout, SystemActor, reason)
		s.sendBoth(ctx, c, EventTimeout, TimeoutPayload{CallID: c.ID, Reason: reason})
		return c, nil
	}
	s.notify(ctx, c, EventEnded, SystemActor, reason)
	s.sendBoth(ctx, c, EventEnded, endedPayload(c, SystemActor, reason))
	return c, nil
}

// CanTerminateTo reports whether to is an outcome the service may impose.
func CanTerminateTo(to Status) bool {
	switch to {
	case StatusFailed, StatusEnded, StatusMissed:
		return true
	}
	return false
}

// RefreshCredential mints a fresh credential for a participant of an active call.
func (s *Service) RefreshCredential(ctx context.Context, callID, actorID string) (Credential, error) {
	c, err := s.Get(ctx, callID, actorID)
	if err != nil {
		return Credential{}, err
	}
	if !c.Status.IsActive() {
		return Credential{}, fmt.Errorf("%w: call already %s", ErrInvalidStatus, c.Status)
	}
	cred, err := s.mint(ctx, c, actorID)
	if err != nil {
		return Credential{}, err
	}
	return *cred, nil
}

// Get returns a call visible to actorID.
func (s *Service) Get(ctx context.Context, callID, actorID string) (Call, error) {
	c, err := s.repo.FindByID(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if !c.IsParticipant(actorID) {
		return Call{}, ErrUnauthorized
	}
	return c, nil
}

func (s *Service) Active(ctx context.Context, userID string) (Call, bool, error) {
	return s.guard.ActiveCall(ctx, userID)
}

func (s *Service) History(ctx context.Context, userID string, q HistoryQuery) ([]Call, error) {
	if q.Status != "" {
		if _, ok := ParseStatus(string(q.Status)); !ok {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, q.Status)
		}
	}
	return s.repo.ListByUser(ctx, userID, q)
}

// HideFromHistory removes a finished call from actorID's history only. The
// record and the other participant's history are untouched.
func (s *Service) HideFromHistory(ctx context.Context, callID, actorID string) error {
	c, err := s.Get(ctx, callID, actorID)
	if err != nil {
		return err
	}
	if !c.Status.IsTerminal() {
		return fmt.Errorf("%w: call still %s", ErrInvalidStatus, c.Status)
	}
	if err := s.repo.HideForUser(ctx, callID, actorID); err != nil {
		return err
	}
	s.logFor(ctx).Info("call hidden from history", "call_id", callID, "user_id", actorID)
	return nil
}

// expire runs on the scheduler's worker pool when a ring timeout fires. The call
// may have been answered in the meantime; then this is a no-op.
func (s *Service) expire(callID string) {
	ctx, cancel := context.WithTimeout(context.Background(), expireBudget)
	defer cancel()
	log := s.log.With("call_id", callID)

	c, err := s.transition(ctx, callID, StatusMissed, ringingOnly)
	if errors.Is(err, ErrInvalidStatus) {
		log.Debug("ring timeout ignored", "reason", err)
		return
	}
	if err != nil {
		log.Error("ring timeout failed", "err", err)
		return
	}
	log.Info("call missed")

	s.notify(ctx, c, EventTimeout, SystemActor, ReasonNoAnswer)
	s.sendBoth(ctx, c, EventTimeout, TimeoutPayload{CallID: c.ID, Reason: ReasonNoAnswer})
}

// transition loads the call under its lock, authorizes the actor, applies the
// edge and persists it with a compare-and-set on the previous status.
func (s *Service) transition(ctx context.Context, callID string, to Status, authorize func(Call) error) (Call, error) {
	if callID == "" {
		return Call{}, fmt.Errorf("%w: call id is required", ErrInvalidArgument)
	}
	unlock, err := s.locks.Lock(ctx, callKey(callID))
	if err != nil {
		return Call{}, fmt.Errorf("calls: lock call: %w", err)
	}
	defer unlock()

	c, err := s.repo.FindByID(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if authorize != nil {
		if err := authorize(c); err != nil {
			return Call{}, err
		}
	}

	prev := c.Status
	if err := c.Transition(to, s.clock().UTC()); err != nil {
		return Call{}, err
	}
	if err := s.repo.UpdateStatus(ctx, c, prev); err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return Call{}, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
		}
		return Call{}, err
	}
	if prev == StatusRinging {
		s.timers.Cancel(c.ID)
	}
	return c, nil
}

func calleeOnly(actorID string) func(Call) error {
	return func(c Call) error {
		if actorID == "" || actorID != c.CalleeID {
			return fmt.Errorf("%w: only the callee can answer", ErrUnauthorized)
		}
		return nil
	}
}

func participantOnly(actorID string) func(Call) error {
	return func(c Call) error {
		if !c.IsParticipant(actorID) {
			return fmt.Errorf("%w: not a participant", ErrUnauthorized)
		}
		return nil
	}
}

func ringingOnly(c Call) error {
	if c.Status != StatusRinging {
		return fmt.Errorf("%w: call already %s", ErrInvalidStatus, c.Status)
	}
	return nil
}

func (s *Service) mint(ctx context.Context, c Call, participantID string) (*Credential, error) {
	cred, err := s.minter.Mint(ctx, c.ChannelID, participantID)
	if err != nil {
		s.logFor(ctx).Error("credential mint failed", "call_id", c.ID, "user_id", participantID, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrCredentialGeneration, err)
	}
	return &cred, nil
}

func (s *Service) send(ctx context.Context, userID string, evt EventType, payload any) {
	// Delivery must not depend on the lifetime of the request that caused it.
	ctx = context.WithoutCancel(ctx)
	if err := s.dispatch.SendToUser(ctx, userID, string(evt), payload); err != nil {
		s.logFor(ctx).Warn("signaling dispatch failed", "event", evt, "user_id", userID, "err", err)
	}
}

func (s *Service) sendBoth(ctx context.Context, c Call, evt EventType, payload any) {
	s.send(ctx, c.CallerID, evt, payload)
	s.send(ctx, c.CalleeID, evt, payload)
}

func (s *Service) notify(ctx context.Context, c Call, evt EventType, actorID, reason string) {
	if s.observer != nil {
		s.observer.CallChanged(ctx, c, evt, actorID, reason)
	}
}

func (s *Service) profile(ctx context.Context, userID string) Profile {
	if s.profiles == nil {
		return Profile{UserID: userID}
	}
	p, err := s.profiles.Profile(ctx, userID)
	if err != nil {
		s.logFor(ctx).Warn("profile lookup failed", "user_id", userID, "err", err)
		return Profile{UserID: userID}
	}
	return p
}

func (s *Service) logFor(ctx context.Context) *slog.Logger {
	if l, ok := logger.Lookup(ctx); ok {
		return l
	}
	return s.log
}

func userKey(id string) string { return "user:" + id }
func callKey(id string) string { return "call:" + id }
