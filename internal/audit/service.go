package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chattrix-calls/internal/calls"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call events. It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByCall(ctx context.Context, callID string) ([]Event, error)
}

// Service records the call event log. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
	log   *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, clock: time.Now, log: log}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.CallID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) Timeline(ctx context.Context, callID string) ([]Event, error) {
	if callID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.ListByCall(ctx, callID)
}

// CallChanged implements calls.Observer. Append failures are logged and dropped.
func (s *Service) CallChanged(ctx context.Context, c calls.Call, event calls.EventType, actorID, reason string) {
	err := s.Append(context.WithoutCancel(ctx), Event{
		CallID:          c.ID,
		Type:            EventType(event),
		ActorUserID:     actorID,
		CallerID:        c.CallerID,
		CalleeID:        c.CalleeID,
		Status:          string(c.Status),
		Reason:          reason,
		DurationSeconds: c.DurationSeconds,
	})
	if err != nil {
		s.log.Warn("call event not recorded", "call_id", c.ID, "event", event, "err", err)
	}
}
