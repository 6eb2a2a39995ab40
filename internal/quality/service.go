package quality

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chattrix-calls/internal/calls"
	"chattrix-calls/pkg/logger"

	"github.com/google/uuid"
)

// EventQualityWarning tells a participant that the other side's link degraded.
const EventQualityWarning = "call.quality_warning"

type WarningPayload struct {
	CallID     string `json:"callId"`
	Quality    Level  `json:"quality"`
	ReportedBy string `json:"reportedBy"`
}

// Repository stores quality samples. It is append-only.
type Repository interface {
	Append(ctx context.Context, m Metric) error
	ListByCall(ctx context.Context, callID string) ([]Metric, error)
}

// CallLookup returns a call visible to actorID, failing with calls.ErrNotFound
// or calls.ErrUnauthorized. *calls.Service satisfies it.
type CallLookup interface {
	Get(ctx context.Context, callID, actorID string) (calls.Call, error)
}

// Service records participant quality reports and warns the other side of an
// active call when a link degrades.
type Service struct {
	repo     Repository
	calls    CallLookup
	dispatch calls.Dispatcher
	clock    func() time.Time
	log      *slog.Logger
}

func NewService(repo Repository, lookup CallLookup, dispatch calls.Dispatcher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, calls: lookup, dispatch: dispatch, clock: time.Now, log: log}
}

// Report stores one sample from userID. Only participants may report.
func (s *Service) Report(ctx context.Context, callID, userID string, r Report) (Metric, error) {
	c, err := s.calls.Get(ctx, callID, userID)
	if err != nil {
		return Metric{}, err
	}
	level, err := validate(r)
	if err != nil {
		return Metric{}, err
	}

	m := Metric{
		ID:              uuid.NewString(),
		CallID:          c.ID,
		UserID:          userID,
		NetworkQuality:  level,
		PacketLossRate:  r.PacketLossRate,
		RoundTripTimeMs: r.RoundTripTimeMs,
		RecordedAt:      s.clock().UTC(),
	}
	if r.RecordedAt != nil {
		m.RecordedAt = r.RecordedAt.UTC()
	}
	if err := s.repo.Append(ctx, m); err != nil {
		return Metric{}, fmt.Errorf("quality: store sample: %w", err)
	}

	if level.Degraded() && c.Status.IsActive() {
		s.warn(ctx, c, userID, level)
	}
	return m, nil
}

// Stats aggregates all samples of a call for one of its participants.
func (s *Service) Stats(ctx context.Context, callID, userID string) (Stats, error) {
	c, err := s.calls.Get(ctx, callID, userID)
	if err != nil {
		return Stats{}, err
	}
	metrics, err := s.repo.ListByCall(ctx, c.ID)
	if err != nil {
		return Stats{}, fmt.Errorf("quality: list samples: %w", err)
	}
	return Summarize(c.ID, metrics), nil
}

func validate(r Report) (Level, error) {
	level, ok := ParseLevel(r.NetworkQuality)
	if !ok {
		return "", fmt.Errorf("%w: network_quality must be one of excellent, good, poor, bad, very_bad, unknown", calls.ErrInvalidArgument)
	}
	if p := r.PacketLossRate; p != nil && (*p < 0 || *p > 1) {
		return "", fmt.Errorf("%w: packet_loss_rate must be between 0 and 1", calls.ErrInvalidArgument)
	}
	if rtt := r.RoundTripTimeMs; rtt != nil && *rtt < 0 {
		return "", fmt.Errorf("%w: round_trip_time_ms must not be negative", calls.ErrInvalidArgument)
	}
	return level, nil
}

func (s *Service) warn(ctx context.Context, c calls.Call, reporter string, level Level) {
	log := s.log
	if l, ok := logger.Lookup(ctx); ok {
		log = l
	}
	to := c.OtherParty(reporter)
	payload := WarningPayload{CallID: c.ID, Quality: level, ReportedBy: reporter}
	if err := s.dispatch.SendToUser(context.WithoutCancel(ctx), to, EventQualityWarning, payload); err != nil {
		log.Warn("quality warning not delivered", "call_id", c.ID, "user_id", to, "err", err)
		return
	}
	log.Info("quality warning sent", "call_id", c.ID, "reported_by", reporter, "quality", level)
}
