package reporting

import (
	"context"
	"errors"
	"time"

	"chattrix-calls/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts read access to call records. calls.MemoryRepo and
// calls.PostgresRepo both satisfy it.
type Repository interface {
	ListCalls(ctx context.Context, userID string, from, to time.Time) ([]calls.Call, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) Statistics(ctx context.Context, req StatisticsRequest) (Statistics, error) {
	if req.UserID == "" {
		return Statistics{}, ErrInvalidRequest
	}
	if req.Period == "" {
		req.Period = PeriodWeek
	}
	if req.Now.IsZero() {
		req.Now = time.Now().UTC()
	}
	rng, ok := req.Period.Range(req.Now)
	if !ok {
		return Statistics{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Statistics{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.UserID, rng.From, rng.To)
	if err != nil {
		return Statistics{}, err
	}

	out := Statistics{
		UserID:   req.UserID,
		Period:   req.Period,
		Range:    rng,
		ByType:   map[calls.Type]int{},
		ByStatus: map[calls.Status]int{},
	}
	for _, c := range rows {
		out.TotalCalls++
		if c.CallerID == req.UserID {
			out.OutgoingCalls++
		} else {
			out.IncomingCalls++
		}
		out.ByType[c.Type]++
		out.ByStatus[c.Status]++

		if c.StartTime != nil {
			out.ConnectedCalls++
			if c.DurationSeconds != nil {
				out.TotalDurationSeconds += *c.DurationSeconds
			}
		}
	}
	if out.ConnectedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.ConnectedCalls
	}
	return out, nil
}
