package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"chattrix-calls/internal/calls"
)

func seed(t *testing.T, repo *calls.MemoryRepo, c calls.Call) {
	t.Helper()
	if err := repo.Create(context.Background(), c); err != nil {
		t.Fatalf("seed %s: %v", c.ID, err)
	}
}

func finished(id, caller, callee string, typ calls.Type, st calls.Status, created time.Time, dur int) calls.Call {
	c := calls.Call{ID: id, ChannelID: "channel_" + id, CallerID: caller, CalleeID: callee, Type: typ, Status: st, CreatedAt: created}
	if dur >= 0 {
		start := created.Add(time.Second)
		end := start.Add(time.Duration(dur) * time.Second)
		c.StartTime, c.EndTime, c.DurationSeconds = &start, &end, &dur
	}
	return c
}

func TestStatistics_Aggregates(t *testing.T) {
	repo := calls.NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()

	seed(t, repo, finished("c1", "u", "v", calls.TypeVideo, calls.StatusEnded, now.Add(-time.Hour), 30))
	seed(t, repo, finished("c2", "v", "u", calls.TypeAudio, calls.StatusEnded, now.Add(-2*time.Hour), 90))
	seed(t, repo, finished("c3", "u", "w", calls.TypeAudio, calls.StatusMissed, now.Add(-3*time.Hour), -1))
	seed(t, repo, finished("c4", "x", "u", calls.TypeAudio, calls.StatusRejected, now.Add(-48*time.Hour), -1))
	seed(t, repo, finished("c5", "x", "y", calls.TypeAudio, calls.StatusEnded, now.Add(-time.Hour), 10))

	svc := NewService(repo)
	out, err := svc.Statistics(context.Background(), StatisticsRequest{UserID: "u", Period: PeriodDay, Now: now})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 3 || out.OutgoingCalls != 2 || out.IncomingCalls != 1 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if out.ByType[calls.TypeAudio] != 2 || out.ByType[calls.TypeVideo] != 1 {
		t.Fatalf("unexpected by type: %v", out.ByType)
	}
	if out.ByStatus[calls.StatusEnded] != 2 || out.ByStatus[calls.StatusMissed] != 1 {
		t.Fatalf("unexpected by status: %v", out.ByStatus)
	}
	if out.ConnectedCalls != 2 || out.TotalDurationSeconds != 120 || out.AverageDurationSeconds != 60 {
		t.Fatalf("unexpected durations: %+v", out)
	}

	week, err := svc.Statistics(context.Background(), StatisticsRequest{UserID: "u", Now: now})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if week.Period != PeriodWeek || week.TotalCalls != 4 {
		t.Fatalf("expected 4 calls over the default week, got %+v", week)
	}
}

func TestStatistics_InvalidRequest(t *testing.T) {
	svc := NewService(calls.NewMemoryRepo())
	if _, err := svc.Statistics(context.Background(), StatisticsRequest{Period: PeriodDay}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.Statistics(context.Background(), StatisticsRequest{UserID: "u", Period: "decade"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
