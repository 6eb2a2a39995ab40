package reporting

import (
	"time"

	"chattrix-calls/internal/calls"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Period is a rolling window ending now.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// Range returns [now-period, now).
func (p Period) Range(now time.Time) (TimeRange, bool) {
	var from time.Time
	switch p {
	case PeriodDay:
		from = now.Add(-24 * time.Hour)
	case PeriodWeek:
		from = now.AddDate(0, 0, -7)
	case PeriodMonth:
		from = now.AddDate(0, -1, 0)
	case PeriodYear:
		from = now.AddDate(-1, 0, 0)
	default:
		return TimeRange{}, false
	}
	return TimeRange{From: from, To: now}, true
}

// StatisticsRequest asks for one user's call statistics. Period defaults to week.
type StatisticsRequest struct {
	UserID string
	Period Period
	Now    time.Time
}

type Statistics struct {
	UserID string    `json:"user_id"`
	Period Period    `json:"period"`
	Range  TimeRange `json:"range"`

	TotalCalls    int `json:"total_calls"`
	OutgoingCalls int `json:"outgoing_calls"`
	IncomingCalls int `json:"incoming_calls"`

	ByType   map[calls.Type]int   `json:"by_type"`
	ByStatus map[calls.Status]int `json:"by_status"`

	// Duration figures only count calls that connected.
	ConnectedCalls         int `json:"connected_calls"`
	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
}
