package quality

import (
	"strings"
	"time"
)

// Level is a participant's self-reported network quality.
type Level string

const (
	LevelExcellent Level = "excellent"
	LevelGood      Level = "good"
	LevelPoor      Level = "poor"
	LevelBad       Level = "bad"
	LevelVeryBad   Level = "very_bad"
	LevelUnknown   Level = "unknown"
)

// ParseLevel accepts any letter case ("VERY_BAD", "very_bad").
func ParseLevel(s string) (Level, bool) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelExcellent, LevelGood, LevelPoor, LevelBad, LevelVeryBad, LevelUnknown:
		return l, true
	default:
		return "", false
	}
}

// Degraded levels trigger a warning to the other participant.
func (l Level) Degraded() bool {
	return l == LevelPoor || l == LevelBad || l == LevelVeryBad
}

// severity orders known levels from best to worst. Unknown ranks below all.
func (l Level) severity() int {
	switch l {
	case LevelExcellent:
		return 1
	case LevelGood:
		return 2
	case LevelPoor:
		return 3
	case LevelBad:
		return 4
	case LevelVeryBad:
		return 5
	default:
		return 0
	}
}

// Report is what a participant submits about their own link.
type Report struct {
	NetworkQuality string `json:"network_quality"`

	// PacketLossRate is a fraction in [0, 1].
	PacketLossRate *float64 `json:"packet_loss_rate,omitempty"`

	RoundTripTimeMs *int `json:"round_trip_time_ms,omitempty"`

	// RecordedAt defaults to the time the report is received.
	RecordedAt *time.Time `json:"timestamp,omitempty"`
}

// Metric is one stored sample. Samples are never updated.
type Metric struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`
	UserID string `json:"user_id" db:"user_id"`

	NetworkQuality  Level    `json:"network_quality" db:"network_quality"`
	PacketLossRate  *float64 `json:"packet_loss_rate,omitempty" db:"packet_loss_rate"`
	RoundTripTimeMs *int     `json:"round_trip_time_ms,omitempty" db:"round_trip_time_ms"`

	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// Stats aggregates every sample of a call. Fields stay nil when there is
// nothing to aggregate.
type Stats struct {
	CallID  string `json:"call_id"`
	Samples int    `json:"samples"`

	// NetworkQuality is the worst level reported by anyone during the call.
	NetworkQuality *Level `json:"network_quality"`

	AvgPacketLossRate  *float64 `json:"avg_packet_loss_rate"`
	AvgRoundTripTimeMs *int     `json:"avg_round_trip_time_ms"`
}

// Summarize folds samples into Stats.
func Summarize(callID string, metrics []Metric) Stats {
	st := Stats{CallID: callID, Samples: len(metrics)}
	if len(metrics) == 0 {
		return st
	}

	worst := LevelUnknown
	var (
		lossSum float64
		lossN   int
		rttSum  int64
		rttN    int
	)
	for _, m := range metrics {
		if m.NetworkQuality.severity() > worst.severity() {
			worst = m.NetworkQuality
		}
		if m.PacketLossRate != nil {
			lossSum += *m.PacketLossRate
			lossN++
		}
		if m.RoundTripTimeMs != nil {
			rttSum += int64(*m.RoundTripTimeMs)
			rttN++
		}
	}
	st.NetworkQuality = &worst
	if lossN > 0 {
		avg := lossSum / float64(lossN)
		st.AvgPacketLossRate = &avg
	}
	if rttN > 0 {
		avg := int(rttSum / int64(rttN))
		st.AvgRoundTripTimeMs = &avg
	}
	return st
}
