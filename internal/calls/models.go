package calls

import (
	"strings"
	"time"
)

// Call is the persisted state of one two-party call attempt.
//
// Invariants:
// - CallerID and CalleeID are distinct and never change after creation.
// - ChannelID is unique per call and is the routing key handed to the media provider.
// - Status only moves along the edges in state.go; terminal statuses never change again.
// - StartTime is set once on the CONNECTED edge; EndTime and DurationSeconds once on a terminal edge.
type Call struct {
	ID        string `json:"id" db:"id"`
	ChannelID string `json:"channel_id" db:"channel_id"`

	CallerID string `json:"caller_id" db:"caller_id"`
	CalleeID string `json:"callee_id" db:"callee_id"`

	Type   Type   `json:"call_type" db:"call_type"`
	Status Status `json:"status" db:"status"`

	StartTime *time.Time `json:"start_time,omitempty" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`

	// DurationSeconds stays nil for calls that never connected.
	DurationSeconds *int `json:"duration_seconds,omitempty" db:"duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsParticipant reports whether userID is the caller or the callee.
func (c Call) IsParticipant(userID string) bool {
	return userID != "" && (userID == c.CallerID || userID == c.CalleeID)
}

// OtherParty returns the participant that is not userID.
func (c Call) OtherParty(userID string) string {
	if userID == c.CallerID {
		return c.CalleeID
	}
	return c.CallerID
}

type Type string

const (
	TypeAudio Type = "audio"
	TypeVideo Type = "video"
)

// ParseType accepts "audio" or "video" in any case.
func ParseType(s string) (Type, bool) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeAudio:
		return TypeAudio, true
	case TypeVideo:
		return TypeVideo, true
	default:
		return "", false
	}
}

type Status string

const (
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"
	StatusEnded     Status = "ended"
	StatusRejected  Status = "rejected"
	StatusMissed    Status = "missed"
	StatusFailed    Status = "failed"
)

// ParseStatus accepts any known status name in any case.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusRinging, StatusConnected, StatusEnded, StatusRejected, StatusMissed, StatusFailed:
		return st, true
	default:
		return "", false
	}
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusEnded, StatusRejected, StatusMissed, StatusFailed:
		return true
	default:
		return false
	}
}

func (s Status) IsActive() bool {
	return s == StatusRinging || s == StatusConnected
}

// Profile is the display information shown to a callee in an invitation.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Credential is a time-limited media access token for one participant.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Connection is returned to the participant who initiated or accepted a call.
type Connection struct {
	Call       Call        `json:"call"`
	Credential *Credential `json:"credential,omitempty"`
}

// HistoryQuery filters a user's call history.
type HistoryQuery struct {
	Status Status
	Limit  int
}

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

func (q HistoryQuery) withDefaults() HistoryQuery {
	out := q
	if out.Limit <= 0 {
		out.Limit = DefaultHistoryLimit
	}
	if out.Limit > MaxHistoryLimit {
		out.Limit = MaxHistoryLimit
	}
	return out
}
