package audit

import "time"

// Event is an immutable record of one committed call transition.
//
// Invariants:
// - Events are never updated or deleted.
// - call_id and type are required.
// - Writing events is best-effort; a failed append never blocks a call.
type Event struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	// Type is the signaling event the transition produced (call.accepted, ...).
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the participant who caused the transition, or "system".
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	CallerID string `json:"caller_id" db:"caller_id"`
	CalleeID string `json:"callee_id" db:"callee_id"`

	// Status is the call status after the transition.
	Status string `json:"status" db:"status"`

	Reason string `json:"reason,omitempty" db:"reason"`

	DurationSeconds *int `json:"duration_seconds,omitempty" db:"duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string
