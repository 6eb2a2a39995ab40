package calls

import (
	"context"
	"time"
)

// Repository is the persistence contract for call records.
//
// Records are never deleted here; retention belongs to the storage layer. Hiding
// a call only affects one user's history listing.
type Repository interface {
	// Create stores a new RINGING call. It re-checks both participants under the
	// store's own lock and fails with ErrBusy if either already has an active call.
	Create(ctx context.Context, c Call) error

	// FindByID returns ErrNotFound for unknown ids.
	FindByID(ctx context.Context, id string) (Call, error)

	// FindActiveByUser returns the newest RINGING or CONNECTED call where userID is
	// a participant, or ErrNotFound.
	FindActiveByUser(ctx context.Context, userID string) (Call, error)

	// UpdateStatus persists the lifecycle fields of c if the stored status still
	// equals expected. Otherwise it returns ErrStaleStatus (or ErrNotFound).
	UpdateStatus(ctx context.Context, c Call, expected Status) error

	// ListByUser returns the user's calls, newest first, skipping the ones the
	// user hid.
	ListByUser(ctx context.Context, userID string, q HistoryQuery) ([]Call, error)

	// ListStale returns RINGING calls created before ringingBefore and CONNECTED
	// calls started before connectedBefore.
	ListStale(ctx context.Context, ringingBefore, connectedBefore time.Time) ([]Call, error)

	// ListCalls returns the user's calls created in [from, to).
	ListCalls(ctx context.Context, userID string, from, to time.Time) ([]Call, error)

	// HideForUser drops callID from userID's history. Hiding twice is a no-op.
	HideForUser(ctx context.Context, callID, userID string) error
}
