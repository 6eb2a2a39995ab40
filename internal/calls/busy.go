package calls

import (
	"context"
	"errors"
)

// BusyGuard answers whether a user already takes part in a RINGING or CONNECTED call.
type BusyGuard struct {
	repo Repository
}

func NewBusyGuard(repo Repository) BusyGuard {
	return BusyGuard{repo: repo}
}

func (g BusyGuard) IsBusy(ctx context.Context, userID string) (bool, error) {
	_, ok, err := g.ActiveCall(ctx, userID)
	return ok, err
}

// ActiveCall returns the user's active call, if any.
func (g BusyGuard) ActiveCall(ctx context.Context, userID string) (Call, bool, error) {
	c, err := g.repo.FindActiveByUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Call{}, false, nil
	}
	if err != nil {
		return Call{}, false, err
	}
	return c, true, nil
}
