package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and single-node development.
type MemoryRepo struct {
	mu     sync.RWMutex
	calls  map[string]Call
	hidden map[hiddenKey]struct{}
}

type hiddenKey struct{ callID, userID string }

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: map[string]Call{}, hidden: map[hiddenKey]struct{}{}}
}

func (r *MemoryRepo) Create(ctx context.Context, c Call) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.calls[c.ID]; ok {
		return ErrInvalidArgument
	}
	for _, existing := range r.calls {
		if !existing.Status.IsActive() {
			continue
		}
		if existing.IsParticipant(c.CallerID) || existing.IsParticipant(c.CalleeID) {
			return ErrBusy
		}
	}
	r.calls[c.ID] = c
	return nil
}

func (r *MemoryRepo) FindByID(ctx context.Context, id string) (Call, error) {
	if err := ctx.Err(); err != nil {
		return Call{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) FindActiveByUser(ctx context.Context, userID string) (Call, error) {
	if err := ctx.Err(); err != nil {
		return Call{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		found Call
		ok    bool
	)
	for _, c := range r.calls {
		if !c.Status.IsActive() || !c.IsParticipant(userID) {
			continue
		}
		if !ok || c.CreatedAt.After(found.CreatedAt) {
			found, ok = c, true
		}
	}
	if !ok {
		return Call{}, ErrNotFound
	}
	return found, nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, c Call, expected Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.calls[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expected {
		return ErrStaleStatus
	}
	cur.Status = c.Status
	cur.StartTime = c.StartTime
	cur.EndTime = c.EndTime
	cur.DurationSeconds = c.DurationSeconds
	cur.UpdatedAt = c.UpdatedAt
	r.calls[c.ID] = cur
	return nil
}

func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, q HistoryQuery) ([]Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q = q.withDefaults()

	out := r.filter(func(c Call) bool {
		if _, hid := r.hidden[hiddenKey{c.ID, userID}]; hid {
			return false
		}
		return c.IsParticipant(userID) && (q.Status == "" || c.Status == q.Status)
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListStale(ctx context.Context, ringingBefore, connectedBefore time.Time) ([]Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.filter(func(c Call) bool {
		switch c.Status {
		case StatusRinging:
			return c.CreatedAt.Before(ringingBefore)
		case StatusConnected:
			return c.StartTime != nil && c.StartTime.Before(connectedBefore)
		default:
			return false
		}
	}), nil
}

func (r *MemoryRepo) ListCalls(ctx context.Context, userID string, from, to time.Time) ([]Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.filter(func(c Call) bool {
		return c.IsParticipant(userID) && !c.CreatedAt.Before(from) && c.CreatedAt.Before(to)
	}), nil
}

func (r *MemoryRepo) HideForUser(ctx context.Context, callID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[callID]; !ok {
		return ErrNotFound
	}
	r.hidden[hiddenKey{callID, userID}] = struct{}{}
	return nil
}

// filter returns matching calls, newest first. keep runs under the read lock.
func (r *MemoryRepo) filter(keep func(Call) bool) []Call {
	r.mu.RLock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if keep(c) {
			out = append(out, c)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
