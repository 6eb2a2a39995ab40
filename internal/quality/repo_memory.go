package quality

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo keeps samples in process for tests and single-node runs.
type MemoryRepo struct {
	mu      sync.Mutex
	metrics []Metric
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, m Metric) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, m)
	return nil
}

func (r *MemoryRepo) ListByCall(ctx context.Context, callID string) ([]Metric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	out := make([]Metric, 0)
	for _, m := range r.metrics {
		if m.CallID == callID {
			out = append(out, m)
		}
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}
