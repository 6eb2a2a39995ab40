package calls

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type SweeperConfig struct {
	Interval     time.Duration
	StaleRinging time.Duration
	MaxDuration  time.Duration
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	out := c
	if out.Interval <= 0 {
		out.Interval = 5 * time.Minute
	}
	if out.StaleRinging <= 0 {
		out.StaleRinging = 2 * time.Minute
	}
	if out.MaxDuration <= 0 {
		out.MaxDuration = 4 * time.Hour
	}
	return out
}

// Sweeper finalizes calls whose timers were lost (e.g. after a restart) and
// calls that ran past the maximum duration.
type Sweeper struct {
	svc   *Service
	repo  Repository
	cfg   SweeperConfig
	log   *slog.Logger
	clock func() time.Time
}

func NewSweeper(svc *Service, repo Repository, cfg SweeperConfig, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{svc: svc, repo: repo, cfg: cfg.withDefaults(), log: log, clock: time.Now}
}

// Run sweeps every Interval until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(w.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.log.Error("call sweep failed", "err", err)
			}
		}
	}
}

// Sweep finalizes every stale call once and returns how many it changed.
func (w *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := w.clock().UTC()
	stale, err := w.repo.ListStale(ctx, now.Add(-w.cfg.StaleRinging), now.Add(-w.cfg.MaxDuration))
	if err != nil {
		return 0, err
	}

	n := 0
	for _, c := range stale {
		to, reason := StatusMissed, ReasonNoAnswer
		if c.Status == StatusConnected {
			to, reason = StatusEnded, ReasonMaxDuration
		}
		if _, err := w.svc.Terminate(ctx, c.ID, to, reason); err != nil {
			if !errors.Is(err, ErrInvalidStatus) {
				w.log.Warn("stale call not finalized", "call_id", c.ID, "err", err)
			}
			continue
		}
		n++
	}
	if n > 0 {
		w.log.Info("stale calls finalized", "count", n)
	}
	return n, nil
}
