// Package timeout runs delayed, cancellable callbacks keyed by an id on a
// bounded worker pool.
package timeout

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const shardCount = 32

type Options struct {
	// Workers bounds how many callbacks run at once.
	Workers int
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	out := o
	if out.Workers <= 0 {
		out.Workers = 10
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Scheduler keeps at most one pending timer per key. The registry is sharded so
// arming and firing for unrelated keys do not contend on one lock.
type Scheduler struct {
	shards [shardCount]shard
	seq    atomic.Uint64

	jobs   chan job
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
	wg     sync.WaitGroup

	log *slog.Logger
}

type shard struct {
	mu      sync.Mutex
	pending map[string]*entry
}

type entry struct {
	id    uint64
	timer *time.Timer
}

type job struct {
	key string
	fn  func()
}

func New(opts Options) *Scheduler {
	opts = opts.withDefaults()
	s := &Scheduler{
		jobs: make(chan job, opts.Workers*4),
		done: make(chan struct{}),
		log:  opts.Logger,
	}
	for i := range s.shards {
		s.shards[i].pending = map[string]*entry{}
	}
	for i := 0; i < opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Arm schedules fn to run once after d. An earlier pending timer for the same
// key is replaced. Arm after Close is ignored.
func (s *Scheduler) Arm(key string, d time.Duration, fn func()) {
	if s.closed.Load() {
		s.log.Warn("timer armed after shutdown", "key", key)
		return
	}
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if old, ok := sh.pending[key]; ok {
		old.timer.Stop()
	}
	e := &entry{id: s.seq.Add(1)}
	sh.pending[key] = e
	// fire takes sh.mu, so it cannot observe the entry before e.timer is set.
	e.timer = time.AfterFunc(d, func() { s.fire(key, e.id, fn) })
}

// Cancel stops the pending timer for key. It reports whether a pending timer
// was removed; cancelling a fired or unknown key is a no-op.
func (s *Scheduler) Cancel(key string) bool {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.pending[key]
	if !ok {
		return false
	}
	delete(sh.pending, key)
	e.timer.Stop()
	return true
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.pending)
		sh.mu.Unlock()
	}
	return n
}

// Close cancels every pending timer without running it and waits for running
// callbacks until ctx ends.
func (s *Scheduler) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
		cancelled := 0
		for i := range s.shards {
			sh := &s.shards[i]
			sh.mu.Lock()
			for k, e := range sh.pending {
				e.timer.Stop()
				delete(sh.pending, k)
				cancelled++
			}
			sh.mu.Unlock()
		}
		s.log.Info("timeout scheduler stopped", "cancelled", cancelled)
	})

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) fire(key string, id uint64, fn func()) {
	sh := s.shard(key)
	sh.mu.Lock()
	e, ok := sh.pending[key]
	if !ok || e.id != id {
		// cancelled or replaced while the timer goroutine was starting
		sh.mu.Unlock()
		return
	}
	delete(sh.pending, key)
	sh.mu.Unlock()

	select {
	case s.jobs <- job{key: key, fn: fn}:
	case <-s.done:
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case j := <-s.jobs:
			s.run(j)
		case <-s.done:
			return
		}
	}
}

func (s *Scheduler) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("timer callback panicked", "key", j.key, "panic", r)
		}
	}()
	j.fn()
}

func (s *Scheduler) shard(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}
