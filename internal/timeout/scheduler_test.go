package timeout

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(Options{Workers: 2})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func TestArm_FiresOnce(t *testing.T) {
	s := newScheduler(t)
	var fired atomic.Int32

	s.Arm("call-1", 10*time.Millisecond, func() { fired.Add(1) })

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, 0, s.Pending())
}

func TestCancel_PreventsFiring(t *testing.T) {
	s := newScheduler(t)
	var fired atomic.Int32

	s.Arm("call-1", 30*time.Millisecond, func() { fired.Add(1) })
	assert.True(t, s.Cancel("call-1"))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestCancel_IsIdempotent(t *testing.T) {
	s := newScheduler(t)

	s.Arm("call-1", time.Hour, func() {})
	assert.True(t, s.Cancel("call-1"))
	assert.False(t, s.Cancel("call-1"))
	assert.False(t, s.Cancel("never-armed"))
}

func TestCancel_AfterFireIsNoop(t *testing.T) {
	s := newScheduler(t)
	var fired atomic.Int32

	s.Arm("call-1", time.Millisecond, func() { fired.Add(1) })
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.False(t, s.Cancel("call-1"))
	assert.Equal(t, int32(1), fired.Load())
}

func TestArm_ReplacesPendingTimer(t *testing.T) {
	s := newScheduler(t)
	var first, second atomic.Int32

	s.Arm("call-1", 20*time.Millisecond, func() { first.Add(1) })
	s.Arm("call-1", 20*time.Millisecond, func() { second.Add(1) })
	assert.Equal(t, 1, s.Pending())

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestRun_RecoversPanics(t *testing.T) {
	s := newScheduler(t)
	var fired atomic.Int32

	s.Arm("bad", time.Millisecond, func() { panic("boom") })
	s.Arm("good", 10*time.Millisecond, func() { fired.Add(1) })

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestClose_CancelsPendingTimers(t *testing.T) {
	s := New(Options{Workers: 1})
	var fired atomic.Int32

	for _, k := range []string{"a", "b", "c"} {
		s.Arm(k, 20*time.Millisecond, func() { fired.Add(1) })
	}
	require.Equal(t, 3, s.Pending())

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 0, s.Pending())

	s.Arm("late", time.Millisecond, func() { fired.Add(1) })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}
