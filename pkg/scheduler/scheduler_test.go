package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleRecurringInvokesTaskRepeatedly(t *testing.T) {
	s := New()
	defer s.Shutdown()

	var calls int32
	h := s.ScheduleRecurring("counter", func() {
		atomic.AddInt32(&calls, 1)
	}, 5*time.Millisecond)
	require.NotNil(t, h)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 3
	}, time.Second, time.Millisecond)
}

func TestHandleCancelStopsFutureInvocations(t *testing.T) {
	s := New()
	defer s.Shutdown()

	var calls int32
	h := s.ScheduleRecurring("counter", func() {
		atomic.AddInt32(&calls, 1)
	}, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 1
	}, time.Second, time.Millisecond)

	h.Cancel()
	after := atomic.LoadInt32(&calls)
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), after+1) // allow one in-flight tick
}

func TestCancelIsIdempotent(t *testing.T) {
	s := New()
	defer s.Shutdown()

	h := s.ScheduleRecurring("noop", func() {}, time.Hour)
	assert.NotPanics(t, func() {
		h.Cancel()
		h.Cancel()
	})
}

func TestShutdownDrainsAllTasks(t *testing.T) {
	s := New()

	for i := 0; i < 5; i++ {
		s.ScheduleRecurring("task", func() {
			time.Sleep(time.Millisecond)
		}, time.Millisecond)
	}

	require.Eventually(t, func() bool { return s.Len() == 5 }, time.Second, time.Millisecond)

	s.Shutdown()
	assert.Equal(t, 0, s.Len())
}

func TestPanickingTaskDoesNotStopScheduler(t *testing.T) {
	s := New()
	defer s.Shutdown()

	var calls int32
	s.ScheduleRecurring("panics", func() {
		atomic.AddInt32(&calls, 1)
		panic("boom")
	}, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, time.Second, time.Millisecond)
}
