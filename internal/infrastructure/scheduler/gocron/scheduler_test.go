package gocronscheduler_test

import (
	"sync/atomic"
	"testing"
	"time"

	gocronscheduler "github.com/ark-relay/gateway/internal/infrastructure/scheduler/gocron"
	"github.com/stretchr/testify/require"
)

func TestScheduleEveryRunsRepeatedly(t *testing.T) {
	s := gocronscheduler.NewScheduler()
	var calls int32

	require.NoError(t, s.ScheduleEvery("tick", 1, func() {
		atomic.AddInt32(&calls, 1)
	}))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, 5*time.Second, 50*time.Millisecond)
}

func TestScheduleOnceRunsExactlyOnce(t *testing.T) {
	s := gocronscheduler.NewScheduler()
	var calls int32

	require.NoError(t, s.ScheduleOnce("once", 0, func() {
		atomic.AddInt32(&calls, 1)
	}))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, 3*time.Second, 20*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestScheduleEveryRejectsNonPositiveInterval(t *testing.T) {
	s := gocronscheduler.NewScheduler()
	require.Error(t, s.ScheduleEvery("bad", 0, func() {}))
}

func TestPanicInScheduledTaskIsRecovered(t *testing.T) {
	s := gocronscheduler.NewScheduler()
	var calls int32

	require.NoError(t, s.ScheduleEvery("panics", 1, func() {
		atomic.AddInt32(&calls, 1)
		panic("boom")
	}))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 1
	}, 3*time.Second, 20*time.Millisecond)
}
