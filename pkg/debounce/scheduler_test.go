package debounce

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newMockScheduler() (*Scheduler, *clock.Mock) {
	mock := clock.NewMock()
	return New(quietLogger(), WithClock(mock)), mock
}

// waitFired blocks until ch receives or fails the test.
func waitFired(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("action did not run")
		return ""
	}
}

func assertNotFired(t *testing.T, ch <-chan string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected action %q ran", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRescheduleReplacesPendingTask(t *testing.T) {
	s, mock := newMockScheduler()
	ran := make(chan string, 2)

	s.Schedule("usr_1", 5*time.Second, func() { ran <- "A" })
	mock.Add(500 * time.Millisecond)
	s.Schedule("usr_1", 5*time.Second, func() { ran <- "B" })
	assert.Equal(t, 1, s.Len())

	// A's original deadline passes without it running.
	mock.Add(4600 * time.Millisecond)
	assertNotFired(t, ran)

	mock.Add(time.Second)
	assert.Equal(t, "B", waitFired(t, ran))
	assertNotFired(t, ran)
	assert.False(t, s.Pending("usr_1"))
}

func TestCancelBeforeFire(t *testing.T) {
	s, mock := newMockScheduler()
	ran := make(chan string, 1)

	s.Schedule("usr_1", 5*time.Second, func() { ran <- "A" })
	mock.Add(time.Second)
	require.True(t, s.Cancel("usr_1"))
	assert.False(t, s.Pending("usr_1"))
	assert.Empty(t, s.Keys())

	mock.Add(10 * time.Second)
	assertNotFired(t, ran)
}

func TestCancelUnknownKeyIsNoop(t *testing.T) {
	s, _ := newMockScheduler()
	s.Schedule("usr_1", time.Second, func() {})

	assert.False(t, s.Cancel("usr_2"))
	assert.Equal(t, []string{"usr_1"}, s.Keys())
}

func TestFiredTaskRemovesItself(t *testing.T) {
	s, mock := newMockScheduler()
	ran := make(chan string, 1)

	s.Schedule("usr_1", time.Second, func() { ran <- "A" })
	mock.Add(time.Second)
	waitFired(t, ran)

	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Cancel("usr_1"))
}

func TestKeysAreIndependent(t *testing.T) {
	s, mock := newMockScheduler()
	ran := make(chan string, 2)

	s.Schedule("usr_1", 2*time.Second, func() { ran <- "one" })
	s.Schedule("usr_2", time.Second, func() { ran <- "two" })

	tasks := s.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "usr_2", tasks[0].Key)
	assert.Equal(t, mock.Now().Add(time.Second), tasks[0].Due)

	mock.Add(time.Second)
	assert.Equal(t, "two", waitFired(t, ran))
	assert.True(t, s.Pending("usr_1"))

	mock.Add(time.Second)
	assert.Equal(t, "one", waitFired(t, ran))
}

func TestActionMayRescheduleItsKey(t *testing.T) {
	s, mock := newMockScheduler()
	var runs atomic.Int32
	done := make(chan string, 2)

	var action func()
	action = func() {
		if runs.Add(1) == 1 {
			s.Schedule("usr_1", time.Second, action)
		}
		done <- "ran"
	}
	s.Schedule("usr_1", time.Second, action)

	mock.Add(time.Second)
	waitFired(t, done)
	require.Eventually(t, func() bool { return s.Pending("usr_1") }, time.Second, 5*time.Millisecond)

	mock.Add(time.Second)
	waitFired(t, done)
	assert.Equal(t, int32(2), runs.Load())
}

func TestStopCancelsEverything(t *testing.T) {
	s, mock := newMockScheduler()
	ran := make(chan string, 2)
	s.Schedule("a", time.Second, func() { ran <- "a" })
	s.Schedule("b", time.Second, func() { ran <- "b" })

	s.Stop()
	assert.Equal(t, 0, s.Len())
	mock.Add(time.Minute)
	assertNotFired(t, ran)
}

func TestWallClockFires(t *testing.T) {
	s := New(quietLogger())
	ran := make(chan string, 1)
	s.Schedule("usr_1", 10*time.Millisecond, func() { ran <- "A" })
	assert.Equal(t, "A", waitFired(t, ran))
}
