package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		got := backoff(tt.failures)
		if got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

type recordWait struct{ waits []time.Duration }

func (r *recordWait) wait(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

type permanent struct{}

func (permanent) Error() string   { return "forbidden" }
func (permanent) Temporary() bool { return false }

func TestRetrierSucceedsAfterFailures(t *testing.T) {
	rw := &recordWait{}
	calls := 0
	err := Retrier{Wait: rw.wait}.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rw.waits)
}

func TestRetrierGivesUp(t *testing.T) {
	rw := &recordWait{}
	calls := 0
	boom := errors.New("boom")
	err := Retrier{Attempts: 2, Wait: rw.wait}.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
	assert.Len(t, rw.waits, 1)
}

func TestRetrierStopsOnPermanentError(t *testing.T) {
	rw := &recordWait{}
	calls := 0
	err := Retrier{Wait: rw.wait}.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent{}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rw.waits)
}

func TestRetrierStopsWhenWaitIsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retrier{}.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("flaky")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
