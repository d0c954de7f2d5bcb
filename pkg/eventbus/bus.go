// Package eventbus fans domain events out to independent in-process
// consumers.
//
// Each subscription owns an unbounded FIFO queue. Publish never blocks on a
// slow consumer; a consumer that falls behind accumulates memory instead.
// Publishers are trusted, so that trade is acceptable here.
package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/modoterra/vrcguard/pkg/core"
	"github.com/modoterra/vrcguard/pkg/metrics"
)

// ErrClosed is returned by Next once the subscription has been closed.
var ErrClosed = errors.New("subscription closed")

// Bus delivers every published event to every live subscription.
type Bus struct {
	mu      sync.Mutex
	subs    []*Subscription
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates an empty bus. m may be nil.
func New(logger *slog.Logger, m *metrics.Metrics) *Bus {
	return &Bus{logger: logger, metrics: m}
}

// Subscribe registers a new subscription. It only sees events published
// after this call returns.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		id:    uuid.NewString(),
		ready: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	b.logger.Debug("subscribed", "subscription", s.id)
	return s
}

// Publish enqueues e on every live subscription and drops closed ones.
func (b *Bus) Publish(e core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	live := b.subs[:0]
	for _, s := range b.subs {
		if s.push(e) {
			live = append(live, s)
			continue
		}
		b.logger.Debug("pruned closed subscription", "subscription", s.id)
	}
	pruned := len(b.subs) - len(live)
	for i := len(live); i < len(b.subs); i++ {
		b.subs[i] = nil
	}
	b.subs = live

	b.metrics.Published(string(e.Kind()))
	b.metrics.Pruned(pruned)
}

// Len returns the number of registered subscriptions, including closed ones
// that have not been pruned yet.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscription is one consumer's view of the bus.
type Subscription struct {
	id    string
	ready chan struct{}

	mu     sync.Mutex
	queue  []core.Event
	closed bool
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string {
	return s.id
}

func (s *Subscription) push(e core.Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.signal()
	return true
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Next returns the oldest queued event, waiting until one arrives, ctx is
// done or the subscription is closed.
func (s *Subscription) Next(ctx context.Context) (core.Event, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if len(s.queue) > 0 {
			e := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return e, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ready:
		}
	}
}

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close discards queued events and wakes any waiting Next. The bus forgets
// the subscription on its next publish.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	s.signal()
}

// Consume calls fn for every event on sub until ctx is done or sub is
// closed. The subscription is closed on return.
func Consume(ctx context.Context, sub *Subscription, fn func(context.Context, core.Event)) error {
	defer sub.Close()
	for {
		e, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		fn(ctx, e)
	}
}
