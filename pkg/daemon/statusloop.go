package daemon

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/modoterra/vrcguard/pkg/transport/uds"
)

// StatusLoop samples the daemon status every interval and pushes a
// status.changed event to clients whenever it differs from the last one.
type StatusLoop struct {
	daemon   *Daemon
	interval time.Duration
	logger   *slog.Logger
	last     *Status
}

// NewStatusLoop creates a status loop for the given daemon.
func NewStatusLoop(d *Daemon, interval time.Duration, logger *slog.Logger) *StatusLoop {
	if interval <= 0 {
		interval = time.Second
	}
	return &StatusLoop{daemon: d, interval: interval, logger: logger}
}

// Run blocks until ctx is canceled.
func (sl *StatusLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(sl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sl.tick()
		}
	}
}

func (sl *StatusLoop) tick() {
	cur := sl.daemon.Status()
	if sl.last != nil && !statusChanged(*sl.last, cur) {
		return
	}
	sl.last = &cur

	evt, err := uds.NewEvent(uds.EventStatusChanged, cur)
	if err != nil {
		sl.logger.Error("encode status", "err", err)
		return
	}
	sl.daemon.server.Broadcast(evt)
}

// statusChanged ignores the uptime-only fields.
func statusChanged(a, b Status) bool {
	return a.Tailer != b.Tailer ||
		a.Subscribers != b.Subscribers ||
		a.Players != b.Players ||
		a.Clients != b.Clients ||
		!slices.Equal(a.PendingInvites, b.PendingInvites) ||
		!slices.Equal(a.Tasks, b.Tasks)
}
