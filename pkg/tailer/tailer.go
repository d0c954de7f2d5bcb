// Package tailer follows the client log as it grows, switching to a newer
// log file when the client starts one, and publishes the events it finds.
package tailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/modoterra/vrcguard/pkg/core"
	"github.com/modoterra/vrcguard/pkg/identity"
	"github.com/modoterra/vrcguard/pkg/logfile"
	"github.com/modoterra/vrcguard/pkg/logparse"
	"github.com/modoterra/vrcguard/pkg/metrics"
)

var (
	// ErrIO wraps failures to stat, open or read the log file.
	ErrIO = errors.New("log file i/o")
	// ErrWatch wraps failures of the filesystem watcher.
	ErrWatch = errors.New("log watch")
)

// Publisher receives the raw events extracted from the log.
type Publisher interface {
	Publish(core.Event)
}

// Config controls what the tailer watches and which lines it accepts.
type Config struct {
	// Dir is the directory holding output_log_*.txt files.
	Dir string
	// Since is the instant before which log lines are ignored.
	// Zero means the time Run starts.
	Since time.Time
	// Location is the zone log timestamps are written in. Nil means local time.
	Location *time.Location
	// Identities is updated from join and leave lines. Nil allocates a private map.
	Identities *identity.Map
	Metrics    *metrics.Metrics
}

// Status is a point-in-time view of the tailer.
type Status struct {
	Path      string `json:"path"`
	Offset    int64  `json:"offset"`
	Buffered  int    `json:"buffered"`
	Rotations uint64 `json:"rotations"`
	Lines     uint64 `json:"lines"`
	Published uint64 `json:"published"`
}

// Tailer reads newly appended bytes from the newest log file.
type Tailer struct {
	cfg    Config
	pub    Publisher
	logger *slog.Logger
	ready  chan struct{}

	newWatcher func() (*fsnotify.Watcher, error)

	mu     sync.Mutex
	path   string
	offset int64
	buf    lineBuffer
	stats  Status
}

// New creates a tailer. Nothing is opened until Run.
func New(cfg Config, pub Publisher, logger *slog.Logger) *Tailer {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Identities == nil {
		cfg.Identities = identity.New()
	}
	return &Tailer{
		cfg:    cfg,
		pub:    pub,
		logger: logger,
		ready:  make(chan struct{}),

		newWatcher: fsnotify.NewWatcher,
	}
}

// Ready is closed once the initial file is positioned and watched.
func (t *Tailer) Ready() <-chan struct{} {
	return t.ready
}

// Identities returns the name to id map the tailer maintains.
func (t *Tailer) Identities() *identity.Map {
	return t.cfg.Identities
}

// Status returns a snapshot of the tailer's position and counters.
func (t *Tailer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.Path = t.path
	s.Offset = t.offset
	s.Buffered = t.buf.Len()
	return s
}

// Run tails until ctx is canceled, returning nil in that case. Any other
// return is fatal: the log could not be located, watched or read.
func (t *Tailer) Run(ctx context.Context) error {
	if t.cfg.Since.IsZero() {
		t.cfg.Since = time.Now()
	}

	path, err := logfile.Latest(t.cfg.Dir)
	if err != nil {
		return err
	}
	size, err := fileSize(path)
	if err != nil {
		return err
	}
	t.adopt(path, size)

	w, err := t.newWatcher()
	if err != nil {
		return fmt.Errorf("%w: create watcher: %w", ErrWatch, err)
	}
	defer w.Close()

	if err := w.Add(t.cfg.Dir); err != nil {
		return fmt.Errorf("%w: watch %s: %w", ErrWatch, t.cfg.Dir, err)
	}
	if err := w.Add(path); err != nil {
		return fmt.Errorf("%w: watch %s: %w", ErrWatch, path, err)
	}

	t.logger.Info("tailing log", "path", path, "offset", size, "since", t.cfg.Since)
	close(t.ready)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("%w: event channel closed", ErrWatch)
			}
			if err := t.handleEvent(w, ev); err != nil {
				return err
			}
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("%w: error channel closed", ErrWatch)
			}
			return fmt.Errorf("%w: %w", ErrWatch, err)
		}
	}
}

func (t *Tailer) handleEvent(w *fsnotify.Watcher, ev fsnotify.Event) error {
	name := filepath.Clean(ev.Name)
	current := t.currentPath()

	switch {
	case ev.Has(fsnotify.Create) && name != current:
		return t.rotate(w, current)
	case ev.Has(fsnotify.Write) && name == current:
		return t.readDelta(current)
	}
	return nil
}

// rotate switches to the newest log file if it is not the current one.
// The new file is adopted at its current size, so anything the client wrote
// before the switch is not read. When no log file can be located the current
// one is kept.
func (t *Tailer) rotate(w *fsnotify.Watcher, current string) error {
	latest, err := logfile.Latest(t.cfg.Dir)
	if err != nil {
		t.logger.Warn("locate newer log, keeping current", "path", current, "err", err)
		return nil
	}
	if latest == current {
		return nil
	}
	size, err := fileSize(latest)
	if err != nil {
		return err
	}

	if err := w.Remove(current); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		t.logger.Warn("unwatch previous log", "path", current, "err", err)
	}

	t.mu.Lock()
	dropped := t.buf.Len()
	t.stats.Rotations++
	t.mu.Unlock()
	t.adopt(latest, size)
	t.cfg.Metrics.Rotated()

	if err := w.Add(latest); err != nil {
		return fmt.Errorf("%w: watch %s: %w", ErrWatch, latest, err)
	}
	t.logger.Info("switched log file", "from", current, "to", latest, "offset", size, "dropped_bytes", dropped)
	return nil
}

func (t *Tailer) readDelta(path string) error {
	size, err := fileSize(path)
	if err != nil {
		return err
	}

	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	if size <= offset {
		if size < offset {
			t.logger.Debug("log file shrank, waiting for it to grow past offset", "path", path, "size", size, "offset", offset)
		}
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrIO, path, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek %s: %w", ErrIO, path, err)
	}
	chunk := make([]byte, size-offset)
	if _, err := io.ReadFull(f, chunk); err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
	}

	t.mu.Lock()
	t.offset = size
	t.mu.Unlock()

	t.cfg.Metrics.BytesRead(len(chunk))
	t.feed(chunk)
	return nil
}

// feed splits chunk into lines and handles each in order.
func (t *Tailer) feed(chunk []byte) {
	t.mu.Lock()
	lines := t.buf.Feed(chunk)
	t.stats.Lines += uint64(len(lines))
	t.mu.Unlock()

	for _, line := range lines {
		t.cfg.Metrics.LineRead()
		t.handleLine(line)
	}
}

func (t *Tailer) handleLine(line string) {
	l, ok := logparse.Parse(line, t.cfg.Location)
	if !ok {
		return
	}
	if !l.At.After(t.cfg.Since) {
		t.logger.Debug("skipping line from before start", "kind", l.Kind, "at", l.At)
		return
	}

	ids := t.cfg.Identities
	switch l.Kind {
	case logparse.LineJoined:
		ids.Put(l.Name, l.ID)
		t.publish(core.JoinedRaw{ID: l.ID, Name: l.Name, At: l.At})
	case logparse.LineLeft:
		ids.Remove(l.Name)
		t.publish(core.LeftRaw{ID: l.ID, Name: l.Name, At: l.At})
	case logparse.LineAvatarChanged:
		id, ok := ids.Lookup(l.Name)
		if !ok {
			t.logger.Debug("avatar change for unknown player", "name", l.Name)
			return
		}
		t.publish(core.AvatarChangedRaw{ID: id, Name: l.Name, At: l.At})
	}
}

func (t *Tailer) publish(e core.Event) {
	t.mu.Lock()
	t.stats.Published++
	t.mu.Unlock()
	t.pub.Publish(e)
}

func (t *Tailer) adopt(path string, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.path = path
	t.offset = size
	t.buf.Reset()
}

func (t *Tailer) currentPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}
	return info.Size(), nil
}
