package tailer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/vrcguard/pkg/core"
	"github.com/modoterra/vrcguard/pkg/logfile"
)

var start = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) Publish(e core.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Event(nil), r.events...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestTailer(dir string, rec *recorder) *Tailer {
	return New(Config{Dir: dir, Since: start, Location: time.UTC}, rec, quietLogger())
}

func at(hms string) time.Time {
	ts, err := time.ParseInLocation("2006.01.02 15:04:05", "2024.01.01 "+hms, time.UTC)
	if err != nil {
		panic(err)
	}
	return ts
}

func TestJoinAvatarLeaveSequence(t *testing.T) {
	rec := &recorder{}
	tl := newTestTailer("", rec)

	tl.feed([]byte(
		"2024.01.01 10:00:01 Log - [Behaviour] OnPlayerJoined Alice (usr_1111)\n" +
			"2024.01.01 10:00:05 Log - [Behaviour] Switching Alice to avatar avtr_x\n" +
			"2024.01.01 10:00:09 Log - [Behaviour] OnPlayerLeft Alice (usr_1111)\n"))

	assert.Equal(t, []core.Event{
		core.JoinedRaw{ID: "usr_1111", Name: "Alice", At: at("10:00:01")},
		core.AvatarChangedRaw{ID: "usr_1111", Name: "Alice", At: at("10:00:05")},
		core.LeftRaw{ID: "usr_1111", Name: "Alice", At: at("10:00:09")},
	}, rec.snapshot())
	assert.Equal(t, 0, tl.Identities().Len())
	assert.Equal(t, uint64(3), tl.Status().Published)
}

func TestLinesBeforeStartAreDropped(t *testing.T) {
	rec := &recorder{}
	tl := newTestTailer("", rec)

	tl.feed([]byte(
		"2024.01.01 09:59:59 Log - [Behaviour] OnPlayerJoined Alice (usr_1111)\n" +
			"2024.01.01 10:00:00 Log - [Behaviour] OnPlayerJoined Bob (usr_2222)\n" +
			"2024.01.01 10:00:05 Log - [Behaviour] Switching Alice to avatar avtr_x\n" +
			"2024.01.01 10:00:09 Log - [Behaviour] OnPlayerLeft Alice (usr_1111)\n"))

	// The pre-start join never reached the identity map, so the avatar line
	// has nothing to correlate with; the leave line carries its own id.
	assert.Equal(t, []core.Event{
		core.LeftRaw{ID: "usr_1111", Name: "Alice", At: at("10:00:09")},
	}, rec.snapshot())
	assert.Equal(t, 0, tl.Identities().Len())
}

func TestLineSplitAcrossReads(t *testing.T) {
	rec := &recorder{}
	tl := newTestTailer("", rec)

	tl.feed([]byte("2024.01.01 10:00:01 Log - [Behaviour] OnPlayerJoined B"))
	assert.Empty(t, rec.snapshot())
	tl.feed([]byte("ob (usr_2222)\n"))

	assert.Equal(t, []core.Event{
		core.JoinedRaw{ID: "usr_2222", Name: "Bob", At: at("10:00:01")},
	}, rec.snapshot())
	id, ok := tl.Identities().Lookup("Bob")
	require.True(t, ok)
	assert.Equal(t, "usr_2222", id)
}

func TestNoiseIsIgnored(t *testing.T) {
	rec := &recorder{}
	tl := newTestTailer("", rec)

	tl.feed([]byte(
		"\n" +
			"2024.01.01 10:00:01 Log - [Network] something else\n" +
			"garbage\n"))

	assert.Empty(t, rec.snapshot())
	assert.Equal(t, uint64(3), tl.Status().Lines)
}

func TestRunWithoutLogFile(t *testing.T) {
	tl := newTestTailer(t.TempDir(), &recorder{})
	err := tl.Run(context.Background())
	assert.ErrorIs(t, err, logfile.ErrNotFound)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func runTailer(t *testing.T, tl *Tailer) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		done <- tl.Run(ctx)
		close(exited)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-exited:
		case <-time.After(2 * time.Second):
			t.Error("tailer did not stop")
		}
	})

	select {
	case <-tl.Ready():
	case <-exited:
		t.Fatalf("tailer exited early: %v", <-done)
	case <-time.After(2 * time.Second):
		t.Fatal("tailer never became ready")
	}
	return done
}

func TestRunTailsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output_log_2024-01-01_09-00-00.txt")
	// Existing content is skipped: the tailer starts at end of file.
	writeFile(t, path, "2024.01.01 10:00:01 Log - [Behaviour] OnPlayerJoined Old (usr_0000)\n")

	rec := &recorder{}
	tl := newTestTailer(dir, rec)
	runTailer(t, tl)

	appendFile(t, path, "2024.01.01 10:00:02 Log - [Behaviour] OnPlayerJoined Alice (usr_1111)\n")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, core.JoinedRaw{ID: "usr_1111", Name: "Alice", At: at("10:00:02")}, rec.snapshot()[0])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), tl.Status().Offset)
}

func TestRunSwitchesToNewerFile(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "output_log_2024-01-01_09-00-00.txt")
	newPath := filepath.Join(dir, "output_log_2024-01-01_11-00-00.txt")
	writeFile(t, oldPath, "")

	rec := &recorder{}
	tl := newTestTailer(dir, rec)
	runTailer(t, tl)

	appendFile(t, oldPath, "2024.01.01 10:00:01 Log - [Behaviour] OnPlayerJoined A")
	writeFile(t, newPath, "")
	require.Eventually(t, func() bool { return tl.Status().Path == newPath }, 2*time.Second, 10*time.Millisecond)

	st := tl.Status()
	assert.Equal(t, uint64(1), st.Rotations)
	assert.Equal(t, 0, st.Buffered)

	// A file that sorts older than the current one never triggers a switch.
	writeFile(t, filepath.Join(dir, "output_log_2023-01-01_00-00-00.txt"), "")

	appendFile(t, newPath, "2024.01.01 11:00:01 Log - [Behaviour] OnPlayerJoined Bob (usr_2222)\n")
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, core.JoinedRaw{ID: "usr_2222", Name: "Bob", At: at("11:00:01")}, rec.snapshot()[0])
	assert.Equal(t, newPath, tl.Status().Path)
}

func TestRunKeepsCurrentFileWhenNoneCanBeLocated(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "output_log_2024-01-01_09-00-00.txt")
	newPath := filepath.Join(dir, "output_log_2024-01-01_11-00-00.txt")
	writeFile(t, oldPath, "")

	rec := &recorder{}
	tl := newTestTailer(dir, rec)
	done := runTailer(t, tl)

	require.NoError(t, os.Remove(oldPath))
	writeFile(t, filepath.Join(dir, "Player.log"), "")
	time.Sleep(100 * time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("tailer stopped: %v", err)
	default:
	}
	assert.Equal(t, oldPath, tl.Status().Path)

	writeFile(t, newPath, "")
	require.Eventually(t, func() bool { return tl.Status().Path == newPath }, 2*time.Second, 10*time.Millisecond)

	appendFile(t, newPath, "2024.01.01 11:00:01 Log - [Behaviour] OnPlayerJoined Bob (usr_2222)\n")
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRunUnreadableLogIsFatal(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("file permissions do not apply to root")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "output_log_2024-01-01_09-00-00.txt")
	writeFile(t, path, "")

	tl := newTestTailer(dir, &recorder{})
	done := runTailer(t, tl)

	require.NoError(t, os.Chmod(path, 0o200))
	appendFile(t, path, "2024.01.01 10:00:01 Log - [Behaviour] OnPlayerJoined Alice (usr_1111)\n")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrIO)
	case <-time.After(2 * time.Second):
		t.Fatal("tailer kept running after a read failure")
	}
}

func TestReadDeltaOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	tl := newTestTailer(dir, &recorder{})

	err := tl.readDelta(filepath.Join(dir, "output_log_2024-01-01_09-00-00.txt"))
	assert.ErrorIs(t, err, ErrIO)
}

func TestRunWatchFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "output_log_2024-01-01_09-00-00.txt"), "")

	tl := newTestTailer(dir, &recorder{})
	tl.newWatcher = func() (*fsnotify.Watcher, error) {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		w.Close()
		return w, nil
	}

	err := tl.Run(context.Background())
	assert.ErrorIs(t, err, ErrWatch)
	assert.ErrorIs(t, err, fsnotify.ErrClosed)
	select {
	case <-tl.Ready():
		t.Error("ready closed although the directory was never watched")
	default:
	}
}

func TestRunWatcherErrorIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "output_log_2024-01-01_09-00-00.txt"), "")

	tl := newTestTailer(dir, &recorder{})
	var watcher *fsnotify.Watcher
	tl.newWatcher = func() (*fsnotify.Watcher, error) {
		w, err := fsnotify.NewWatcher()
		watcher = w
		return w, err
	}
	done := runTailer(t, tl)

	overflow := errors.New("event queue overflow")
	watcher.Errors <- overflow

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrWatch)
		assert.ErrorIs(t, err, overflow)
	case <-time.After(2 * time.Second):
		t.Fatal("tailer kept running after a watcher error")
	}
}

func TestSinceDefaultsToRunStart(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "output_log_2024-01-01_09-00-00.txt"), "")

	tl := New(Config{Dir: dir, Location: time.UTC}, &recorder{}, quietLogger())
	time.Sleep(20 * time.Millisecond)
	before := time.Now()
	runTailer(t, tl)

	assert.False(t, tl.cfg.Since.Before(before), "since %v is earlier than run start %v", tl.cfg.Since, before)
}

func TestRunIgnoresShrink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output_log_2024-01-01_09-00-00.txt")
	writeFile(t, path, "0123456789\n")

	tl := newTestTailer(dir, &recorder{})
	runTailer(t, tl)
	require.Equal(t, int64(11), tl.Status().Offset)

	require.NoError(t, os.Truncate(path, 0))
	appendFile(t, path, "short\n")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(11), tl.Status().Offset)
}
