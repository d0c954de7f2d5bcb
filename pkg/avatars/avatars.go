// Package avatars holds the list of banned avatar file ids and extracts the
// file id of the avatar a player is wearing.
package avatars

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/modoterra/vrcguard/pkg/core"
)

// FileID returns the avatar file id embedded in the profile's current avatar
// image URL, e.g. file_abc from
// https://api.vrchat.cloud/api/1/file/file_abc/1/file.
// It returns "" when the player shows a profile picture override, since the
// image URL then no longer identifies the avatar.
func FileID(p core.Profile) (string, error) {
	if p.ProfilePicOverride != "" {
		return "", nil
	}
	u, err := url.Parse(p.CurrentAvatarImageURL)
	if err != nil {
		return "", fmt.Errorf("parse avatar image url: %w", err)
	}
	segments := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(segments) < 4 || segments[3] == "" {
		return "", fmt.Errorf("avatar image url %q has no file id", p.CurrentAvatarImageURL)
	}
	return segments[3], nil
}

// List is a set of banned avatar file ids backed by a text file with one id
// per line. Blank lines and lines starting with # are ignored. The file is
// reread whenever its modification time changes.
type List struct {
	path string

	mu      sync.Mutex
	ids     map[string]struct{}
	modTime time.Time
	size    int64
}

// NewList returns a list backed by path. The file is read lazily.
func NewList(path string) *List {
	return &List{path: path}
}

// Path returns the backing file.
func (l *List) Path() string {
	return l.path
}

// Contains reports whether id is banned, reloading the file if it changed.
func (l *List) Contains(id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refresh(); err != nil {
		return false, err
	}
	_, ok := l.ids[id]
	return ok, nil
}

// Len returns the number of ids, reloading the file if it changed.
func (l *List) Len() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refresh(); err != nil {
		return 0, err
	}
	return len(l.ids), nil
}

func (l *List) refresh() error {
	info, err := os.Stat(l.path)
	if err != nil {
		return fmt.Errorf("stat avatar list: %w", err)
	}
	if l.ids != nil && info.ModTime().Equal(l.modTime) && info.Size() == l.size {
		return nil
	}

	f, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("open avatar list: %w", err)
	}
	defer f.Close()

	ids := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read avatar list: %w", err)
	}

	l.ids = ids
	l.modTime = info.ModTime()
	l.size = info.Size()
	return nil
}
