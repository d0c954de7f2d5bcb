// Package logfile finds the client log file currently being written.
package logfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// ErrNotFound is returned when no log file can be located.
var ErrNotFound = errors.New("no log file found")

// nameLayout is the timestamp embedded in output_log_2024-01-01_10-00-00.txt.
const nameLayout = "2006-01-02_15-04-05"

var namePattern = regexp.MustCompile(`^output_log_(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})\.txt$`)

// ParseTimestamp extracts the creation time encoded in a log file name.
func ParseTimestamp(name string) (time.Time, bool) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(nameLayout, m[1], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Latest returns the log file in dir with the newest embedded timestamp.
// Files that do not follow the naming scheme are ignored.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", ErrNotFound, dir, err)
	}

	var (
		latest     string
		latestTime time.Time
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ts, ok := ParseTimestamp(e.Name())
		if !ok {
			continue
		}
		if latest == "" || ts.After(latestTime) {
			latest = filepath.Join(dir, e.Name())
			latestTime = ts
		}
	}

	if latest == "" {
		return "", fmt.Errorf("%w in %s", ErrNotFound, dir)
	}
	return latest, nil
}

// DefaultDir returns the directory the Windows client writes its logs to.
func DefaultDir() (string, error) {
	profile := os.Getenv("USERPROFILE")
	if profile == "" {
		return "", fmt.Errorf("USERPROFILE not set; configure log_dir explicitly")
	}
	return filepath.Join(profile, "AppData", "LocalLow", "VRChat", "VRChat"), nil
}
