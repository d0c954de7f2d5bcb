// Package logging builds the daemon's slog logger.
package logging

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

const DefaultMaxLines = 250

// Options configures Setup.
type Options struct {
	Level slog.Level
	// File, when set, receives a copy of every record. It is trimmed to its
	// last MaxLines lines before logging starts.
	File     string
	MaxLines int
	// Stderr defaults to os.Stderr.
	Stderr io.Writer
}

// Setup returns a text logger and a close function for the log file.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	var w io.Writer = opts.Stderr
	if w == nil {
		w = os.Stderr
	}
	closeFn := func() error { return nil }

	if opts.File != "" {
		if opts.MaxLines <= 0 {
			opts.MaxLines = DefaultMaxLines
		}
		f, err := openTrimmed(opts.File, opts.MaxLines)
		if err != nil {
			return nil, nil, err
		}
		w = io.MultiWriter(w, f)
		closeFn = f.Close
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: opts.Level}))
	return logger, closeFn, nil
}

// openTrimmed keeps only the last maxLines lines of path and opens it for
// appending.
func openTrimmed(path string, maxLines int) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if err := trim(path, maxLines); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func trim(path string, maxLines int) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	// Ring of the last maxLines lines.
	ring := make([]string, 0, maxLines)
	total := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) < maxLines {
			ring = append(ring, scanner.Text())
		} else {
			ring[total%maxLines] = scanner.Text()
		}
		total++
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return fmt.Errorf("read log file: %w", scanErr)
	}
	if total <= maxLines {
		return nil
	}

	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("trim log file: %w", err)
	}
	bw := bufio.NewWriter(out)
	start := total % maxLines
	for i := range maxLines {
		fmt.Fprintln(bw, ring[(start+i)%maxLines])
	}
	if err := bw.Flush(); err != nil {
		out.Close()
		return fmt.Errorf("trim log file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("trim log file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("trim log file: %w", err)
	}
	return nil
}
