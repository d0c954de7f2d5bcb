// Package logparse recognises the VRChat client log lines the daemon acts on.
package logparse

import (
	"regexp"
	"strings"
	"time"
)

// TimeLayout is the timestamp format at the start of every client log line.
const TimeLayout = "2006.01.02 15:04:05"

// LineKind identifies which grammar matched.
type LineKind int

const (
	LineJoined LineKind = iota + 1
	LineLeft
	LineAvatarChanged
)

func (k LineKind) String() string {
	switch k {
	case LineJoined:
		return "joined"
	case LineLeft:
		return "left"
	case LineAvatarChanged:
		return "avatar_changed"
	default:
		return "unknown"
	}
}

// Line is one recognised log line. ID is empty for avatar changes, which
// only name the player.
type Line struct {
	Kind LineKind
	At   time.Time
	Name string
	ID   string
}

const prefix = `^(\d{4}\.\d{2}\.\d{2} \d{2}:\d{2}:\d{2})\s+\w+\s+-\s+\[Behaviour\]\s`

var (
	joinPattern   = regexp.MustCompile(prefix + `OnPlayerJoined\s([^(]+)\s\((usr_[0-9a-fA-F-]+)\)`)
	leftPattern   = regexp.MustCompile(prefix + `OnPlayerLeft\s([^(]+)\s\((usr_[0-9a-fA-F-]+)\)`)
	avatarPattern = regexp.MustCompile(prefix + `Switching\s(.+?)\s+to\savatar\s`)
)

// Parse matches line against the joined, left and avatar grammars in that
// order. Timestamps are interpreted in loc (time.Local when nil). Lines that
// match nothing, or whose timestamp does not parse, report false.
func Parse(line string, loc *time.Location) (Line, bool) {
	if loc == nil {
		loc = time.Local
	}
	line = strings.TrimRight(line, "\r")

	if m := joinPattern.FindStringSubmatch(line); m != nil {
		return build(LineJoined, m[1], m[2], m[3], loc)
	}
	if m := leftPattern.FindStringSubmatch(line); m != nil {
		return build(LineLeft, m[1], m[2], m[3], loc)
	}
	if m := avatarPattern.FindStringSubmatch(line); m != nil {
		return build(LineAvatarChanged, m[1], m[2], "", loc)
	}
	return Line{}, false
}

func build(kind LineKind, ts, name, id string, loc *time.Location) (Line, bool) {
	at, err := time.ParseInLocation(TimeLayout, ts, loc)
	if err != nil {
		return Line{}, false
	}
	return Line{Kind: kind, At: at, Name: strings.TrimSpace(name), ID: id}, true
}
