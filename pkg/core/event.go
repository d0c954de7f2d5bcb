package core

import (
	"fmt"
	"time"
)

// Kind identifies a domain event variant.
type Kind string

const (
	KindJoinedRaw        Kind = "joined_raw"
	KindLeftRaw          Kind = "left_raw"
	KindAvatarChangedRaw Kind = "avatar_changed_raw"
	KindJoined           Kind = "joined"
	KindLeft             Kind = "left"
	KindAvatarChanged    Kind = "avatar_changed"
	KindAutoBanned       Kind = "auto_banned"
	KindAutoInvited      Kind = "auto_invited"
)

// Event is the closed set of events carried by the event bus.
// Only types in this package implement it; consumers type-switch over
// the concrete variants.
type Event interface {
	Kind() Kind
	UserID() string
	event()
}

// JoinedRaw is emitted by the tailer for an OnPlayerJoined line.
type JoinedRaw struct {
	ID   string
	Name string
	At   time.Time
}

// LeftRaw is emitted by the tailer for an OnPlayerLeft line.
type LeftRaw struct {
	ID   string
	Name string
	At   time.Time
}

// AvatarChangedRaw is emitted by the tailer when a known player switches avatar.
type AvatarChangedRaw struct {
	ID   string
	Name string
	At   time.Time
}

// Joined is a JoinedRaw enriched with the player's profile.
type Joined struct {
	ID      string
	Profile Profile
}

// Left is a LeftRaw enriched with the player's profile.
type Left struct {
	ID      string
	Profile Profile
}

// AvatarChanged is an AvatarChangedRaw enriched with the player's profile.
type AvatarChanged struct {
	ID      string
	Profile Profile
}

// AutoBanned is published after a player was banned for wearing a listed avatar.
type AutoBanned struct {
	ID           string
	AvatarFileID string
}

// AutoInvited is published after a delayed group invite went through.
type AutoInvited struct {
	ID string
}

func (JoinedRaw) Kind() Kind        { return KindJoinedRaw }
func (LeftRaw) Kind() Kind          { return KindLeftRaw }
func (AvatarChangedRaw) Kind() Kind { return KindAvatarChangedRaw }
func (Joined) Kind() Kind           { return KindJoined }
func (Left) Kind() Kind             { return KindLeft }
func (AvatarChanged) Kind() Kind    { return KindAvatarChanged }
func (AutoBanned) Kind() Kind       { return KindAutoBanned }
func (AutoInvited) Kind() Kind      { return KindAutoInvited }

func (e JoinedRaw) UserID() string        { return e.ID }
func (e LeftRaw) UserID() string          { return e.ID }
func (e AvatarChangedRaw) UserID() string { return e.ID }
func (e Joined) UserID() string           { return e.ID }
func (e Left) UserID() string             { return e.ID }
func (e AvatarChanged) UserID() string    { return e.ID }
func (e AutoBanned) UserID() string       { return e.ID }
func (e AutoInvited) UserID() string      { return e.ID }

func (JoinedRaw) event()        {}
func (LeftRaw) event()          {}
func (AvatarChangedRaw) event() {}
func (Joined) event()           {}
func (Left) event()             {}
func (AvatarChanged) event()    {}
func (AutoBanned) event()       {}
func (AutoInvited) event()      {}

// Envelope is the flat JSON form of an Event, used on the wire.
type Envelope struct {
	Kind         Kind      `json:"kind"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name,omitempty"`
	At           time.Time `json:"at,omitzero"`
	Profile      *Profile  `json:"profile,omitempty"`
	AvatarFileID string    `json:"avatar_file_id,omitempty"`
}

// Wrap converts an event into its envelope.
func Wrap(e Event) Envelope {
	env := Envelope{Kind: e.Kind(), UserID: e.UserID()}
	switch e := e.(type) {
	case JoinedRaw:
		env.Name, env.At = e.Name, e.At
	case LeftRaw:
		env.Name, env.At = e.Name, e.At
	case AvatarChangedRaw:
		env.Name, env.At = e.Name, e.At
	case Joined:
		env.Profile = &e.Profile
	case Left:
		env.Profile = &e.Profile
	case AvatarChanged:
		env.Profile = &e.Profile
	case AutoBanned:
		env.AvatarFileID = e.AvatarFileID
	case AutoInvited:
	}
	return env
}

// Unwrap converts an envelope back into the event it describes.
func (env Envelope) Unwrap() (Event, error) {
	var p Profile
	if env.Profile != nil {
		p = *env.Profile
	}
	switch env.Kind {
	case KindJoinedRaw:
		return JoinedRaw{ID: env.UserID, Name: env.Name, At: env.At}, nil
	case KindLeftRaw:
		return LeftRaw{ID: env.UserID, Name: env.Name, At: env.At}, nil
	case KindAvatarChangedRaw:
		return AvatarChangedRaw{ID: env.UserID, Name: env.Name, At: env.At}, nil
	case KindJoined:
		return Joined{ID: env.UserID, Profile: p}, nil
	case KindLeft:
		return Left{ID: env.UserID, Profile: p}, nil
	case KindAvatarChanged:
		return AvatarChanged{ID: env.UserID, Profile: p}, nil
	case KindAutoBanned:
		return AutoBanned{ID: env.UserID, AvatarFileID: env.AvatarFileID}, nil
	case KindAutoInvited:
		return AutoInvited{ID: env.UserID}, nil
	}
	return nil, fmt.Errorf("unknown event kind %q", env.Kind)
}
