// Package discord posts selected bus events to a Discord webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/modoterra/vrcguard/pkg/core"
)

const (
	colorBanned  = 0xFF0000
	colorInvited = 0x0000FF
	colorJoined  = 0x00FF00
	colorLeft    = 0xFFA500
)

// Config selects the webhook and which events are posted.
type Config struct {
	URL       string
	Username  string
	AvatarURL string

	OnAutoBan      bool
	OnAutoInvite   bool
	OnPlayerJoined bool
	OnPlayerLeft   bool
}

// Enabled reports whether any event would be posted.
func (c Config) Enabled() bool {
	return c.URL != "" && (c.OnAutoBan || c.OnAutoInvite || c.OnPlayerJoined || c.OnPlayerLeft)
}

type field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type thumbnail struct {
	URL string `json:"url"`
}

type embed struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Fields      []field    `json:"fields"`
	Thumbnail   *thumbnail `json:"thumbnail,omitempty"`
	Color       int        `json:"color"`
}

type payload struct {
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Embeds    []embed `json:"embeds"`
}

// ProfileSource resolves profiles for events that only carry an id.
type ProfileSource interface {
	GetProfile(ctx context.Context, id string) (core.Profile, error)
}

// Notifier turns events into webhook embeds.
type Notifier struct {
	cfg      Config
	profiles ProfileSource
	client   *http.Client
	logger   *slog.Logger
}

// New creates a notifier. profiles is consulted for ban and invite events.
func New(cfg Config, profiles ProfileSource, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:      cfg,
		profiles: profiles,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// Handle posts e if its kind is enabled. Failures are logged.
func (n *Notifier) Handle(ctx context.Context, e core.Event) {
	em, ok := n.embedFor(ctx, e)
	if !ok {
		return
	}
	if err := n.Send(ctx, em); err != nil {
		n.logger.Error("discord webhook", "kind", e.Kind(), "user", e.UserID(), "err", err)
	}
}

func (n *Notifier) embedFor(ctx context.Context, e core.Event) (embed, bool) {
	switch e := e.(type) {
	case core.AutoBanned:
		if !n.cfg.OnAutoBan {
			return embed{}, false
		}
		p := n.profile(ctx, e.ID)
		return build("User Banned",
			fmt.Sprintf("User **%s** has been banned for using avatar ID: `%s`", p.DisplayName, e.AvatarFileID),
			p, colorBanned), true
	case core.AutoInvited:
		if !n.cfg.OnAutoInvite {
			return embed{}, false
		}
		p := n.profile(ctx, e.ID)
		return build("User Invited",
			fmt.Sprintf("User **%s** has been automatically invited", p.DisplayName),
			p, colorInvited), true
	case core.Joined:
		if !n.cfg.OnPlayerJoined {
			return embed{}, false
		}
		return build("Player Joined",
			fmt.Sprintf("**%s** has joined the instance!", e.Profile.DisplayName),
			withID(e.Profile, e.ID), colorJoined), true
	case core.Left:
		if !n.cfg.OnPlayerLeft {
			return embed{}, false
		}
		return build("Player Left",
			fmt.Sprintf("**%s** has left the instance", e.Profile.DisplayName),
			withID(e.Profile, e.ID), colorLeft), true
	case core.JoinedRaw, core.LeftRaw, core.AvatarChangedRaw, core.AvatarChanged:
	}
	return embed{}, false
}

// profile falls back to the bare id when the lookup fails, so the
// notification still goes out.
func (n *Notifier) profile(ctx context.Context, id string) core.Profile {
	if n.profiles != nil {
		p, err := n.profiles.GetProfile(ctx, id)
		if err == nil {
			return withID(p, id)
		}
		n.logger.Warn("fetch profile for notification", "user", id, "err", err)
	}
	return core.Profile{ID: id, DisplayName: id}
}

func withID(p core.Profile, id string) core.Profile {
	if p.ID == "" {
		p.ID = id
	}
	return p
}

func build(title, description string, p core.Profile, color int) embed {
	em := embed{
		Title:       title,
		Description: description,
		Fields:      []field{{Name: "User ID", Value: p.ID}},
		Color:       color,
	}
	if p.CurrentAvatarThumbURL != "" {
		em.Thumbnail = &thumbnail{URL: p.CurrentAvatarThumbURL}
	}
	return em
}

// Send posts a single embed.
func (n *Notifier) Send(ctx context.Context, em embed) error {
	body, err := json.Marshal(payload{
		Username:  n.cfg.Username,
		AvatarURL: n.cfg.AvatarURL,
		Embeds:    []embed{em},
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post webhook: status %s", resp.Status)
	}
	return nil
}
