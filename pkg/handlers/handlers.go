// Package handlers holds the bus consumers: profile enrichment, avatar based
// auto-ban, delayed auto-invite and avatar id logging.
//
// Every consumer exposes Handle(ctx, event) for use with eventbus.Consume.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/modoterra/vrcguard/pkg/avatars"
	"github.com/modoterra/vrcguard/pkg/core"
	"github.com/modoterra/vrcguard/pkg/debounce"
	"github.com/modoterra/vrcguard/pkg/metrics"
)

// Publisher puts follow-up events back on the bus.
type Publisher interface {
	Publish(core.Event)
}

// invalidator is implemented by caching directories.
type invalidator interface {
	Invalidate(id string)
}

// Enricher turns raw tailer events into profile-carrying events.
type Enricher struct {
	dir    core.DirectoryService
	selfID string
	pub    Publisher
	logger *slog.Logger
}

// NewEnricher creates an enricher. Events about selfID are dropped.
func NewEnricher(dir core.DirectoryService, selfID string, pub Publisher, logger *slog.Logger) *Enricher {
	return &Enricher{dir: dir, selfID: selfID, pub: pub, logger: logger}
}

func (h *Enricher) Handle(ctx context.Context, e core.Event) {
	switch e := e.(type) {
	case core.JoinedRaw:
		if p, ok := h.lookup(ctx, e.ID); ok {
			h.pub.Publish(core.Joined{ID: e.ID, Profile: p})
		}
	case core.LeftRaw:
		if p, ok := h.lookup(ctx, e.ID); ok {
			h.pub.Publish(core.Left{ID: e.ID, Profile: p})
		}
	case core.AvatarChangedRaw:
		// A cached profile still points at the previous avatar.
		if inv, ok := h.dir.(invalidator); ok {
			inv.Invalidate(e.ID)
		}
		if p, ok := h.lookup(ctx, e.ID); ok {
			h.pub.Publish(core.AvatarChanged{ID: e.ID, Profile: p})
		}
	case core.Joined, core.Left, core.AvatarChanged, core.AutoBanned, core.AutoInvited:
	}
}

func (h *Enricher) lookup(ctx context.Context, id string) (core.Profile, bool) {
	if id == h.selfID {
		return core.Profile{}, false
	}
	p, err := h.dir.GetProfile(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrProfileNotFound) {
			h.logger.Debug("profile not found", "user", id)
		} else {
			h.logger.Error("fetch profile", "user", id, "err", err)
		}
		return core.Profile{}, false
	}
	if p.ID == "" {
		p.ID = id
	}
	return p, true
}

// BannedList reports whether an avatar file id is banned.
type BannedList interface {
	Contains(fileID string) (bool, error)
}

var _ BannedList = (*avatars.List)(nil)

// AutoBan bans players whose current avatar is on the banned list.
type AutoBan struct {
	dir     core.DirectoryService
	list    BannedList
	groupID string
	invites *debounce.Scheduler
	pub     Publisher
	retry   Retrier
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// AutoBanConfig wires an AutoBan.
type AutoBanConfig struct {
	Directory core.DirectoryService
	List      BannedList
	GroupID   string
	// Invites, when set, has any pending invite for a banned player canceled.
	Invites *debounce.Scheduler
	Retry   Retrier
	Metrics *metrics.Metrics
}

func NewAutoBan(cfg AutoBanConfig, pub Publisher, logger *slog.Logger) *AutoBan {
	return &AutoBan{
		dir:     cfg.Directory,
		list:    cfg.List,
		groupID: cfg.GroupID,
		invites: cfg.Invites,
		pub:     pub,
		retry:   cfg.Retry,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

func (h *AutoBan) Handle(ctx context.Context, e core.Event) {
	switch e := e.(type) {
	case core.Joined:
		h.check(ctx, e.ID, e.Profile)
	case core.AvatarChanged:
		h.check(ctx, e.ID, e.Profile)
	case core.JoinedRaw, core.LeftRaw, core.AvatarChangedRaw, core.Left, core.AutoBanned, core.AutoInvited:
	}
}

func (h *AutoBan) check(ctx context.Context, id string, p core.Profile) {
	fileID, err := avatars.FileID(p)
	if err != nil {
		h.logger.Warn("extract avatar file id", "user", id, "err", err)
		return
	}
	if fileID == "" {
		return
	}

	banned, err := h.list.Contains(fileID)
	if err != nil {
		h.logger.Error("check avatar list", "user", id, "err", err)
		return
	}
	if !banned {
		return
	}

	err = h.retry.Do(ctx, func(ctx context.Context) error {
		return h.dir.Ban(ctx, h.groupID, id)
	})
	h.metrics.Action("ban", err)
	if err != nil {
		h.logger.Error("ban user", "user", id, "group", h.groupID, "err", err)
		return
	}

	if h.invites != nil && h.invites.Cancel(id) {
		h.logger.Debug("canceled pending invite for banned user", "user", id)
	}
	h.logger.Info("banned user", "user", id, "name", p.DisplayName, "avatar_file_id", fileID, "group", h.groupID)
	h.pub.Publish(core.AutoBanned{ID: id, AvatarFileID: fileID})
}

// bannedMemory bounds how many banned ids AutoInvite remembers.
const bannedMemory = 1024

// AutoInvite invites players to the group after they have stayed in the
// instance for a while. Leaving before the delay cancels the invite; joining
// again restarts it. Players the auto-ban consumer banned are never invited.
type AutoInvite struct {
	dir     core.DirectoryService
	banned  *lru.Cache[string, struct{}]
	groupID string
	delay   time.Duration
	sched   *debounce.Scheduler
	pub     Publisher
	retry   Retrier
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// AutoInviteConfig wires an AutoInvite.
type AutoInviteConfig struct {
	Directory core.DirectoryService
	GroupID   string
	Delay     time.Duration
	Scheduler *debounce.Scheduler
	Retry     Retrier
	Metrics   *metrics.Metrics
}

func NewAutoInvite(cfg AutoInviteConfig, pub Publisher, logger *slog.Logger) *AutoInvite {
	banned, _ := lru.New[string, struct{}](bannedMemory)
	return &AutoInvite{
		dir:     cfg.Directory,
		banned:  banned,
		groupID: cfg.GroupID,
		delay:   cfg.Delay,
		sched:   cfg.Scheduler,
		pub:     pub,
		retry:   cfg.Retry,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

func (h *AutoInvite) Handle(ctx context.Context, e core.Event) {
	switch e := e.(type) {
	case core.Joined:
		id := e.ID
		if h.banned.Contains(id) {
			h.logger.Debug("not inviting banned user", "user", id)
			return
		}
		h.sched.Schedule(id, h.delay, func() { h.invite(ctx, id) })
		h.logger.Debug("scheduled invite", "user", id, "delay", h.delay)
	case core.Left:
		if h.sched.Cancel(e.ID) {
			h.logger.Debug("canceled invite, user left", "user", e.ID)
		}
	case core.AutoBanned:
		// Arrives after the Joined it was derived from, whatever the lag.
		h.banned.Add(e.ID, struct{}{})
		if h.sched.Cancel(e.ID) {
			h.logger.Debug("canceled invite, user banned", "user", e.ID)
		}
	case core.JoinedRaw, core.LeftRaw, core.AvatarChangedRaw, core.AvatarChanged, core.AutoInvited:
	}
}

func (h *AutoInvite) invite(ctx context.Context, id string) {
	err := h.retry.Do(ctx, func(ctx context.Context) error {
		return h.dir.Invite(ctx, h.groupID, id)
	})
	h.metrics.Action("invite", err)
	if err != nil {
		h.logger.Error("invite user", "user", id, "group", h.groupID, "err", err)
		return
	}
	h.logger.Info("invited user", "user", id, "group", h.groupID)
	h.pub.Publish(core.AutoInvited{ID: id})
}

// AvatarLogger logs the avatar file id of players as they join or change
// avatar, which is how ids for the banned list are collected.
type AvatarLogger struct {
	logger *slog.Logger
}

func NewAvatarLogger(logger *slog.Logger) *AvatarLogger {
	return &AvatarLogger{logger: logger}
}

func (h *AvatarLogger) Handle(_ context.Context, e core.Event) {
	switch e := e.(type) {
	case core.Joined:
		h.log(e.ID, e.Profile)
	case core.AvatarChanged:
		h.log(e.ID, e.Profile)
	case core.JoinedRaw, core.LeftRaw, core.AvatarChangedRaw, core.Left, core.AutoBanned, core.AutoInvited:
	}
}

func (h *AvatarLogger) log(id string, p core.Profile) {
	fileID, err := avatars.FileID(p)
	if err != nil || fileID == "" {
		return
	}
	h.logger.Info("avatar", "name", p.DisplayName, "user", id, "avatar_file_id", fileID)
}
