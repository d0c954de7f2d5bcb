package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the config for structural correctness.
func Validate(c *Config) []error {
	var errs []error

	if c.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", c.Version))
	}

	if c.GroupID != "" && !strings.HasPrefix(c.GroupID, "grp_") {
		errs = append(errs, fmt.Errorf("group_id must start with grp_, got %q", c.GroupID))
	}
	if c.SelfUserID != "" && !strings.HasPrefix(c.SelfUserID, "usr_") {
		errs = append(errs, fmt.Errorf("self_user_id must start with usr_, got %q", c.SelfUserID))
	}

	if c.AutoBan.Enabled {
		if c.GroupID == "" {
			errs = append(errs, fmt.Errorf("auto_ban: group_id is required"))
		}
		if c.AutoBan.AvatarsFile == "" {
			errs = append(errs, fmt.Errorf("auto_ban: avatars_file is required"))
		}
	}

	if c.AutoInvite.Enabled && c.GroupID == "" {
		errs = append(errs, fmt.Errorf("auto_invite: group_id is required"))
	}
	if c.AutoInvite.Delay < 0 {
		errs = append(errs, fmt.Errorf("auto_invite: delay must not be negative, got %s", c.AutoInvite.Delay))
	}

	if c.VRChat.ProfileCacheSize < 0 {
		errs = append(errs, fmt.Errorf("vrchat: profile_cache_size must not be negative"))
	}
	if c.VRChat.ProfileCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("vrchat: profile_cache_ttl must not be negative"))
	}

	wh := c.DiscordWebhook
	if wh.URL != "" {
		if u, err := url.Parse(wh.URL); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs = append(errs, fmt.Errorf("discord_webhook: url must be an http(s) URL, got %q", wh.URL))
		}
	} else if wh.LogOnAutoBan || wh.LogOnAutoInvite || wh.LogOnPlayerJoined || wh.LogOnPlayerLeft {
		errs = append(errs, fmt.Errorf("discord_webhook: url is required when any log_on_* option is set"))
	}

	if c.Daemon.Socket == "" {
		errs = append(errs, fmt.Errorf("daemon: socket is required"))
	}
	if c.Daemon.LogLines < 0 {
		errs = append(errs, fmt.Errorf("daemon: log_lines must not be negative"))
	}
	switch strings.ToLower(c.Daemon.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("daemon: log_level must be debug, info, warn, or error; got %q", c.Daemon.LogLevel))
	}
	if c.Daemon.StatusInterval <= 0 {
		errs = append(errs, fmt.Errorf("daemon: status_interval must be positive"))
	}

	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			errs = append(errs, fmt.Errorf("metrics: addr is required when enabled"))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			errs = append(errs, fmt.Errorf("metrics: path must start with /, got %q", c.Metrics.Path))
		}
	}

	return errs
}
