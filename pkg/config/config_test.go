package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseValidConfig(t *testing.T) {
	yaml := `
version: 1
log_dir: "${home}/vrchat-logs"
group_id: grp_1234
auto_ban:
  enabled: true
  avatars_file: "${config_dir}/banned.txt"
auto_invite:
  enabled: true
  delay: 45s
log_avatar_ids: true
vrchat:
  username: someone
  profile_cache_ttl: 1m
discord_webhook:
  url: https://discord.com/api/webhooks/1/abc
  log_on_auto_ban: true
daemon:
  log_level: debug
`
	c, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	home, _ := os.UserHomeDir()
	if c.LogDir != home+"/vrchat-logs" {
		t.Errorf("log_dir interpolation: got %q", c.LogDir)
	}
	if c.AutoBan.AvatarsFile != filepath.Join(DefaultDir(), "banned.txt") {
		t.Errorf("avatars_file interpolation: got %q", c.AutoBan.AvatarsFile)
	}
	if c.AutoInvite.Delay != 45*time.Second {
		t.Errorf("delay: got %v", c.AutoInvite.Delay)
	}
	if c.VRChat.ProfileCacheTTL != time.Minute {
		t.Errorf("profile_cache_ttl: got %v", c.VRChat.ProfileCacheTTL)
	}
	// Unset fields keep their defaults.
	if c.VRChat.ProfileCacheSize != 256 {
		t.Errorf("profile_cache_size default: got %d", c.VRChat.ProfileCacheSize)
	}
	if c.Daemon.LogLines != 250 {
		t.Errorf("log_lines default: got %d", c.Daemon.LogLines)
	}
	if c.Daemon.Level() != slog.LevelDebug {
		t.Errorf("level: got %v", c.Daemon.Level())
	}
	if errs := Validate(c); len(errs) != 0 {
		t.Errorf("unexpected validation errors: %v", errs)
	}
}

func TestParseEnvInterpolation(t *testing.T) {
	t.Setenv("VRCGUARD_TEST_DIR", "/srv/logs")
	c, err := Parse([]byte("version: 1\nlog_dir: ${VRCGUARD_TEST_DIR}/vrchat\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.LogDir != "/srv/logs/vrchat" {
		t.Errorf("log_dir: got %q", c.LogDir)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("version: [")); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadResolvesConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.VRChat.CookieFile != filepath.Join(dir, "session.cookie") {
		t.Errorf("cookie_file: got %q", c.VRChat.CookieFile)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	dir := t.TempDir()
	c, found, err := LoadOrDefault(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("found should be false for a missing file")
	}
	if c.Daemon.LogFile != filepath.Join(dir, "vrcguard.log") {
		t.Errorf("log_file: got %q", c.Daemon.LogFile)
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	c := Default()
	c.GroupID = "grp_abc"
	c.AutoInvite.Delay = 90 * time.Second
	if err := Save(path, c); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "${config_dir}/avatars.txt") {
		t.Errorf("placeholders should be written unexpanded:\n%s", raw)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.GroupID != "grp_abc" || got.AutoInvite.Delay != 90*time.Second {
		t.Errorf("round trip lost values: %+v", got)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if errs := Validate(Default()); len(errs) != 0 {
		t.Errorf("default config invalid: %v", errs)
	}
}

func TestValidateVersionMustBe1(t *testing.T) {
	c := Default()
	c.Version = 2
	assertHasError(t, Validate(c), "version must be 1")
}

func TestValidateAutoBanRequiresGroup(t *testing.T) {
	c := Default()
	c.AutoBan.Enabled = true
	assertHasError(t, Validate(c), "auto_ban: group_id is required")
}

func TestValidateAutoInviteRequiresGroup(t *testing.T) {
	c := Default()
	c.AutoInvite.Enabled = true
	assertHasError(t, Validate(c), "auto_invite: group_id is required")
}

func TestValidateNegativeDelay(t *testing.T) {
	c := Default()
	c.AutoInvite.Delay = -time.Second
	assertHasError(t, Validate(c), "delay must not be negative")
}

func TestValidateGroupIDPrefix(t *testing.T) {
	c := Default()
	c.GroupID = "1234"
	assertHasError(t, Validate(c), "group_id must start with grp_")
}

func TestValidateWebhookToggleNeedsURL(t *testing.T) {
	c := Default()
	c.DiscordWebhook.LogOnPlayerJoined = true
	assertHasError(t, Validate(c), "url is required")
}

func TestValidateWebhookURL(t *testing.T) {
	c := Default()
	c.DiscordWebhook.URL = "discord.com/hook"
	assertHasError(t, Validate(c), "http(s) URL")
}

func TestValidateLogLevel(t *testing.T) {
	for _, level := range []string{"", "debug", "INFO", "warn", "error"} {
		c := Default()
		c.Daemon.LogLevel = level
		if errs := Validate(c); len(errs) != 0 {
			t.Errorf("log_level=%q: unexpected errors: %v", level, errs)
		}
	}
	c := Default()
	c.Daemon.LogLevel = "verbose"
	assertHasError(t, Validate(c), "log_level must be")
}

func TestValidateMetrics(t *testing.T) {
	c := Default()
	c.Metrics.Enabled = true
	c.Metrics.Path = "metrics"
	assertHasError(t, Validate(c), "path must start with /")
}

func TestValidateStatusInterval(t *testing.T) {
	c := Default()
	c.Daemon.StatusInterval = 0
	assertHasError(t, Validate(c), "status_interval must be positive")
}

func assertHasError(t *testing.T, errs []error, substr string) {
	t.Helper()
	for _, e := range errs {
		if strings.Contains(e.Error(), substr) {
			return
		}
	}
	t.Errorf("expected error containing %q, got: %v", substr, errs)
}
