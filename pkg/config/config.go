// Package config loads and validates the vrcguard configuration file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents a vrcguard config.yaml file.
type Config struct {
	Version        int            `yaml:"version"`
	LogDir         string         `yaml:"log_dir,omitempty"`
	GroupID        string         `yaml:"group_id"`
	SelfUserID     string         `yaml:"self_user_id,omitempty"`
	AutoBan        AutoBan        `yaml:"auto_ban"`
	AutoInvite     AutoInvite     `yaml:"auto_invite"`
	LogAvatarIDs   bool           `yaml:"log_avatar_ids"`
	VRChat         VRChat         `yaml:"vrchat"`
	DiscordWebhook DiscordWebhook `yaml:"discord_webhook"`
	Daemon         Daemon         `yaml:"daemon"`
	Metrics        Metrics        `yaml:"metrics"`
}

type AutoBan struct {
	Enabled     bool   `yaml:"enabled"`
	AvatarsFile string `yaml:"avatars_file"`
}

type AutoInvite struct {
	Enabled bool          `yaml:"enabled"`
	Delay   time.Duration `yaml:"delay"`
}

type VRChat struct {
	Username         string        `yaml:"username,omitempty"`
	UserAgent        string        `yaml:"user_agent,omitempty"`
	CookieFile       string        `yaml:"cookie_file"`
	ProfileCacheSize int           `yaml:"profile_cache_size"`
	ProfileCacheTTL  time.Duration `yaml:"profile_cache_ttl"`
}

type DiscordWebhook struct {
	URL               string `yaml:"url,omitempty"`
	Username          string `yaml:"username,omitempty"`
	AvatarURL         string `yaml:"avatar_url,omitempty"`
	LogOnAutoBan      bool   `yaml:"log_on_auto_ban"`
	LogOnAutoInvite   bool   `yaml:"log_on_auto_invite"`
	LogOnPlayerJoined bool   `yaml:"log_on_player_joined"`
	LogOnPlayerLeft   bool   `yaml:"log_on_player_left"`
}

type Daemon struct {
	Socket         string        `yaml:"socket"`
	LogFile        string        `yaml:"log_file"`
	LogLines       int           `yaml:"log_lines"`
	LogLevel       string        `yaml:"log_level"`
	StatusInterval time.Duration `yaml:"status_interval"`
}

// Level parses LogLevel, defaulting to info.
func (d Daemon) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(d.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file exists. Path fields
// still contain placeholders; Parse and Load expand them.
func Default() *Config {
	return &Config{
		Version: 1,
		AutoBan: AutoBan{
			AvatarsFile: "${config_dir}/avatars.txt",
		},
		AutoInvite: AutoInvite{
			Delay: time.Minute,
		},
		VRChat: VRChat{
			CookieFile:       "${config_dir}/session.cookie",
			ProfileCacheSize: 256,
			ProfileCacheTTL:  5 * time.Minute,
		},
		Daemon: Daemon{
			Socket:         "/tmp/vrcguard.sock",
			LogFile:        "${config_dir}/vrcguard.log",
			LogLines:       250,
			LogLevel:       "info",
			StatusInterval: time.Second,
		},
		Metrics: Metrics{
			Addr: "127.0.0.1:9464",
			Path: "/metrics",
		},
	}
}

// DefaultDir returns the per-user configuration directory.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "vrcguard")
}

// DefaultPath returns the config file path used when none is given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Parse decodes data over the defaults and expands placeholders, with
// ${config_dir} resolving to DefaultDir.
func Parse(data []byte) (*Config, error) {
	return parse(data, DefaultDir())
}

func parse(data []byte, dir string) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.interpolate(dir)
	return c, nil
}

// Load reads the config file at path. ${config_dir} resolves to the
// directory containing it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return parse(data, filepath.Dir(abs))
}

// LoadOrDefault behaves like Load but returns the expanded defaults when
// path does not exist. The boolean reports whether a file was read.
func LoadOrDefault(path string) (*Config, bool, error) {
	c, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		abs, aerr := filepath.Abs(path)
		if aerr != nil {
			abs = path
		}
		c = Default()
		c.interpolate(filepath.Dir(abs))
		return c, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// Save writes c to path, creating parent directories.
func Save(path string, c *Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// interpolate expands ${home}, ${config_dir} and environment variables in
// path fields.
func (c *Config) interpolate(dir string) {
	home, _ := os.UserHomeDir()
	expand := func(s string) string {
		return os.Expand(s, func(key string) string {
			switch key {
			case "home":
				return home
			case "config_dir":
				return dir
			}
			return os.Getenv(key)
		})
	}
	c.LogDir = expand(c.LogDir)
	c.AutoBan.AvatarsFile = expand(c.AutoBan.AvatarsFile)
	c.VRChat.CookieFile = expand(c.VRChat.CookieFile)
	c.Daemon.Socket = expand(c.Daemon.Socket)
	c.Daemon.LogFile = expand(c.Daemon.LogFile)
}
