// Package cliconfig resolves the config file and the command line and
// environment overrides shared by vrcguard and vrcguardd.
package cliconfig

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/modoterra/vrcguard/pkg/config"
	"github.com/modoterra/vrcguard/pkg/logfile"
)

// EnvPrefix namespaces the environment overrides, e.g. VRCGUARD_GROUP_ID.
const EnvPrefix = "VRCGUARD"

const (
	keyConfig  = "config"
	keyLogDir  = "log_dir"
	keyGroupID = "group_id"
	keySocket  = "socket"
)

// Settings is the result of merging the config file with overrides.
type Settings struct {
	Config *config.Config
	// Path is the config file that was consulted.
	Path string
	// Found reports whether Path existed.
	Found bool
}

// Bind registers the shared persistent flags on flags and binds them, plus
// the matching VRCGUARD_* variables, into v.
func Bind(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("config", "", "config file (default "+config.DefaultPath()+")")
	flags.String("log-dir", "", "directory holding the client's output_log files")
	flags.String("group-id", "", "group to ban from and invite to")
	flags.String("socket", "", "daemon socket path")

	for key, flag := range map[string]string{
		keyConfig:  "config",
		keyLogDir:  "log-dir",
		keyGroupID: "group-id",
		keySocket:  "socket",
	} {
		// Lookup cannot fail for flags registered above.
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// ConfigPath returns the config file path the overrides point at.
func ConfigPath(v *viper.Viper) string {
	if p := v.GetString(keyConfig); p != "" {
		return p
	}
	return config.DefaultPath()
}

// Resolve loads the config file, falling back to defaults when it does not
// exist, and applies flag and environment overrides.
func Resolve(v *viper.Viper) (Settings, error) {
	path := ConfigPath(v)
	c, found, err := config.LoadOrDefault(path)
	if err != nil {
		return Settings{}, err
	}

	if s := v.GetString(keyLogDir); s != "" {
		c.LogDir = s
	}
	if s := v.GetString(keyGroupID); s != "" {
		c.GroupID = s
	}
	if s := v.GetString(keySocket); s != "" {
		c.Daemon.Socket = s
	}
	return Settings{Config: c, Path: path, Found: found}, nil
}

// LogDir returns the configured log directory or the client's default one.
func LogDir(c *config.Config) (string, error) {
	if c.LogDir != "" {
		return c.LogDir, nil
	}
	dir, err := logfile.DefaultDir()
	if err != nil {
		return "", fmt.Errorf("log_dir is not set and the default is unavailable: %w", err)
	}
	return dir, nil
}
