package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/modoterra/vrcguard/internal/buildinfo"
	"github.com/modoterra/vrcguard/internal/cliconfig"
	"github.com/modoterra/vrcguard/pkg/config"
	"github.com/modoterra/vrcguard/pkg/daemon"
	"github.com/modoterra/vrcguard/pkg/directory"
	"github.com/modoterra/vrcguard/pkg/directory/vrchat"
	"github.com/modoterra/vrcguard/pkg/logging"
	"github.com/modoterra/vrcguard/pkg/metrics"
)

var v = viper.New()

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "vrcguardd",
	Short:        "VRChat log watcher and group moderation daemon",
	Long:         "vrcguardd tails the VRChat client log, enriches join, leave and avatar events, and runs auto-ban, auto-invite and notifications.",
	SilenceUsage: true,
	RunE:         run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vrcguardd %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}

func init() {
	cliconfig.Bind(rootCmd.PersistentFlags(), v)
	rootCmd.AddCommand(versionCmd)
}

func run(cmd *cobra.Command, _ []string) error {
	s, err := cliconfig.Resolve(v)
	if err != nil {
		return err
	}
	cfg := s.Config
	if errs := config.Validate(cfg); len(errs) > 0 {
		return fmt.Errorf("invalid config %s: %w", s.Path, multierr.Combine(errs...))
	}

	logger, closeLog, err := logging.Setup(logging.Options{
		Level:    cfg.Daemon.Level(),
		File:     cfg.Daemon.LogFile,
		MaxLines: cfg.Daemon.LogLines,
		Stderr:   cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer closeLog()

	if !s.Found {
		logger.Warn("config file not found, using defaults", "path", s.Path)
	}

	logDir, err := cliconfig.LogDir(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := vrchat.New(vrchat.Options{UserAgent: cfg.VRChat.UserAgent})
	if err != nil {
		return err
	}
	if err := client.LoadCookies(cfg.VRChat.CookieFile); err != nil {
		return fmt.Errorf("no VRChat session, run `vrcguard login` first: %w", err)
	}

	selfID := cfg.SelfUserID
	if selfID == "" {
		me, err := client.CurrentUser(ctx)
		if err != nil {
			if errors.Is(err, vrchat.ErrUnauthorized) {
				return fmt.Errorf("VRChat session expired, run `vrcguard login`: %w", err)
			}
			return fmt.Errorf("resolve logged-in user: %w", err)
		}
		selfID = me.ID
		logger.Info("logged in", "user", me.DisplayName, "id", me.ID)
	}

	dcfg := daemon.ConfigFrom(cfg, logDir)
	dcfg.SelfID = selfID
	dir := directory.NewCached(client, cfg.VRChat.ProfileCacheSize, cfg.VRChat.ProfileCacheTTL)
	d := daemon.New(dcfg, dir, metrics.New(), logger)

	go func() {
		select {
		case <-d.Ready():
			if _, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady); err != nil {
				logger.Warn("sd_notify ready", "err", err)
			}
		case <-ctx.Done():
		}
	}()

	logger.Info("starting vrcguardd", "version", buildinfo.Version, "log_dir", logDir, "socket", cfg.Daemon.Socket)
	err = d.Run(ctx)
	_, _ = sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
	if err != nil {
		logger.Error("daemon error", "err", err)
		return err
	}
	logger.Info("shutting down")
	return nil
}
