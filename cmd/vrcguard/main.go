package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/modoterra/vrcguard/internal/buildinfo"
	"github.com/modoterra/vrcguard/internal/cliconfig"
	"github.com/modoterra/vrcguard/pkg/config"
	"github.com/modoterra/vrcguard/pkg/core"
	"github.com/modoterra/vrcguard/pkg/daemon"
	"github.com/modoterra/vrcguard/pkg/daemon/service"
	"github.com/modoterra/vrcguard/pkg/transport/uds"
	tuimodel "github.com/modoterra/vrcguard/pkg/tui/model"
)

var v = viper.New()

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "vrcguard",
	Short:        "Moderation companion for VRChat group owners",
	Long:         "vrcguard is a TUI and CLI for vrcguardd, which watches the VRChat client log and auto-bans, auto-invites and notifies.",
	SilenceUsage: true,
	RunE:         runTUI,
}

func init() {
	cliconfig.Bind(rootCmd.PersistentFlags(), v)

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cancelInviteCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serviceCmd)
}

func settings() (cliconfig.Settings, error) {
	return cliconfig.Resolve(v)
}

func socketPath() (string, error) {
	s, err := settings()
	if err != nil {
		return "", err
	}
	return s.Config.Daemon.Socket, nil
}

// --- Root: TUI ---

func runTUI(_ *cobra.Command, _ []string) error {
	sock, err := socketPath()
	if err != nil {
		return err
	}
	ensureDaemon(sock)
	p := tea.NewProgram(tuimodel.New(sock), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func ensureDaemon(sock string) {
	if _, err := os.Stat(sock); err == nil {
		return
	}
	cmd := exec.Command("vrcguardd", "--config", cliconfig.ConfigPath(v), "--socket", sock)
	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not start vrcguardd:", err)
		return
	}
	for range 30 {
		if _, err := os.Stat(sock); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "warning: vrcguardd did not come up, continuing anyway")
}

func dialDaemon() (*uds.Client, error) {
	sock, err := socketPath()
	if err != nil {
		return nil, err
	}
	client, err := uds.Dial(sock)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon at %s: %w", sock, err)
	}
	return client, nil
}

// --- Ping ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if the daemon is running",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()

		var pong uds.PingResponse
		if err := client.Call(ctx, uds.MethodPing, nil, &pong); err != nil {
			return err
		}
		if pong.Pong {
			fmt.Fprintf(cmd.OutOrStdout(), "pong ✓ (vrcguardd %s)\n", pong.Version)
		}
		return nil
	},
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vrcguard %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}

// --- Daemon ---

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run vrcguardd in the foreground",
	Long:  "Normally the TUI auto-spawns the daemon or systemd runs it. Use this to run it manually.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		args := []string{"--config", cliconfig.ConfigPath(v)}
		for _, name := range []string{"log-dir", "group-id", "socket"} {
			if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
				args = append(args, "--"+name, f.Value.String())
			}
		}
		c := exec.CommandContext(cmd.Context(), "vrcguardd", args...)
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		return c.Run()
	},
}

// --- Status ---

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status and pending invites",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()

		var st daemon.Status
		if err := client.Call(ctx, uds.MethodStatus, nil, &st); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if statusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}

		fmt.Fprintf(out, "version:     %s\n", st.Version)
		fmt.Fprintf(out, "log:         %s (offset %d, %d rotations)\n", st.Tailer.Path, st.Tailer.Offset, st.Tailer.Rotations)
		fmt.Fprintf(out, "lines:       %d read, %d events\n", st.Tailer.Lines, st.Tailer.Published)
		fmt.Fprintf(out, "players:     %d\n", st.Players)
		fmt.Fprintf(out, "subscribers: %d, clients: %d\n", st.Subscribers, st.Clients)

		fmt.Fprintf(out, "\n%-14s %-8s %s\n", "TASK", "STATUS", "ERROR")
		for _, t := range st.Tasks {
			fmt.Fprintf(out, "%-14s %-8s %s\n", t.Name, t.Status, t.Error)
		}

		if len(st.PendingInvites) == 0 {
			fmt.Fprintln(out, "\nno pending invites")
			return nil
		}
		fmt.Fprintf(out, "\n%-42s %s\n", "PENDING INVITE", "DUE")
		for _, inv := range st.PendingInvites {
			fmt.Fprintf(out, "%-42s %s\n", inv.Key, inv.Due.Local().Format(time.TimeOnly))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

// --- Watch ---

var watchJSON bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream daemon events until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		lines := make(chan string, 64)
		client.OnEvent(func(m uds.Message) {
			if m.Method != uds.EventDomain {
				return
			}
			var env core.Envelope
			if err := m.UnmarshalData(&env); err != nil {
				return
			}
			select {
			case lines <- formatEnvelope(env, watchJSON):
			case <-ctx.Done():
			}
		})

		for {
			select {
			case l := <-lines:
				fmt.Fprintln(out, l)
			case <-client.Done():
				return errors.New("daemon closed the connection")
			case <-ctx.Done():
				return nil
			}
		}
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "print raw event envelopes as JSON")
}

func formatEnvelope(env core.Envelope, asJSON bool) string {
	if asJSON {
		data, err := json.Marshal(env)
		if err != nil {
			return err.Error()
		}
		return string(data)
	}
	who := env.Name
	if env.Profile != nil && env.Profile.DisplayName != "" {
		who = env.Profile.DisplayName
	}
	line := fmt.Sprintf("%-18s %s", env.Kind, env.UserID)
	if who != "" {
		line += " " + who
	}
	if env.AvatarFileID != "" {
		line += " avatar=" + env.AvatarFileID
	}
	return line
}

// --- Cancel invite ---

var cancelInviteCmd = &cobra.Command{
	Use:   "cancel-invite <user-id>",
	Short: "Cancel a pending auto-invite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()

		var resp uds.CancelInviteResponse
		if err := client.Call(ctx, uds.MethodCancelInvite, uds.CancelInviteRequest{UserID: args[0]}, &resp); err != nil {
			return err
		}
		if resp.Canceled {
			fmt.Fprintf(cmd.OutOrStdout(), "canceled invite for %s ✓\n", args[0])
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "no pending invite for %s\n", args[0])
		}
		return nil
	},
}

// --- Config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the vrcguard config file",
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := cliconfig.ConfigPath(v)
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Save(path, config.Default()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a config file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cliconfig.ConfigPath(v)
		if len(args) > 0 {
			path = args[0]
		}

		c, err := config.Load(path)
		if err != nil {
			return err
		}

		errs := config.Validate(c)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", path)
			return nil
		}

		errOut := cmd.ErrOrStderr()
		fmt.Fprintf(errOut, "%s: %d error(s)\n", path, len(errs))
		for _, e := range errs {
			fmt.Fprintf(errOut, "  • %s\n", e)
		}
		return fmt.Errorf("%s is invalid", path)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
}

// --- Service ---

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the vrcguardd systemd user service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install, enable and start the user service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Install(cmd.Context(), cliconfig.ConfigPath(v)); err != nil {
			return err
		}
		path, _ := service.UnitPath()
		fmt.Fprintf(cmd.OutOrStdout(), "installed %s ✓\n", path)
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop, disable and remove the user service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Uninstall(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "uninstalled ✓")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show socket and user service state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sock, err := socketPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), service.Status(cmd.Context(), sock))
		return nil
	},
}

func init() {
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}
