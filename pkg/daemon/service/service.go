// Package service manages the vrcguardd systemd user service unit.
package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"

	"github.com/modoterra/vrcguard/pkg/core"
)

const unitName = "vrcguardd.service"

// UnitContents returns the systemd unit file contents for the given binary
// and config file.
func UnitContents(binaryPath, configPath string) string {
	return fmt.Sprintf(`[Unit]
Description=vrcguard daemon, VRChat log watcher and group moderation
Documentation=https://github.com/modoterra/vrcguard

[Service]
Type=notify
ExecStart=%s --config %s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`, binaryPath, configPath)
}

// UnitPath returns the path to the systemd user unit file.
func UnitPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user", unitName), nil
}

// Install writes the unit file, reloads the user manager, and enables and
// starts the service.
func Install(ctx context.Context, configPath string) error {
	binaryPath, err := exec.LookPath("vrcguardd")
	if err != nil {
		return fmt.Errorf("vrcguardd not found in PATH: %w", err)
	}
	binaryPath, err = filepath.Abs(binaryPath)
	if err != nil {
		return fmt.Errorf("cannot resolve vrcguardd path: %w", err)
	}
	configPath, err = filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("cannot resolve config path: %w", err)
	}

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	if err := os.WriteFile(unitPath, []byte(UnitContents(binaryPath, configPath)), 0o644); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}

	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{unitPath}, false, true); err != nil {
		return fmt.Errorf("enable %s: %w", unitName, err)
	}
	return runJob(ctx, "start", func(ch chan<- string) (int, error) {
		return conn.StartUnitContext(ctx, unitName, "replace", ch)
	})
}

// Uninstall stops and disables the service, removes the unit file, and
// reloads the user manager.
func Uninstall(ctx context.Context) error {
	unitPath, err := UnitPath()
	if err != nil {
		return err
	}

	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	// Best effort: the unit may not be running or enabled.
	_ = runJob(ctx, "stop", func(ch chan<- string) (int, error) {
		return conn.StopUnitContext(ctx, unitName, "replace", ch)
	})
	_, _ = conn.DisableUnitFilesContext(ctx, []string{unitName}, false)

	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove unit file: %w", err)
	}
	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	return nil
}

// UnitStatus reports the state of the installed unit.
func UnitStatus(ctx context.Context) (core.Status, string, error) {
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return core.StatusUnknown, "", fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	units, err := conn.ListUnitsByNamesContext(ctx, []string{unitName})
	if err != nil {
		return core.StatusUnknown, "", fmt.Errorf("list units: %w", err)
	}
	if len(units) == 0 {
		return core.StatusUnknown, "", nil
	}
	u := units[0]
	return mapStatus(u.ActiveState, u.SubState), u.ActiveState + "/" + u.SubState, nil
}

// Status returns a human-readable status string.
func Status(ctx context.Context, socketPath string) string {
	var lines []string

	if _, err := os.Stat(socketPath); err == nil {
		lines = append(lines, "socket: active ("+socketPath+")")
	} else {
		lines = append(lines, "socket: inactive ("+socketPath+")")
	}

	unitPath, err := UnitPath()
	if err == nil {
		if _, statErr := os.Stat(unitPath); statErr == nil {
			status, detail, err := UnitStatus(ctx)
			switch {
			case err != nil:
				lines = append(lines, "systemd user service: unknown ("+err.Error()+")")
			case detail == "":
				lines = append(lines, "systemd user service: "+string(status))
			default:
				lines = append(lines, "systemd user service: "+string(status)+" ("+detail+")")
			}
		} else {
			lines = append(lines, "systemd user service: not installed")
		}
	}

	return strings.Join(lines, "\n")
}

func runJob(ctx context.Context, action string, start func(chan<- string) (int, error)) error {
	ch := make(chan string, 1)
	if _, err := start(ch); err != nil {
		return fmt.Errorf("systemd %s %s: %w", action, unitName, err)
	}
	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("systemd %s %s: job result %q", action, unitName, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func mapStatus(active, sub string) core.Status {
	switch active {
	case "active", "activating", "reloading":
		return core.StatusRunning
	case "inactive", "deactivating":
		return core.StatusStopped
	case "failed":
		return core.StatusFailed
	default:
		return core.StatusUnknown
	}
}
