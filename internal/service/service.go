package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/netmendhq/netmend/internal/logging"
)

const (
	UnitName        = "netmend.service"
	defaultUnitPath = "/etc/systemd/system/netmend.service"
)

const unitTemplate = `[Unit]
Description=netmend network health monitor
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s run --config %s
Restart=on-failure
RestartSec=10

[Install]
WantedBy=multi-user.target
`

// Dependencies provides overrides for testing.
type Dependencies struct {
	Logger     *logging.Logger
	RunCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
	WriteFile  func(path string, data []byte, perm os.FileMode) error
	Remove     func(path string) error
	Executable func() (string, error)
	UnitPath   string
}

func (d *Dependencies) fill() {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.RunCommand == nil {
		d.RunCommand = runCommand
	}
	if d.WriteFile == nil {
		d.WriteFile = os.WriteFile
	}
	if d.Remove == nil {
		d.Remove = os.Remove
	}
	if d.Executable == nil {
		d.Executable = os.Executable
	}
	if d.UnitPath == "" {
		d.UnitPath = defaultUnitPath
	}
}

// Install registers the monitor as a systemd service pointing at the current
// executable and the given configuration file, then enables it.
func Install(ctx context.Context, configPath string, deps Dependencies) error {
	deps.fill()

	exe, err := deps.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}
	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("resolve config path %q: %w", configPath, err)
	}

	unit := fmt.Sprintf(unitTemplate, exe, absConfig)
	if err := deps.WriteFile(deps.UnitPath, []byte(unit), 0o644); err != nil {
		return fmt.Errorf("write unit file %q: %w", deps.UnitPath, err)
	}

	if out, err := deps.RunCommand(ctx, "systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("systemctl daemon-reload: %w: %s", err, strings.TrimSpace(string(out)))
	}
	if out, err := deps.RunCommand(ctx, "systemctl", "enable", UnitName); err != nil {
		return fmt.Errorf("systemctl enable: %w: %s", err, strings.TrimSpace(string(out)))
	}

	deps.Logger.Infof("service installed (%s)", deps.UnitPath)
	return nil
}

// Uninstall stops and disables the service and removes its unit file. A stop
// failure is tolerated (the service may not be running); everything else is
// fatal to the operation.
func Uninstall(ctx context.Context, deps Dependencies) error {
	deps.fill()

	if out, err := deps.RunCommand(ctx, "systemctl", "stop", UnitName); err != nil {
		deps.Logger.Warnf("systemctl stop failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	if out, err := deps.RunCommand(ctx, "systemctl", "disable", UnitName); err != nil {
		return fmt.Errorf("systemctl disable: %w: %s", err, strings.TrimSpace(string(out)))
	}
	if err := deps.Remove(deps.UnitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file %q: %w", deps.UnitPath, err)
	}
	if out, err := deps.RunCommand(ctx, "systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("systemctl daemon-reload: %w: %s", err, strings.TrimSpace(string(out)))
	}

	deps.Logger.Infof("service uninstalled")
	return nil
}
