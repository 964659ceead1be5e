// Package systemduser installs and controls the daemon as a systemd user
// service.
package systemduser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/adrg/xdg"
)

// UnitName is the name of the installed user unit
const UnitName = "git-auto-sync.service"

// Systemd provides operations for interacting with systemd user units
type Systemd interface {
	// IsAvailable checks if systemctl --user is accessible
	IsAvailable(ctx context.Context) (bool, error)
	// DaemonReload reloads systemd user configuration
	DaemonReload(ctx context.Context) error
	// EnableNow enables a unit and starts it immediately
	EnableNow(ctx context.Context, unit string) error
	// IsActive reports the unit's active state as printed by systemctl
	IsActive(ctx context.Context, unit string) (string, error)
}

// Client implements Systemd by shelling out to systemctl --user
type Client struct {
	bin string
}

// NewClient creates a new systemd client
func NewClient() *Client {
	return &Client{bin: "systemctl"}
}

func (c *Client) systemctl(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.bin, append([]string{"--user"}, args...)...)
	return cmd.CombinedOutput()
}

// IsAvailable checks if systemctl --user is accessible
func (c *Client) IsAvailable(ctx context.Context) (bool, error) {
	_, err := c.systemctl(ctx, "status")

	// systemctl status returns non-zero for degraded systems, but it's still available
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() <= 3 {
			return true, nil
		}
		return false, fmt.Errorf("systemctl --user not available: %w", err)
	}
	return true, nil
}

// DaemonReload reloads systemd user daemon configuration
func (c *Client) DaemonReload(ctx context.Context) error {
	if output, err := c.systemctl(ctx, "daemon-reload"); err != nil {
		return fmt.Errorf("systemctl daemon-reload failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// EnableNow enables unit and starts it
func (c *Client) EnableNow(ctx context.Context, unit string) error {
	if output, err := c.systemctl(ctx, "enable", "--now", unit); err != nil {
		return fmt.Errorf("systemctl enable --now %s failed: %w: %s", unit, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// IsActive returns the status of a unit
func (c *Client) IsActive(ctx context.Context, unit string) (string, error) {
	output, err := c.systemctl(ctx, "is-active", unit)
	status := strings.TrimSpace(string(output))

	// is-active returns non-zero for inactive units, but that's not an error
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return "", fmt.Errorf("systemctl is-active %s failed: %w", unit, err)
	}
	return status, nil
}

// Unit describes the service unit running the daemon.
type Unit struct {
	Executable string
	ConfigPath string
	RepoPath   string
}

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=git-auto-sync for {{.RepoPath}}
Wants=network-online.target
After=network-online.target

[Service]
Type=simple
ExecStart={{.ExecStart}}
Restart=on-failure
RestartSec=30

[Install]
WantedBy=default.target
`))

// Render returns the unit file content.
func (u Unit) Render() (string, error) {
	args := []string{u.Executable}
	if u.ConfigPath != "" {
		args = append(args, "--config", u.ConfigPath)
	}
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = quoteArg(a)
	}

	var buf bytes.Buffer
	err := unitTemplate.Execute(&buf, struct {
		RepoPath  string
		ExecStart string
	}{RepoPath: u.RepoPath, ExecStart: strings.Join(quoted, " ")})
	if err != nil {
		return "", fmt.Errorf("failed to render unit: %w", err)
	}
	return buf.String(), nil
}

// quoteArg quotes a command line word for systemd when needed.
func quoteArg(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"'\\") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// UnitPath returns the location of the user unit below the XDG config home,
// creating the parent directories.
func UnitPath() (string, error) {
	path, err := xdg.ConfigFile(filepath.Join("systemd", "user", UnitName))
	if err != nil {
		return "", fmt.Errorf("failed to resolve unit path: %w", err)
	}
	return path, nil
}

// Install writes content to path, reloads systemd and enables the unit.
func Install(ctx context.Context, sd Systemd, path, content string) error {
	ok, err := sd.IsAvailable(ctx)
	if err != nil {
		return fmt.Errorf("systemd user session not available: %w", err)
	}
	if !ok {
		return errors.New("systemd user session not available")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create unit directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}
	if err := sd.DaemonReload(ctx); err != nil {
		return err
	}
	return sd.EnableNow(ctx, filepath.Base(path))
}
