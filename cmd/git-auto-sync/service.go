package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/schaermu/gitautosync/internal/systemduser"
)

func runInstallService(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := bootstrapLogger()
	cfg, cfgPath, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	unit, err := serviceUnit(exe, cfgPath, cfg.RepoPath)
	if err != nil {
		return err
	}

	return installService(ctx, systemduser.NewClient(), unit, dryRun, cmd.OutOrStdout())
}

// serviceUnit renders the unit for exe. The config path is pinned so the
// service does not depend on the PATH systemd starts it with.
func serviceUnit(exe, cfgPath, repoPath string) (string, error) {
	absCfg, err := filepath.Abs(cfgPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}
	return systemduser.Unit{
		Executable: exe,
		ConfigPath: absCfg,
		RepoPath:   repoPath,
	}.Render()
}

func installService(ctx context.Context, sd systemduser.Systemd, unit string, dry bool, out io.Writer) error {
	if dry {
		_, err := io.WriteString(out, unit)
		return err
	}

	path, err := systemduser.UnitPath()
	if err != nil {
		return err
	}
	if err := systemduser.Install(ctx, sd, path, unit); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "installed %s and started %s\n", path, systemduser.UnitName)
	return nil
}
