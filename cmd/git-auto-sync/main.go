package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/schaermu/gitautosync/internal/config"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	logFile   string
	dryRun    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "git-auto-sync",
	Short: "Keep a git working tree committed, pulled and pushed",
	Long: `git-auto-sync commits every local change of a working tree, integrates the
remote branch and pushes the result, once at startup and then on a fixed
interval.

Fast-forwards and clean merges are handled automatically. Merge conflicts are
reported and left for you to resolve; the next attempt retries.

The configuration file git-auto-sync.toml is searched in every directory of
$PATH, then in $XDG_CONFIG_HOME/git-auto-sync.`,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runDaemon,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single sync attempt and exit",
	Long: `Once runs one commit, pull and push attempt, bounded by half the configured
interval, and exits non-zero when it fails.

With --dry-run nothing is committed, no branch is moved and nothing is pushed.`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

var installServiceCmd = &cobra.Command{
	Use:   "install-service",
	Short: "Install and start git-auto-sync as a systemd user service",
	Args:  cobra.NoArgs,
	RunE:  runInstallService,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("git-auto-sync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.FileName+" on $PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file, rotated (overrides [log] file)")

	onceCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	installServiceCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the unit instead of installing it")

	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(installServiceCmd)
	rootCmd.AddCommand(versionCmd)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger builds the process logger. When path is set, output is also
// written to a rotated log file; the returned function closes it.
func setupLogger(stdout io.Writer, path string) (*slog.Logger, func()) {
	out := stdout
	closeFn := func() {}
	if path != "" {
		rotated := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = io.MultiWriter(stdout, rotated)
		closeFn = func() { _ = rotated.Close() }
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLevel(logLevel)}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), closeFn
}

// loadConfig reads the --config file or the discovered one and returns it
// with its path.
func loadConfig(logger *slog.Logger) (*config.Config, string, error) {
	configPath := cfgFile
	if configPath == "" {
		var err error
		configPath, err = config.Locate()
		if err != nil {
			return nil, "", err
		}
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", err
	}

	logger.Debug("configuration loaded",
		"repo", cfg.RepoPath,
		"branch", cfg.BranchName,
		"interval", cfg.Interval(),
		"serve", cfg.Serve.Enabled)

	return cfg, configPath, nil
}

// logPath picks the log file: the flag wins over the config key.
func logPath(cfg *config.Config) string {
	if logFile != "" {
		return logFile
	}
	return cfg.Log.File
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
