package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/schaermu/gitautosync/internal/activation"
	"github.com/schaermu/gitautosync/internal/config"
	"github.com/schaermu/gitautosync/internal/credential"
	"github.com/schaermu/gitautosync/internal/git"
	"github.com/schaermu/gitautosync/internal/notify"
	"github.com/schaermu/gitautosync/internal/sync"
	"github.com/schaermu/gitautosync/internal/webhook"
)

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, _, err := loadConfig(bootstrapLogger())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closeLog := setupLogger(os.Stdout, logPath(cfg))
	defer closeLog()

	repo, unlock, err := openRepository(cfg, logger)
	if err != nil {
		return err
	}
	defer unlock()

	engine := sync.NewEngine(repo, credential.FromConfig(cfg.Auth, logger), cfg.BranchName, logger, false)
	sched := sync.NewScheduler(engine, cfg.Interval(), newNotifier(cfg, logger), logger)

	webhookErr := make(chan error, 1)
	if cfg.Serve.Enabled {
		server, err := webhook.NewServer(cfg.Serve, cfg.BranchName, sched.Trigger, logger)
		if err != nil {
			return fmt.Errorf("failed to create webhook server: %w", err)
		}
		ln, err := activation.Listener()
		if err != nil {
			return fmt.Errorf("socket activation: %w", err)
		}
		if ln != nil {
			logger.Info("using socket-activated listener", "addr", ln.Addr().String())
		}
		go func() {
			if err := server.Serve(ctx, ln); err != nil {
				webhookErr <- err
				cancel()
			}
		}()
	}

	logger.Info("git-auto-sync started",
		"version", version,
		"repo", repo.WorkDir(),
		"branch", cfg.BranchName,
		"interval", cfg.Interval())

	if err := sched.Run(ctx); err != nil {
		return err
	}

	select {
	case err := <-webhookErr:
		return fmt.Errorf("webhook server failed: %w", err)
	default:
		return nil
	}
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, _, err := loadConfig(bootstrapLogger())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closeLog := setupLogger(os.Stdout, logPath(cfg))
	defer closeLog()

	repo, unlock, err := openRepository(cfg, logger)
	if err != nil {
		return err
	}
	defer unlock()

	engine := sync.NewEngine(repo, credential.FromConfig(cfg.Auth, logger), cfg.BranchName, logger, dryRun)
	sched := sync.NewScheduler(engine, cfg.Interval(), nil, logger)

	attemptLogger := logger.With("attempt", uuid.New().String())
	o := sched.RunOnce(ctx, attemptLogger)
	if o.Failed() {
		attemptLogger.Error("attempt failed", "result", o.Status.String(), "error", o.Err)
		return fmt.Errorf("sync %s: %w", o.Status, o.Err)
	}

	attemptLogger.Info("attempt finished", "result", o.Status.String(), "dry_run", dryRun)
	return nil
}

// bootstrapLogger logs to stderr until the configuration names a log file.
func bootstrapLogger() *slog.Logger {
	logger, _ := setupLogger(os.Stderr, "")
	return logger
}

// openRepository opens the configured repository and takes the per-repo
// instance lock. The returned function releases it.
func openRepository(cfg *config.Config, logger *slog.Logger) (*git.Repo, func(), error) {
	repo, err := git.Open(cfg.RepoPath)
	if err != nil {
		return nil, nil, err
	}

	lock := flock.New(repo.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire lock %s: %w", repo.LockPath(), err)
	}
	if !locked {
		return nil, nil, fmt.Errorf("another git-auto-sync instance is running for %s", repo.WorkDir())
	}
	unlock := func() { _ = lock.Unlock() }

	checkBranch(repo, cfg.BranchName, logger)
	return repo, unlock, nil
}

// checkBranch warns when HEAD is not on the configured branch. Snapshots
// still go to HEAD's branch while only the configured branch is pushed.
func checkBranch(repo *git.Repo, branch string, logger *slog.Logger) {
	head, err := repo.Head()
	if err != nil {
		logger.Warn("cannot read HEAD", "error", err)
		return
	}
	if want := plumbing.NewBranchReferenceName(branch); head.Name() != want {
		logger.Warn("HEAD is not on the configured branch; local commits go to HEAD's branch and are not pushed",
			"head", head.Name().String(),
			"branch", want.String())
	}
}

// newNotifier returns the failure notifier, or nil when the alert is off or
// cannot be set up.
func newNotifier(cfg *config.Config, logger *slog.Logger) sync.Notifier {
	if !cfg.SoundEnabled() {
		return nil
	}
	sound, err := notify.NewSound(cfg.Notify, logger)
	if err != nil {
		logger.Warn("audible alert disabled", "error", err)
		return nil
	}
	logger.Debug("audible alert enabled", "file", sound.File())
	return sound
}
