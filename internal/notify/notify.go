// Package notify plays an audible alert when a sync attempt fails.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/schaermu/gitautosync/internal/config"
	"github.com/schaermu/gitautosync/internal/sync"
)

// DefaultPlayers are tried in order when no player is configured.
var DefaultPlayers = []string{"paplay", "aplay", "afplay"}

// ErrNoPlayer is returned when none of the players can be found.
var ErrNoPlayer = errors.New("no audio player found")

// Sound implements sync.Notifier by playing a sound file.
type Sound struct {
	file     string
	player   string
	logger   *slog.Logger
	lookPath func(string) (string, error)
}

var _ sync.Notifier = (*Sound)(nil)

// NewSound creates a notifier for cfg. Without a configured sound_file the
// alert shipped next to the executable is used.
func NewSound(cfg config.NotifyConfig, logger *slog.Logger) (*Sound, error) {
	file := cfg.SoundFile
	if file == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		file = AssetPath(filepath.Dir(exe))
	}

	return &Sound{
		file:     file,
		player:   cfg.Player,
		logger:   logger,
		lookPath: exec.LookPath,
	}, nil
}

// AssetPath returns the alert location for an executable living in exeDir.
// Development builds in a directory named debug look one level up.
func AssetPath(exeDir string) string {
	if filepath.Base(exeDir) == "debug" {
		exeDir = filepath.Dir(exeDir)
	}
	return filepath.Join(exeDir, "assets", "alert.wav")
}

// File returns the sound file that will be played
func (s *Sound) File() string { return s.file }

// Notify starts playback and returns without waiting for it to finish.
func (s *Sound) Notify(ctx context.Context, o sync.Outcome) error {
	if _, err := os.Stat(s.file); err != nil {
		return fmt.Errorf("alert sound unavailable: %w", err)
	}

	player, err := s.resolvePlayer()
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, player, s.file)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", player, err)
	}
	s.logger.Debug("playing failure alert", "player", player, "file", s.file, "result", o.Status.String())

	go func() {
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			s.logger.Warn("alert playback failed", "player", player, "error", err)
		}
	}()
	return nil
}

func (s *Sound) resolvePlayer() (string, error) {
	if s.player != "" {
		path, err := s.lookPath(s.player)
		if err != nil {
			return "", fmt.Errorf("configured player %q: %w", s.player, err)
		}
		return path, nil
	}
	for _, name := range DefaultPlayers {
		if path, err := s.lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrNoPlayer
}
