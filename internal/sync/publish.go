package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/schaermu/gitautosync/internal/credential"
	"github.com/schaermu/gitautosync/internal/git"
)

// Publish pushes the configured local branch to the remote branch of the
// same name, whatever HEAD points at. It reports whether the remote
// reference moved. A rejected reference is an error even though the push
// itself went through.
func (e *Engine) Publish(ctx context.Context) (bool, error) {
	if _, err := e.repo.Head(); err != nil {
		if errors.Is(err, git.ErrNoHead) {
			return false, fmt.Errorf("%w: %w", ErrNoHead, err)
		}
		return false, fmt.Errorf("push: %w", err)
	}
	local := plumbing.NewBranchReferenceName(e.branch)
	if _, err := e.repo.Reference(local); err != nil {
		return false, fmt.Errorf("push: %w", err)
	}
	url, err := e.repo.RemoteURL(e.remote)
	if err != nil {
		return false, fmt.Errorf("push: %w", err)
	}

	if e.dryRun {
		e.logger.Info("would push", "phase", "push", "ref", local, "remote", e.remote, "branch", e.branch)
		return false, nil
	}

	var statuses []git.RefStatus
	err = credential.Try(ctx, e.creds.Candidates(ctx, url), func(auth transport.AuthMethod) error {
		var err error
		statuses, err = e.repo.Push(ctx, e.remote, local, e.branch, auth)
		return err
	})
	if err != nil {
		return false, networkErr("push", err)
	}

	updated := false
	var rejected []string
	for _, s := range statuses {
		switch {
		case s.Status != "":
			e.logger.Error("reference rejected", "phase", "push", "ref", s.Name, "status", s.Status)
			rejected = append(rejected, s.Name+": "+s.Status)
		case s.Updated:
			e.logger.Info("pushed", "phase", "push", "result", "updated", "ref", s.Name)
			updated = true
		default:
			e.logger.Info("remote already up to date", "phase", "push", "result", "up-to-date", "ref", s.Name)
		}
	}
	if len(rejected) > 0 {
		return false, fmt.Errorf("%w: %s", ErrPushRejected, strings.Join(rejected, "; "))
	}
	return updated, nil
}
