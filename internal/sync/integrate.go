package sync

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/schaermu/gitautosync/internal/credential"
	"github.com/schaermu/gitautosync/internal/git"
)

// MergeMessage is the message of every merge commit
const MergeMessage = "merge"

const (
	noConflictPath      = "<error_no_conflict>"
	invalidConflictPath = "<conflict_invalid_path>"
)

// Integrate fetches the remote branch and brings HEAD up to date with it.
// It reports whether local history changed.
func (e *Engine) Integrate(ctx context.Context) (bool, error) {
	url, err := e.repo.RemoteURL(e.remote)
	if err != nil {
		return false, fmt.Errorf("pull: %w", err)
	}

	err = credential.Try(ctx, e.creds.Candidates(ctx, url), func(auth transport.AuthMethod) error {
		return e.repo.Fetch(ctx, e.remote, e.branch, auth)
	})
	if err != nil {
		return false, networkErr("fetch", err)
	}

	head, err := e.repo.Head()
	if err != nil {
		if errors.Is(err, git.ErrNoHead) {
			return false, fmt.Errorf("%w: %w", ErrNoHead, err)
		}
		return false, fmt.Errorf("pull: %w", err)
	}
	remote, err := e.repo.Reference(git.TrackingRef(e.remote, e.branch))
	if err != nil {
		return false, objectStoreErr("read tracking ref", err)
	}

	class, err := e.repo.MergeAnalysis(head.Hash(), remote.Hash())
	if err != nil {
		return false, objectStoreErr("merge analysis", err)
	}
	e.logger.Debug("merge analysis",
		"phase", "pull",
		"classification", class.String(),
		"local", head.Hash().String(),
		"remote", remote.Hash().String())

	switch class {
	case git.UpToDate:
		e.logger.Info("already up to date", "phase", "pull", "result", "up-to-date")
		return false, nil
	case git.FastForward:
		return true, e.fastForward(head, remote.Hash())
	case git.Normal:
		return e.merge(ctx, head, remote.Hash())
	default:
		return false, fmt.Errorf("%w: local %s, remote %s", ErrUnknownClassification, head.Hash(), remote.Hash())
	}
}

// fastForward moves the branch to target. When the guarded update fails the
// branch is re-pointed at target unconditionally.
func (e *Engine) fastForward(head *plumbing.Reference, target plumbing.Hash) error {
	if e.dryRun {
		e.logger.Info("would fast-forward", "phase", "pull", "ref", head.Name(), "to", target.String())
		return nil
	}

	if err := e.repo.UpdateBranch(head.Name(), head.Hash(), target); err != nil {
		e.logger.Warn("branch update failed, re-pointing branch at remote commit",
			"phase", "pull",
			"ref", head.Name(),
			"error", err)
		if err := e.repo.ForceBranch(head.Name(), target); err != nil {
			return objectStoreErr("fast-forward", err)
		}
	}
	if err := e.repo.CheckoutHead(target); err != nil {
		return objectStoreErr("checkout", err)
	}

	e.logger.Info("fast-forwarded", "phase", "pull", "result", "fast-forward", "commit", target.String())
	return nil
}

// merge performs a three-way merge with target. Conflicts end the attempt
// and stay in the index and working tree.
func (e *Engine) merge(ctx context.Context, head *plumbing.Reference, target plumbing.Hash) (bool, error) {
	if e.dryRun {
		e.logger.Info("would merge", "phase", "pull", "ref", head.Name(), "with", target.String())
		return true, nil
	}

	if err := e.repo.Merge(ctx, target); err != nil {
		return false, objectStoreErr("merge", err)
	}

	conflicts, err := e.repo.Conflicts()
	if err != nil {
		return false, objectStoreErr("read conflicts", err)
	}
	if len(conflicts) > 0 {
		paths := make([]string, 0, len(conflicts))
		for _, c := range conflicts {
			p := conflictPath(c)
			e.logger.Error("conflict", "phase", "pull", "path", p)
			paths = append(paths, p)
		}
		return false, &ConflictError{Paths: paths}
	}

	tree, err := e.repo.WriteTree()
	if err != nil {
		return false, objectStoreErr("write tree", err)
	}
	headTree, err := e.repo.CommitTree(head.Hash())
	if err != nil {
		return false, objectStoreErr("read head", err)
	}
	delta, err := e.repo.Diff(headTree, tree)
	if err != nil {
		return false, objectStoreErr("diff", err)
	}
	if len(delta) == 0 {
		if err := e.repo.CleanupMergeState(); err != nil {
			return false, objectStoreErr("cleanup merge state", err)
		}
		e.logger.Info("merge produced no changes", "phase", "pull", "result", "no-changes")
		return false, nil
	}

	sig, err := e.repo.Signature()
	if err != nil {
		return false, fmt.Errorf("merge: %w", err)
	}
	commit, err := e.repo.Commit(head.Name(), git.CommitRequest{
		Author:    sig,
		Committer: sig,
		Message:   MergeMessage,
		Tree:      tree,
		Parents:   []plumbing.Hash{head.Hash(), target},
	})
	if err != nil {
		return false, objectStoreErr("merge commit", err)
	}
	if err := e.repo.CleanupMergeState(); err != nil {
		return true, objectStoreErr("cleanup merge state", err)
	}

	e.logger.Info("merged remote changes",
		"phase", "pull",
		"result", "merged",
		"commit", commit.String(),
		"files", len(delta))
	return true, nil
}

// conflictPath names a conflict by its "theirs" side, falling back to ours
// and then the ancestor.
func conflictPath(c git.Conflict) string {
	p := c.Theirs
	if p == "" {
		p = c.Ours
	}
	if p == "" {
		p = c.Ancestor
	}
	switch {
	case p == "":
		return noConflictPath
	case !utf8.ValidString(p):
		return invalidConflictPath
	}
	return p
}
