package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/schaermu/gitautosync/internal/git"
)

// SnapshotMessage is the message of every local snapshot commit
const SnapshotMessage = "sync"

// Snapshot stages the whole working tree and commits it on top of HEAD. It
// reports false without touching history when the staged tree equals the
// tree of HEAD.
func (e *Engine) Snapshot(ctx context.Context) (bool, error) {
	head, err := e.repo.Head()
	if err != nil {
		if errors.Is(err, git.ErrNoHead) {
			return false, fmt.Errorf("%w: %w", ErrNoHead, err)
		}
		return false, fmt.Errorf("commit: %w", err)
	}

	if err := e.repo.StageAll(); err != nil {
		return false, objectStoreErr("stage", err)
	}
	tree, err := e.repo.WriteTree()
	if err != nil {
		return false, objectStoreErr("write tree", err)
	}
	parentTree, err := e.repo.CommitTree(head.Hash())
	if err != nil {
		return false, objectStoreErr("read head", err)
	}
	changed, err := e.repo.Diff(parentTree, tree)
	if err != nil {
		return false, objectStoreErr("diff", err)
	}

	if len(changed) == 0 {
		e.logger.Info("nothing to commit", "phase", "commit", "result", "no-changes")
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if e.dryRun {
		e.logger.Info("would commit", "phase", "commit", "files", len(changed), "ref", head.Name())
		for _, p := range changed {
			e.logger.Debug("changed", "path", p)
		}
		return true, nil
	}

	sig, err := e.repo.Signature()
	if err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	commit, err := e.repo.Commit(head.Name(), git.CommitRequest{
		Author:    sig,
		Committer: sig,
		Message:   SnapshotMessage,
		Tree:      tree,
		Parents:   []plumbing.Hash{head.Hash()},
	})
	if err != nil {
		return false, objectStoreErr("commit", err)
	}

	e.logger.Info("committed local changes",
		"phase", "commit",
		"result", "committed",
		"commit", commit.String(),
		"files", len(changed))
	return true, nil
}
