package git

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// Classification is the relationship between the local head and the fetched
// remote head.
type Classification int

const (
	Unknown Classification = iota
	UpToDate
	FastForward
	Normal
)

func (c Classification) String() string {
	switch c {
	case UpToDate:
		return "up-to-date"
	case FastForward:
		return "fast-forward"
	case Normal:
		return "normal"
	default:
		return "unknown"
	}
}

// mergeStateFiles are left in the git directory by an interrupted or
// uncommitted merge.
var mergeStateFiles = []string{"MERGE_HEAD", "MERGE_MODE", "MERGE_MSG", "AUTO_MERGE"}

// MergeAnalysis classifies how remote relates to local. Histories without a
// common ancestor are Unknown.
func (r *Repo) MergeAnalysis(local, remote plumbing.Hash) (Classification, error) {
	if local == remote {
		return UpToDate, nil
	}

	lc, err := r.repo.CommitObject(local)
	if err != nil {
		return Unknown, fmt.Errorf("failed to read commit %s: %w", local, err)
	}
	rc, err := r.repo.CommitObject(remote)
	if err != nil {
		return Unknown, fmt.Errorf("failed to read commit %s: %w", remote, err)
	}

	if ok, err := rc.IsAncestor(lc); err != nil {
		return Unknown, fmt.Errorf("ancestry check failed: %w", err)
	} else if ok {
		return UpToDate, nil
	}
	if ok, err := lc.IsAncestor(rc); err != nil {
		return Unknown, fmt.Errorf("ancestry check failed: %w", err)
	} else if ok {
		return FastForward, nil
	}

	bases, err := lc.MergeBase(rc)
	if err != nil {
		return Unknown, fmt.Errorf("merge base lookup failed: %w", err)
	}
	if len(bases) == 0 {
		return Unknown, nil
	}
	return Normal, nil
}

// Merge performs a three-way merge of target into the working tree and index
// without committing. A merge that stops on conflicts returns nil; the
// conflicts are left in the index for Conflicts to read.
func (r *Repo) Merge(ctx context.Context, target plumbing.Hash) error {
	var flags []string
	if sig, err := r.Signature(); err == nil {
		flags = []string{"-c", "user.name=" + sig.Name, "-c", "user.email=" + sig.Email}
	}

	out, code, err := r.runGit(ctx, flags, "merge", "--no-commit", "--no-ff", "--no-edit", target.String())
	if err == nil {
		return nil
	}
	if code == 1 {
		conflicts, cerr := r.Conflicts()
		if cerr != nil {
			return cerr
		}
		if len(conflicts) > 0 {
			return nil
		}
	}
	return fmt.Errorf("git merge %s failed: %w: %s", target, err, out)
}

// CleanupMergeState removes the in-progress merge markers from the git
// directory. Missing files are ignored.
func (r *Repo) CleanupMergeState() error {
	fs, ok := r.repo.Storer.(*filesystem.Storage)
	if !ok {
		return nil
	}
	return removeMergeState(fs.Filesystem())
}

func removeMergeState(dotgit billy.Filesystem) error {
	for _, name := range mergeStateFiles {
		if err := dotgit.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}
