package git

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// LockFileName is created inside the git directory to keep a second daemon
// away from the same repository.
const LockFileName = "git-auto-sync.lock"

var (
	// ErrOpen is returned when the repository cannot be opened
	ErrOpen = errors.New("cannot open repository")
	// ErrNoHead is returned when HEAD does not resolve to a commit yet
	ErrNoHead = errors.New("repository has no commits")
	// ErrDetachedHead is returned when HEAD is not a branch
	ErrDetachedHead = errors.New("HEAD is detached")
	// ErrNoIdentity is returned when user.name or user.email is not configured
	ErrNoIdentity = errors.New("no user identity configured")
)

// Repo is an opened working tree together with its commit graph and index.
type Repo struct {
	repo    *gogit.Repository
	workDir string
	gitDir  string
}

// Open opens the repository containing path, searching parent directories
// for the .git directory.
func Open(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
	}

	r, err := gogit.PlainOpenWithOptions(abs, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, abs, err)
	}

	wt, err := r.Worktree()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, abs, err)
	}

	gitDir := filepath.Join(wt.Filesystem.Root(), ".git")
	if fs, ok := r.Storer.(*filesystem.Storage); ok {
		gitDir = fs.Filesystem().Root()
	}

	return &Repo{
		repo:    r,
		workDir: wt.Filesystem.Root(),
		gitDir:  gitDir,
	}, nil
}

// WorkDir returns the root of the working tree
func (r *Repo) WorkDir() string { return r.workDir }

// GitDir returns the repository's git directory
func (r *Repo) GitDir() string { return r.gitDir }

// LockPath returns the path of the single-instance lock file
func (r *Repo) LockPath() string {
	return filepath.Join(r.gitDir, LockFileName)
}

// Head resolves HEAD to the branch reference it points at.
func (r *Repo) Head() (*plumbing.Reference, error) {
	ref, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNoHead, err)
		}
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !ref.Name().IsBranch() {
		return nil, fmt.Errorf("%w at %s", ErrDetachedHead, ref.Hash())
	}
	return ref, nil
}

// CommitTree peels a commit to the hash of its tree.
func (r *Repo) CommitTree(commit plumbing.Hash) (plumbing.Hash, error) {
	c, err := r.repo.CommitObject(commit)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to read commit %s: %w", commit, err)
	}
	return c.TreeHash, nil
}

// Signature returns the identity configured in user.name and user.email,
// merged from the system, global and repository configuration.
func (r *Repo) Signature() (object.Signature, error) {
	cfg, err := r.repo.ConfigScoped(config.SystemScope)
	if err != nil {
		return object.Signature{}, fmt.Errorf("failed to read git config: %w", err)
	}
	if cfg.User.Name == "" || cfg.User.Email == "" {
		return object.Signature{}, ErrNoIdentity
	}
	return object.Signature{
		Name:  cfg.User.Name,
		Email: cfg.User.Email,
		When:  time.Now(),
	}, nil
}

// RemoteURL returns the first URL configured for the named remote.
func (r *Repo) RemoteURL(name string) (string, error) {
	remote, err := r.repo.Remote(name)
	if err != nil {
		return "", fmt.Errorf("remote %q: %w", name, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("remote %q has no URL", name)
	}
	return urls[0], nil
}

// Reference resolves a reference by name.
func (r *Repo) Reference(name plumbing.ReferenceName) (*plumbing.Reference, error) {
	ref, err := r.repo.Reference(name, true)
	if err != nil {
		return nil, fmt.Errorf("reference %s: %w", name, err)
	}
	return ref, nil
}

// UpdateBranch moves a branch from old to target, failing if the branch no
// longer points at old.
func (r *Repo) UpdateBranch(name plumbing.ReferenceName, old, target plumbing.Hash) error {
	err := r.repo.Storer.CheckAndSetReference(
		plumbing.NewHashReference(name, target),
		plumbing.NewHashReference(name, old),
	)
	if err != nil {
		return fmt.Errorf("failed to update %s to %s: %w", name, target, err)
	}
	return nil
}

// ForceBranch points a branch at target, creating it when missing.
func (r *Repo) ForceBranch(name plumbing.ReferenceName, target plumbing.Hash) error {
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(name, target)); err != nil {
		return fmt.Errorf("failed to set %s to %s: %w", name, target, err)
	}
	return nil
}

// CheckoutHead brings the index and the working tree in line with target.
// Files with unstaged modifications make it fail instead of being overwritten.
func (r *Repo) CheckoutHead(target plumbing.Hash) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.Reset(&gogit.ResetOptions{Commit: target, Mode: gogit.MergeReset}); err != nil {
		return fmt.Errorf("failed to check out %s: %w", target, err)
	}
	return nil
}
