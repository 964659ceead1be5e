package sync

import (
	"context"
	"iter"
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/schaermu/gitautosync/internal/credential"
	"github.com/schaermu/gitautosync/internal/git"
)

// DefaultRemote is the remote every attempt fetches from and pushes to.
const DefaultRemote = "origin"

// Repository is the version control surface an attempt works on.
// *git.Repo implements it.
type Repository interface {
	Head() (*plumbing.Reference, error)
	CommitTree(commit plumbing.Hash) (plumbing.Hash, error)
	StageAll() error
	WriteTree() (plumbing.Hash, error)
	Diff(from, to plumbing.Hash) ([]string, error)
	Signature() (object.Signature, error)
	Commit(ref plumbing.ReferenceName, req git.CommitRequest) (plumbing.Hash, error)
	RemoteURL(remote string) (string, error)
	Fetch(ctx context.Context, remote, branch string, auth transport.AuthMethod) error
	Reference(name plumbing.ReferenceName) (*plumbing.Reference, error)
	MergeAnalysis(local, remote plumbing.Hash) (git.Classification, error)
	UpdateBranch(name plumbing.ReferenceName, old, target plumbing.Hash) error
	ForceBranch(name plumbing.ReferenceName, target plumbing.Hash) error
	CheckoutHead(target plumbing.Hash) error
	Merge(ctx context.Context, target plumbing.Hash) error
	Conflicts() ([]git.Conflict, error)
	CleanupMergeState() error
	Push(ctx context.Context, remote string, local plumbing.ReferenceName, branch string, auth transport.AuthMethod) ([]git.RefStatus, error)
}

// CredentialProvider yields the credentials to offer a remote, in order.
type CredentialProvider interface {
	Candidates(ctx context.Context, url string) iter.Seq[credential.Candidate]
}

// Engine runs attempts: snapshot commit, integration of the remote branch
// and publication of the result.
type Engine struct {
	repo   Repository
	creds  CredentialProvider
	branch string
	remote string
	logger *slog.Logger
	dryRun bool
}

// NewEngine creates a new sync engine
func NewEngine(repo Repository, creds CredentialProvider, branch string, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		repo:   repo,
		creds:  creds,
		branch: branch,
		remote: DefaultRemote,
		logger: logger,
		dryRun: dryRun,
	}
}

// RunAttempt executes one complete attempt, logging through logger.
func (e *Engine) RunAttempt(ctx context.Context, logger *slog.Logger) Outcome {
	a := *e
	a.logger = logger
	return a.Run(ctx)
}

// Run executes commit, pull and push in order. The first failing phase ends
// the attempt.
func (e *Engine) Run(ctx context.Context) Outcome {
	e.logger.Info("starting attempt",
		"branch", e.branch,
		"remote", e.remote,
		"dry_run", e.dryRun)

	committed, err := e.Snapshot(ctx)
	if err != nil {
		e.logger.Error("phase failed", "phase", "commit", "error", err)
		return Failure(err)
	}

	integrated, err := e.Integrate(ctx)
	if err != nil {
		e.logger.Error("phase failed", "phase", "pull", "error", err)
		return Failure(err)
	}

	pushed, err := e.Publish(ctx)
	if err != nil {
		e.logger.Error("phase failed", "phase", "push", "error", err)
		return Failure(err)
	}

	if !committed && !integrated && !pushed {
		return NoChanges()
	}
	return Success()
}
