package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// RefStatus reports what happened to one reference during a push. An empty
// Status means the remote accepted the reference; Updated is false when the
// remote already had it.
type RefStatus struct {
	Name    string
	Status  string
	Updated bool
}

// TrackingRef returns the remote-tracking reference of branch on remote.
func TrackingRef(remote, branch string) plumbing.ReferenceName {
	return plumbing.NewRemoteReferenceName(remote, branch)
}

// Fetch updates the tracking reference of branch from remote. A remote that
// has nothing new is not an error.
func (r *Repo) Fetch(ctx context.Context, remote, branch string, auth transport.AuthMethod) error {
	refspec := config.RefSpec(fmt.Sprintf("+%s:%s", plumbing.NewBranchReferenceName(branch), TrackingRef(remote, branch)))

	err := r.repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: remote,
		RefSpecs:   []config.RefSpec{refspec},
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch %s from %s: %w", branch, remote, err)
	}
	return nil
}

// Push sends local to refs/heads/<branch> on remote and reports the status of
// the pushed reference. Rejections reported for the reference are returned as
// statuses; only transport failures are returned as errors.
func (r *Repo) Push(ctx context.Context, remote string, local plumbing.ReferenceName, branch string, auth transport.AuthMethod) ([]RefStatus, error) {
	dst := plumbing.NewBranchReferenceName(branch)
	refspec := config.RefSpec(fmt.Sprintf("%s:%s", local, dst))

	err := r.repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: remote,
		RefSpecs:   []config.RefSpec{refspec},
		Auth:       auth,
	})
	switch {
	case err == nil:
		return []RefStatus{{Name: dst.String(), Updated: true}}, nil
	case errors.Is(err, gogit.NoErrAlreadyUpToDate):
		return []RefStatus{{Name: dst.String()}}, nil
	}

	if status, ok := rejectionStatus(err.Error(), dst.String()); ok {
		return []RefStatus{{Name: dst.String(), Status: status}}, nil
	}
	return nil, fmt.Errorf("push %s to %s: %w", local, remote, err)
}

// rejectionStatus extracts a per-reference rejection from a push error.
func rejectionStatus(msg, ref string) (string, bool) {
	if strings.Contains(msg, "non-fast-forward update") {
		return "non-fast-forward", true
	}

	const prefix = "command error on "
	i := strings.Index(msg, prefix)
	if i < 0 {
		return "", false
	}
	rest := msg[i+len(prefix):]
	name, status, ok := strings.Cut(rest, ": ")
	if !ok || status == "" {
		return "", false
	}
	if name != ref {
		status = name + ": " + status
	}
	return status, true
}
