package git

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// CommitRequest describes a commit to create
type CommitRequest struct {
	Author    object.Signature
	Committer object.Signature
	Message   string
	Tree      plumbing.Hash
	Parents   []plumbing.Hash
}

// Commit writes a commit object and advances ref to it. The update only
// succeeds while ref still points at the first parent.
func (r *Repo) Commit(ref plumbing.ReferenceName, req CommitRequest) (plumbing.Hash, error) {
	c := &object.Commit{
		Author:       req.Author,
		Committer:    req.Committer,
		Message:      req.Message,
		TreeHash:     req.Tree,
		ParentHashes: req.Parents,
	}

	obj := r.repo.Storer.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode commit: %w", err)
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to write commit: %w", err)
	}

	if len(req.Parents) == 0 {
		if err := r.ForceBranch(ref, hash); err != nil {
			return plumbing.ZeroHash, err
		}
		return hash, nil
	}
	if err := r.UpdateBranch(ref, req.Parents[0], hash); err != nil {
		return plumbing.ZeroHash, err
	}
	return hash, nil
}
