package git

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// ErrUnmerged is returned by WriteTree while the index still holds conflicts.
var ErrUnmerged = errors.New("index contains unmerged entries")

// stageClean is the stage of a resolved index entry. go-git's index.Merged
// is 1, which is the ancestor stage, not the stage clean entries decode with.
const stageClean index.Stage = 0

// Conflict is one path recorded in the index with conflict stages. Every
// field holds the path of that stage, or is empty when the stage is absent.
type Conflict struct {
	Ancestor string
	Ours     string
	Theirs   string
}

// StageAll stages every change in the working tree, deletions included.
// Ignored files stay untracked.
func (r *Repo) StageAll() error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return fmt.Errorf("failed to stage changes: %w", err)
	}
	return nil
}

// WriteTree writes the index as tree objects and returns the root tree hash.
func (r *Repo) WriteTree() (plumbing.Hash, error) {
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to read index: %w", err)
	}

	root := newTreeNode()
	for _, e := range idx.Entries {
		if e.Stage != stageClean {
			return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrUnmerged, e.Name)
		}
		root.insert(strings.Split(e.Name, "/"), e)
	}

	return root.write(r.repo.Storer)
}

// Diff returns the paths that differ between two trees.
func (r *Repo) Diff(from, to plumbing.Hash) ([]string, error) {
	if from == to {
		return nil, nil
	}

	a, err := r.repo.TreeObject(from)
	if err != nil {
		return nil, fmt.Errorf("failed to read tree %s: %w", from, err)
	}
	b, err := r.repo.TreeObject(to)
	if err != nil {
		return nil, fmt.Errorf("failed to read tree %s: %w", to, err)
	}

	changes, err := object.DiffTree(a, b)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	paths := make([]string, 0, len(changes))
	for _, ch := range changes {
		name := ch.To.Name
		if name == "" {
			name = ch.From.Name
		}
		paths = append(paths, name)
	}
	return paths, nil
}

// Conflicts lists the conflicted paths of the index in index order.
func (r *Repo) Conflicts() ([]Conflict, error) {
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	var conflicts []Conflict
	byName := map[string]int{}
	for _, e := range idx.Entries {
		if e.Stage == stageClean {
			continue
		}
		i, ok := byName[e.Name]
		if !ok {
			i = len(conflicts)
			byName[e.Name] = i
			conflicts = append(conflicts, Conflict{})
		}
		switch e.Stage {
		case index.AncestorMode:
			conflicts[i].Ancestor = e.Name
		case index.OurMode:
			conflicts[i].Ours = e.Name
		case index.TheirMode:
			conflicts[i].Theirs = e.Name
		}
	}
	return conflicts, nil
}

// treeNode is one directory of the tree being assembled from the index.
type treeNode struct {
	files []object.TreeEntry
	dirs  map[string]*treeNode
}

func newTreeNode() *treeNode {
	return &treeNode{dirs: map[string]*treeNode{}}
}

func (n *treeNode) insert(parts []string, e *index.Entry) {
	if len(parts) == 1 {
		n.files = append(n.files, object.TreeEntry{Name: parts[0], Mode: e.Mode, Hash: e.Hash})
		return
	}
	child, ok := n.dirs[parts[0]]
	if !ok {
		child = newTreeNode()
		n.dirs[parts[0]] = child
	}
	child.insert(parts[1:], e)
}

func (n *treeNode) write(s storer.EncodedObjectStorer) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(n.files)+len(n.dirs))
	entries = append(entries, n.files...)
	for name, child := range n.dirs {
		h, err := child.write(s)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h})
	}

	// Git orders directories as if their name ended in a slash.
	sort.Slice(entries, func(i, j int) bool {
		return sortName(entries[i]) < sortName(entries[j])
	})

	t := &object.Tree{Entries: entries}
	obj := s.NewEncodedObject()
	if err := t.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode tree: %w", err)
	}
	if s.HasEncodedObject(obj.Hash()) == nil {
		return obj.Hash(), nil
	}
	h, err := s.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to write tree: %w", err)
	}
	return h, nil
}

func sortName(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}
