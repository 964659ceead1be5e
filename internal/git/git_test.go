package git

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/gitautosync/internal/testutil"
)

func openLocal(t *testing.T, f *testutil.Fixture) *Repo {
	t.Helper()
	r, err := Open(f.Local)
	require.NoError(t, err)
	return r
}

func TestOpen(t *testing.T) {
	f := testutil.NewFixture(t)
	testutil.WriteFile(t, f.Local, "notes/a.md", "a\n")

	r, err := Open(filepath.Join(f.Local, "notes"))
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(f.Local)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(r.WorkDir())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, filepath.Join(r.GitDir(), LockFileName), r.LockPath())
	assert.Equal(t, ".git", filepath.Base(r.GitDir()))
}

func TestOpen_NotARepository(t *testing.T) {
	testutil.IsolateGit(t)
	_, err := Open(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestHead_Unborn(t *testing.T) {
	testutil.IsolateGit(t)
	dir := t.TempDir()
	testutil.Git(t, dir, "init", "-b", "main", ".")

	r, err := Open(dir)
	require.NoError(t, err)

	_, err = r.Head()
	assert.ErrorIs(t, err, ErrNoHead)
}

func TestHead_Detached(t *testing.T) {
	f := testutil.NewFixture(t)
	testutil.Git(t, f.Local, "checkout", "-q", "--detach")

	_, err := openLocal(t, f).Head()
	assert.ErrorIs(t, err, ErrDetachedHead)
}

func TestHead(t *testing.T) {
	f := testutil.NewFixture(t)
	r := openLocal(t, f)

	head, err := r.Head()
	require.NoError(t, err)
	assert.Equal(t, plumbing.NewBranchReferenceName("main"), head.Name())
	assert.Equal(t, testutil.Rev(t, f.Local, "HEAD"), head.Hash().String())

	tree, err := r.CommitTree(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, testutil.Rev(t, f.Local, "HEAD^{tree}"), tree.String())
}

func TestStageAllWriteTree_Clean(t *testing.T) {
	f := testutil.NewFixture(t)
	r := openLocal(t, f)

	require.NoError(t, r.StageAll())
	tree, err := r.WriteTree()
	require.NoError(t, err)

	assert.Equal(t, testutil.Rev(t, f.Local, "HEAD^{tree}"), tree.String())
}

func TestIndex_CleanEntriesAreMerged(t *testing.T) {
	f := testutil.NewFixture(t)
	testutil.WriteFile(t, f.Local, "docs/a.md", "a\n")
	testutil.WriteFile(t, f.Local, "docs/b.md", "b\n")
	testutil.CommitAll(t, f.Local, "more files")
	testutil.WriteFile(t, f.Local, "docs/a.md", "staged by git\n")
	testutil.Git(t, f.Local, "add", "docs/a.md")

	// the index was written by git itself, not by StageAll
	r := openLocal(t, f)

	conflicts, err := r.Conflicts()
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	tree, err := r.WriteTree()
	require.NoError(t, err)
	assert.Equal(t, testutil.Git(t, f.Local, "write-tree"), tree.String())
}

func TestStageAllWriteTree_Changes(t *testing.T) {
	f := testutil.NewFixture(t)
	testutil.WriteFile(t, f.Local, "keep.md", "keep\n")
	testutil.WriteFile(t, f.Local, "gone.md", "gone\n")
	testutil.WriteFile(t, f.Local, ".gitignore", "*.tmp\n")
	testutil.CommitAll(t, f.Local, "base")

	testutil.WriteFile(t, f.Local, "README.md", "changed\n")
	testutil.WriteFile(t, f.Local, "notes/deep/new.md", "new\n")
	testutil.WriteFile(t, f.Local, "notes-file.md", "sorts after notes/\n")
	testutil.WriteFile(t, f.Local, "scratch.tmp", "ignored\n")
	require.NoError(t, os.Remove(filepath.Join(f.Local, "gone.md")))

	r := openLocal(t, f)
	require.NoError(t, r.StageAll())
	tree, err := r.WriteTree()
	require.NoError(t, err)

	// git must produce the identical tree from the index we wrote
	assert.Equal(t, testutil.Git(t, f.Local, "write-tree"), tree.String())

	files := strings.Split(testutil.Git(t, f.Local, "ls-tree", "-r", "--name-only", tree.String()), "\n")
	assert.ElementsMatch(t, []string{".gitignore", "README.md", "keep.md", "notes-file.md", "notes/deep/new.md"}, files)
}

func TestDiff(t *testing.T) {
	f := testutil.NewFixture(t)
	r := openLocal(t, f)
	before, err := r.CommitTree(plumbing.NewHash(testutil.Rev(t, f.Local, "HEAD")))
	require.NoError(t, err)

	paths, err := r.Diff(before, before)
	require.NoError(t, err)
	assert.Empty(t, paths)

	testutil.WriteFile(t, f.Local, "README.md", "edited\n")
	testutil.WriteFile(t, f.Local, "b/c.md", "c\n")
	require.NoError(t, r.StageAll())
	after, err := r.WriteTree()
	require.NoError(t, err)

	paths, err = r.Diff(before, after)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"README.md", "b/c.md"}, paths)
}

func TestSignature(t *testing.T) {
	f := testutil.NewFixture(t)

	sig, err := openLocal(t, f).Signature()
	require.NoError(t, err)
	assert.Equal(t, "Local", sig.Name)
	assert.Equal(t, "local@example.com", sig.Email)
	assert.False(t, sig.When.IsZero())
}

func TestSignature_Missing(t *testing.T) {
	f := testutil.NewFixture(t)
	testutil.Git(t, f.Local, "config", "--unset", "user.name")

	_, err := openLocal(t, f).Signature()
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestCommit(t *testing.T) {
	f := testutil.NewFixture(t)
	r := openLocal(t, f)
	head, err := r.Head()
	require.NoError(t, err)

	testutil.WriteFile(t, f.Local, "note.md", "note\n")
	require.NoError(t, r.StageAll())
	tree, err := r.WriteTree()
	require.NoError(t, err)
	sig, err := r.Signature()
	require.NoError(t, err)

	hash, err := r.Commit(head.Name(), CommitRequest{
		Author: sig, Committer: sig, Message: "sync", Tree: tree,
		Parents: []plumbing.Hash{head.Hash()},
	})
	require.NoError(t, err)

	assert.Equal(t, hash.String(), testutil.Rev(t, f.Local, "main"))
	assert.Equal(t, head.Hash().String(), testutil.Rev(t, f.Local, "main^"))
	assert.Equal(t, "sync", testutil.Git(t, f.Local, "log", "-1", "--format=%s"))
	// the index already matches the commit
	assert.Empty(t, testutil.Git(t, f.Local, "status", "--porcelain"))
}

func TestCommit_StaleParent(t *testing.T) {
	f := testutil.NewFixture(t)
	r := openLocal(t, f)
	head, err := r.Head()
	require.NoError(t, err)
	tree, err := r.CommitTree(head.Hash())
	require.NoError(t, err)
	sig, err := r.Signature()
	require.NoError(t, err)

	stale := plumbing.NewHash(strings.Repeat("1", 40))
	_, err = r.Commit(head.Name(), CommitRequest{
		Author: sig, Committer: sig, Message: "sync", Tree: tree,
		Parents: []plumbing.Hash{stale},
	})
	require.Error(t, err)
	assert.Equal(t, head.Hash().String(), testutil.Rev(t, f.Local, "main"))
}

func TestRemoteURL(t *testing.T) {
	f := testutil.NewFixture(t)
	r := openLocal(t, f)

	url, err := r.RemoteURL("origin")
	require.NoError(t, err)
	assert.Equal(t, f.Remote, url)

	_, err = r.RemoteURL("upstream")
	assert.Error(t, err)
}

func fetchAndAnalyse(t *testing.T, r *Repo) Classification {
	t.Helper()
	require.NoError(t, r.Fetch(context.Background(), "origin", "main", nil))
	head, err := r.Head()
	require.NoError(t, err)
	remote, err := r.Reference(TrackingRef("origin", "main"))
	require.NoError(t, err)
	c, err := r.MergeAnalysis(head.Hash(), remote.Hash())
	require.NoError(t, err)
	return c
}

func TestMergeAnalysis(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *testutil.Fixture)
		want  Classification
	}{
		{
			name:  "identical",
			setup: func(t *testing.T, f *testutil.Fixture) {},
			want:  UpToDate,
		},
		{
			name: "local ahead",
			setup: func(t *testing.T, f *testutil.Fixture) {
				testutil.WriteFile(t, f.Local, "l.md", "l\n")
				testutil.CommitAll(t, f.Local, "local")
			},
			want: UpToDate,
		},
		{
			name: "remote ahead",
			setup: func(t *testing.T, f *testutil.Fixture) {
				f.PushOther(t, "o.md", "o\n")
			},
			want: FastForward,
		},
		{
			name: "diverged",
			setup: func(t *testing.T, f *testutil.Fixture) {
				f.PushOther(t, "o.md", "o\n")
				testutil.WriteFile(t, f.Local, "l.md", "l\n")
				testutil.CommitAll(t, f.Local, "local")
			},
			want: Normal,
		},
		{
			name: "unrelated histories",
			setup: func(t *testing.T, f *testutil.Fixture) {
				testutil.Git(t, f.Other, "checkout", "-q", "--orphan", "fresh")
				testutil.Git(t, f.Other, "rm", "-rq", "--cached", ".")
				testutil.WriteFile(t, f.Other, "fresh.md", "fresh\n")
				testutil.Git(t, f.Other, "add", "fresh.md")
				testutil.Git(t, f.Other, "commit", "-q", "-m", "fresh")
				testutil.Git(t, f.Other, "push", "-q", "-f", "origin", "fresh:main")
			},
			want: Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testutil.NewFixture(t)
			tt.setup(t, f)
			assert.Equal(t, tt.want, fetchAndAnalyse(t, openLocal(t, f)))
		})
	}
}

func TestFastForwardCheckout(t *testing.T) {
	f := testutil.NewFixture(t)
	remoteHead := f.PushOther(t, "README.md", "from other\n")
	r := openLocal(t, f)
	require.Equal(t, FastForward, fetchAndAnalyse(t, r))

	head, err := r.Head()
	require.NoError(t, err)
	target := plumbing.NewHash(remoteHead)

	require.NoError(t, r.UpdateBranch(head.Name(), head.Hash(), target))
	require.NoError(t, r.CheckoutHead(target))

	assert.Equal(t, remoteHead, testutil.Rev(t, f.Local, "main"))
	assert.Equal(t, "from other\n", testutil.ReadFile(t, f.Local, "README.md"))
	assert.Empty(t, testutil.Git(t, f.Local, "status", "--porcelain"))
}

func TestUpdateBranch_Stale(t *testing.T) {
	f := testutil.NewFixture(t)
	r := openLocal(t, f)
	head, err := r.Head()
	require.NoError(t, err)

	stale := plumbing.NewHash(strings.Repeat("2", 40))
	err = r.UpdateBranch(head.Name(), stale, stale)
	require.Error(t, err)

	require.NoError(t, r.ForceBranch(plumbing.NewBranchReferenceName("copy"), head.Hash()))
	assert.Equal(t, head.Hash().String(), testutil.Rev(t, f.Local, "copy"))
}

func TestMerge_Clean(t *testing.T) {
	f := testutil.NewFixture(t)
	remoteHead := f.PushOther(t, "other.md", "other\n")
	testutil.WriteFile(t, f.Local, "local.md", "local\n")
	testutil.CommitAll(t, f.Local, "local")

	r := openLocal(t, f)
	require.Equal(t, Normal, fetchAndAnalyse(t, r))

	require.NoError(t, r.Merge(context.Background(), plumbing.NewHash(remoteHead)))

	conflicts, err := r.Conflicts()
	require.NoError(t, err)
	assert.Empty(t, conflicts)
	assert.FileExists(t, filepath.Join(r.GitDir(), "MERGE_HEAD"))
	assert.Equal(t, "other\n", testutil.ReadFile(t, f.Local, "other.md"))

	tree, err := r.WriteTree()
	require.NoError(t, err)
	files := testutil.Git(t, f.Local, "ls-tree", "--name-only", tree.String())
	assert.ElementsMatch(t, []string{"README.md", "local.md", "other.md"}, strings.Split(files, "\n"))

	require.NoError(t, r.CleanupMergeState())
	assert.NoFileExists(t, filepath.Join(r.GitDir(), "MERGE_HEAD"))
	assert.NoFileExists(t, filepath.Join(r.GitDir(), "MERGE_MSG"))
	// cleaning twice is harmless
	require.NoError(t, r.CleanupMergeState())
}

func TestMerge_Conflict(t *testing.T) {
	f := testutil.NewFixture(t)
	remoteHead := f.PushOther(t, "README.md", "theirs\n")
	testutil.WriteFile(t, f.Local, "README.md", "ours\n")
	testutil.CommitAll(t, f.Local, "local")

	r := openLocal(t, f)
	require.Equal(t, Normal, fetchAndAnalyse(t, r))

	require.NoError(t, r.Merge(context.Background(), plumbing.NewHash(remoteHead)))

	conflicts, err := r.Conflicts()
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, Conflict{Ancestor: "README.md", Ours: "README.md", Theirs: "README.md"}, conflicts[0])

	_, err = r.WriteTree()
	assert.ErrorIs(t, err, ErrUnmerged)
}

func TestPush(t *testing.T) {
	f := testutil.NewFixture(t)
	testutil.WriteFile(t, f.Local, "l.md", "l\n")
	head := testutil.CommitAll(t, f.Local, "local")

	r := openLocal(t, f)
	ctx := context.Background()
	ref := plumbing.NewBranchReferenceName("main")

	statuses, err := r.Push(ctx, "origin", ref, "main", nil)
	require.NoError(t, err)
	assert.Equal(t, []RefStatus{{Name: "refs/heads/main", Updated: true}}, statuses)
	assert.Equal(t, head, f.RemoteHead(t))

	statuses, err = r.Push(ctx, "origin", ref, "main", nil)
	require.NoError(t, err)
	assert.Equal(t, []RefStatus{{Name: "refs/heads/main"}}, statuses)
}

func TestPush_NonFastForward(t *testing.T) {
	f := testutil.NewFixture(t)
	remoteHead := f.PushOther(t, "o.md", "o\n")
	testutil.WriteFile(t, f.Local, "l.md", "l\n")
	testutil.CommitAll(t, f.Local, "local")

	r := openLocal(t, f)
	require.NoError(t, r.Fetch(context.Background(), "origin", "main", nil))

	statuses, err := r.Push(context.Background(), "origin", plumbing.NewBranchReferenceName("main"), "main", nil)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "non-fast-forward", statuses[0].Status)
	assert.Equal(t, remoteHead, f.RemoteHead(t))
}

func TestFetch_MissingRemote(t *testing.T) {
	f := testutil.NewFixture(t)
	err := openLocal(t, f).Fetch(context.Background(), "upstream", "main", nil)
	assert.Error(t, err)
}

func TestRejectionStatus(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		want   string
		wantOK bool
	}{
		{name: "non fast forward", msg: "non-fast-forward update: refs/heads/main", want: "non-fast-forward", wantOK: true},
		{name: "remote rejection", msg: "command error on refs/heads/main: pre-receive hook declined", want: "pre-receive hook declined", wantOK: true},
		{name: "rejection on other ref", msg: "command error on refs/heads/x: denied", want: "refs/heads/x: denied", wantOK: true},
		{name: "transport failure", msg: "dial tcp: connection refused"},
		{name: "empty status", msg: "command error on refs/heads/main: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := rejectionStatus(tt.msg, "refs/heads/main")
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassificationString(t *testing.T) {
	assert.Equal(t, "up-to-date", UpToDate.String())
	assert.Equal(t, "fast-forward", FastForward.String())
	assert.Equal(t, "normal", Normal.String())
	assert.Equal(t, "unknown", Unknown.String())
}

func TestInsertGitFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		flags []string
		want  []string
	}{
		{
			name:  "insert before subcommand",
			args:  []string{"git", "merge", "--no-commit", "abc"},
			flags: []string{"-c", "user.name=A"},
			want:  []string{"git", "-c", "user.name=A", "merge", "--no-commit", "abc"},
		},
		{
			name:  "insert before -C",
			args:  []string{"git", "-C", "/dir", "merge"},
			flags: []string{"-c", "k=v"},
			want:  []string{"git", "-c", "k=v", "-C", "/dir", "merge"},
		},
		{
			name:  "no flags",
			args:  []string{"git", "status"},
			want:  []string{"git", "status"},
		},
		{
			name:  "empty args",
			args:  []string{},
			flags: []string{"-c", "key=value"},
			want:  []string{"-c", "key=value"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, insertGitFlags(tt.args, tt.flags...))
		})
	}
}

func TestRemoveMergeState(t *testing.T) {
	fs := memfs.New()
	for _, name := range []string{"MERGE_HEAD", "MERGE_MSG", "ORIG_HEAD"} {
		require.NoError(t, util.WriteFile(fs, name, []byte("x\n"), 0o644))
	}

	require.NoError(t, removeMergeState(fs))

	for _, name := range mergeStateFiles {
		_, err := fs.Stat(name)
		assert.ErrorIs(t, err, os.ErrNotExist, name)
	}
	_, err := fs.Stat("ORIG_HEAD")
	assert.NoError(t, err, "unrelated files are kept")
}
