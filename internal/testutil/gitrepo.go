// Package testutil builds throwaway git repositories for tests with the real
// git binary: a bare remote plus clones that push to it.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Fixture is a bare remote named origin with two working clones. Local is
// the clone under test; Other stands in for a second machine.
type Fixture struct {
	Remote string
	Local  string
	Other  string
}

// IsolateGit points HOME and XDG_CONFIG_HOME at a temp dir and disables the
// system config so tests never read the developer's git settings.
func IsolateGit(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	t.Setenv("GIT_TERMINAL_PROMPT", "0")
	t.Setenv("SSH_AUTH_SOCK", "")
}

// NewFixture creates the remote with one commit on main holding README.md
// and clones it twice. Both clones carry a user identity.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	IsolateGit(t)

	base := t.TempDir()
	f := &Fixture{
		Remote: filepath.Join(base, "remote.git"),
		Local:  filepath.Join(base, "local"),
		Other:  filepath.Join(base, "other"),
	}

	Git(t, base, "init", "--bare", "-b", "main", f.Remote)

	seed := filepath.Join(base, "seed")
	Git(t, base, "init", "-b", "main", seed)
	Configure(t, seed, "Seed", "seed@example.com")
	WriteFile(t, seed, "README.md", "hello\n")
	CommitAll(t, seed, "initial")
	Git(t, seed, "remote", "add", "origin", f.Remote)
	Git(t, seed, "push", "origin", "main")

	for dir, name := range map[string]string{f.Local: "Local", f.Other: "Other"} {
		Git(t, base, "clone", f.Remote, dir)
		Configure(t, dir, name, strings.ToLower(name)+"@example.com")
	}
	return f
}

// Configure sets user.name and user.email in the repository config.
func Configure(t *testing.T, dir, name, email string) {
	t.Helper()
	Git(t, dir, "config", "user.name", name)
	Git(t, dir, "config", "user.email", email)
}

// Git runs git in dir and returns its trimmed stdout. Failure ends the test.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	out, err := cmd.Output()
	if err != nil {
		var stderr string
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		t.Fatalf("git %s in %s: %v: %s", strings.Join(args, " "), dir, err, stderr)
	}
	return strings.TrimSpace(string(out))
}

// WriteFile writes content to name inside dir, creating parent directories.
func WriteFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// ReadFile returns the content of name inside dir.
func ReadFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// CommitAll stages everything in dir and commits it with msg.
func CommitAll(t *testing.T, dir, msg string) string {
	t.Helper()
	Git(t, dir, "add", "-A")
	Git(t, dir, "commit", "-q", "-m", msg)
	return Rev(t, dir, "HEAD")
}

// Rev resolves a revision to its full hash.
func Rev(t *testing.T, dir, rev string) string {
	t.Helper()
	return Git(t, dir, "rev-parse", rev)
}

// PushOther commits a file change in the Other clone and pushes it, as if a
// second machine had synchronised first. It returns the new remote head.
func (f *Fixture) PushOther(t *testing.T, name, content string) string {
	t.Helper()
	WriteFile(t, f.Other, name, content)
	head := CommitAll(t, f.Other, "other: "+name)
	Git(t, f.Other, "push", "-q", "origin", "main")
	return head
}

// RemoteHead returns the hash of main on the remote.
func (f *Fixture) RemoteHead(t *testing.T) string {
	t.Helper()
	return Rev(t, f.Remote, "refs/heads/main")
}
