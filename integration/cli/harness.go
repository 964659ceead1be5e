//go:build integration

package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

const (
	binaryName     = "git-auto-sync"
	defaultTimeout = 5 * time.Minute
)

// Harness builds the binary once and runs it against throwaway
// repositories with an isolated HOME and a systemctl shim on PATH.
type Harness struct {
	t        *testing.T
	root     string
	binDir   string
	home     string
	shimLog  string
	keepRoot bool
}

// NewHarness creates a new test harness
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	root, err := os.MkdirTemp("", "git-auto-sync-it-")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	h := &Harness{
		t:        t,
		root:     root,
		binDir:   filepath.Join(root, "bin"),
		home:     filepath.Join(root, "home"),
		shimLog:  filepath.Join(root, "systemctl.log"),
		keepRoot: os.Getenv("INTEGRATION_KEEP_WORKSPACE") == "1",
	}
	for _, dir := range []string{h.binDir, h.home} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("create %s: %v", dir, err)
		}
	}
	return h
}

// Build compiles the binary and installs the systemctl shim
func (h *Harness) Build(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.Binary(), "./cmd/git-auto-sync")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}

	shim := fmt.Sprintf("#!/bin/sh\necho \"$(date -Iseconds) $*\" >> '%s'\nexit 0\n", h.shimLog)
	if err := os.WriteFile(filepath.Join(h.binDir, "systemctl"), []byte(shim), 0o755); err != nil {
		return fmt.Errorf("write systemctl shim: %w", err)
	}

	h.t.Logf("built %s", h.Binary())
	return nil
}

// Binary returns the path of the built executable
func (h *Harness) Binary() string {
	return filepath.Join(h.binDir, binaryName)
}

// Cleanup removes the workspace
func (h *Harness) Cleanup() {
	h.t.Helper()
	if h.keepRoot && h.t.Failed() {
		h.t.Logf("Test failed and INTEGRATION_KEEP_WORKSPACE=1, keeping %s", h.root)
		return
	}
	if err := os.RemoveAll(h.root); err != nil {
		h.t.Logf("Warning: failed to remove workspace: %v", err)
	}
}

// Path returns a path inside the workspace
func (h *Harness) Path(elem ...string) string {
	return filepath.Join(append([]string{h.root}, elem...)...)
}

func (h *Harness) env() []string {
	return append(os.Environ(),
		"HOME="+h.home,
		"XDG_CONFIG_HOME="+filepath.Join(h.home, ".config"),
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_TERMINAL_PROMPT=0",
		"SSH_AUTH_SOCK=",
		"PATH="+h.binDir+string(os.PathListSeparator)+os.Getenv("PATH"),
	)
}

// command prepares a process running in dir with the harness environment
func (h *Harness) command(ctx context.Context, dir, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = h.env()
	return cmd
}

// Exec runs a command and returns its output and exit code
func (h *Harness) Exec(ctx context.Context, dir string, cmd ...string) (string, string, int, error) {
	h.t.Helper()

	execCmd := h.command(ctx, dir, cmd[0], cmd[1:]...)
	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustExec executes a command and fails the test if it returns non-zero
func (h *Harness) MustExec(ctx context.Context, dir string, cmd ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Exec(ctx, dir, cmd...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\ncmd: %v",
			exitCode, stdout, stderr, cmd)
	}
	return stdout, stderr
}

// Git runs git in dir and returns its trimmed output
func (h *Harness) Git(ctx context.Context, dir string, args ...string) string {
	h.t.Helper()
	stdout, _ := h.MustExec(ctx, dir, append([]string{"git"}, args...)...)
	return strings.TrimSpace(stdout)
}

// Sync runs the binary with the given config
func (h *Harness) Sync(ctx context.Context, configPath string, args ...string) (string, string, int, error) {
	h.t.Helper()
	cmd := append([]string{h.Binary(), "--config", configPath, "--log-level", "debug"}, args...)
	return h.Exec(ctx, h.root, cmd...)
}

// Start launches the daemon in the background. Its output goes to the
// test log.
func (h *Harness) Start(ctx context.Context, configPath string) (*exec.Cmd, error) {
	h.t.Helper()
	cmd := h.command(ctx, h.root, h.Binary(), "--config", configPath, "--log-level", "debug")
	cmd.Stdout = &testWriter{t: h.t, prefix: "[daemon] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[daemon] "}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start daemon: %w", err)
	}
	return cmd, nil
}

// WriteFile writes a file, creating parent directories
func (h *Harness) WriteFile(path, content string) error {
	h.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir parent: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// ReadFile reads a file
func (h *Harness) ReadFile(path string) (string, error) {
	h.t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FileExists checks if a regular file exists
func (h *Harness) FileExists(path string) bool {
	h.t.Helper()
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// ReadShimLog reads and parses the systemctl shim log
func (h *Harness) ReadShimLog() ([]ShimLogEntry, error) {
	h.t.Helper()
	content, err := h.ReadFile(h.shimLog)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var entries []ShimLogEntry
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		// Parse: "2024-01-01T12:00:00+00:00 --user daemon-reload"
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}

		entries = append(entries, ShimLogEntry{
			Timestamp: parts[0],
			Args:      strings.Fields(parts[1]),
		})
	}

	return entries, scanner.Err()
}

// ShimLogEntry represents a parsed systemctl shim log entry
type ShimLogEntry struct {
	Timestamp string
	Args      []string
}

// String returns a human-readable representation
func (e ShimLogEntry) String() string {
	return fmt.Sprintf("%s: systemctl %s", e.Timestamp, strings.Join(e.Args, " "))
}

// HasArgs checks if the entry starts with the given arguments
func (e ShimLogEntry) HasArgs(args ...string) bool {
	if len(e.Args) < len(args) {
		return false
	}
	for i, arg := range args {
		if e.Args[i] != arg {
			return false
		}
	}
	return true
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

// findProjectRoot walks up the directory tree from the current file to find go.mod
func findProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
