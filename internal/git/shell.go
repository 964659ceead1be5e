package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// runGit runs the git binary inside the working tree. Global flags such as
// "-c key=value" are placed before the subcommand. It returns the combined
// output and the exit code (-1 when the process did not run).
func (r *Repo) runGit(ctx context.Context, flags []string, args ...string) ([]byte, int, error) {
	cmdArgs := insertGitFlags(append([]string{"git", "-C", r.workDir}, args...), flags...)
	cmd := exec.CommandContext(ctx, cmdArgs[0], cmdArgs[1:]...)
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_MERGE_AUTOEDIT=no",
		"LC_ALL=C",
	)

	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, exitErr.ExitCode(), err
		}
		return out, -1, fmt.Errorf("failed to run git: %w", err)
	}
	return out, 0, nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "merge").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}
