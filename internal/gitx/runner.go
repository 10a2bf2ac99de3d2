// Package gitx manages card worktrees and the merge flow on top of git
// subprocesses.
package gitx

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes a subprocess in a working directory and returns its
// trimmed stdout. Tests substitute a recording implementation.
type CommandRunner interface {
	Run(workDir string, name string, args ...string) (stdout string, err error)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes name with args in workDir. A non-zero exit becomes a
// *CommandError whose detail prefers stderr over stdout.
func (r *ExecRunner) Run(workDir, name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = workDir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	stdout := strings.TrimSpace(string(out))
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = stdout
		}
		return stdout, &CommandError{
			Command: append([]string{name}, args...),
			WorkDir: workDir,
			Detail:  detail,
			Err:     err,
		}
	}
	return stdout, nil
}

// CommandError carries the failing command line and what it printed.
type CommandError struct {
	Command []string
	WorkDir string
	Detail  string
	Err     error
}

func (e *CommandError) Error() string {
	line := strings.Join(e.Command, " ")
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", line, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", line, e.Err)
	}
	return line + ": command failed"
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
