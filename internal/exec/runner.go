package exec

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// Runner starts engine interpreter processes
type Runner struct {
	PythonPath string
	Env        []string // extra KEY=VALUE pairs for the child
}

// NewRunner creates a new runner. With an empty pythonPath it prefers the
// interpreter of a virtual environment under venvDir, then python3.
func NewRunner(pythonPath, venvDir string) *Runner {
	if pythonPath == "" {
		venvPython := filepath.Join(venvDir, ".venv", "bin", "python")
		if _, err := os.Stat(venvPython); venvDir != "" && err == nil {
			pythonPath = venvPython
		} else {
			pythonPath = "python3"
		}
	}
	return &Runner{
		PythonPath: pythonPath,
	}
}

// StartScript launches the interpreter on script and returns a session
// speaking line-delimited JSON over its stdin and stdout. The process is
// killed when ctx is cancelled.
func (r *Runner) StartScript(ctx context.Context, script string, logger *slog.Logger, args ...string) (*Session, error) {
	// -u keeps stdout unbuffered so every reply line is flushed immediately
	fullArgs := append([]string{"-u", script}, args...)
	cmd := exec.CommandContext(ctx, r.PythonPath, fullArgs...)
	cmd.Dir = filepath.Dir(script)
	cmd.Env = append(os.Environ(), r.Env...)

	s, err := startSession(cmd, filepath.Base(r.PythonPath), logger)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", r.PythonPath, err)
	}
	return s, nil
}
