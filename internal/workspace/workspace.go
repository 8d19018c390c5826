package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Workspace holds the files of one engine session
type Workspace struct {
	Dir       string
	CreatedAt time.Time
}

// Create creates a new isolated workspace in the system temp directory
func Create() (*Workspace, error) {
	dir, err := os.MkdirTemp("", "pianofinger-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	return &Workspace{
		Dir:       dir,
		CreatedAt: time.Now(),
	}, nil
}

// HelperScript is where the engine helper lives inside the workspace
func (w *Workspace) HelperScript() string { return filepath.Join(w.Dir, "helper.py") }

// Cleanup removes the workspace directory and all contents
func (w *Workspace) Cleanup() error {
	return os.RemoveAll(w.Dir)
}

// WriteHelper materialises the helper script and returns its path
func (w *Workspace) WriteHelper(script []byte) (string, error) {
	dst := w.HelperScript()
	if err := os.WriteFile(dst, script, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", filepath.Base(dst), err)
	}
	return dst, nil
}
