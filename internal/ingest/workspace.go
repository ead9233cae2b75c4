package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// Workspaces names and manages the ephemeral directories archives are
// extracted into. A workspace is keyed by the archive's logical path, so
// every run locates the same directory and distinct archives never share one.
type Workspaces struct {
	root string
}

func NewWorkspaces(root string) *Workspaces {
	return &Workspaces{root: root}
}

func (w *Workspaces) Root() string { return w.root }

// Dir returns the workspace path of the archive at logicalPath.
func (w *Workspaces) Dir(logicalPath string) string {
	return filepath.Join(w.root, fmt.Sprintf("%016x", xxhash.Sum64String(logicalPath)))
}

// Reset empties dir and recreates it.
func (w *Workspaces) Reset(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("reset workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	return nil
}

// Remove deletes dir. It reports whether anything was there.
func (w *Workspaces) Remove(dir string) (bool, error) {
	if _, err := os.Lstat(dir); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("remove workspace: %w", err)
	}
	return true, nil
}

// List returns every workspace directory currently on disk.
func (w *Workspaces) List() ([]string, error) {
	entries, err := os.ReadDir(w.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(w.root, e.Name()))
		}
	}
	return dirs, nil
}
