// Package reorg files misplaced registry extracts into their date
// directories.
package reorg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/agentic-research/corpus/internal/telemetry"
)

// datedName matches "<prefix>_<YYYY-MM-DD>..." and captures the date parts.
var datedName = regexp.MustCompile(`^[^_]*_(\d{4})-(\d{2})-(\d{2})`)

// Report lists what Unsort did.
type Report struct {
	Moved []string
	// Left are entries that stayed in the inbox: unmatched names,
	// directories, and files whose destination already exists.
	Left []string
}

// DateDir returns the "DD.MM.YYYY" directory name for a dated file name.
func DateDir(name string) (string, bool) {
	m := datedName.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[3] + "." + m[2] + "." + m[1], true
}

// Unsort moves every dated file in <dir>/<inbox> to <dir>/<DD.MM.YYYY>/.
func Unsort(ctx context.Context, dir, inbox string, logger *slog.Logger) (Report, error) {
	if logger == nil {
		logger = telemetry.Discard()
	}
	var rep Report

	src := filepath.Join(dir, inbox)
	entries, err := os.ReadDir(src)
	if err != nil {
		return rep, fmt.Errorf("list inbox: %w", err)
	}

	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		name := de.Name()
		dateDir, ok := DateDir(name)
		if de.IsDir() || !ok {
			logger.Warn("left in inbox", "name", name)
			rep.Left = append(rep.Left, name)
			continue
		}

		destDir := filepath.Join(dir, dateDir)
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return rep, fmt.Errorf("create %s: %w", dateDir, err)
		}
		dest := filepath.Join(destDir, name)
		if _, err := os.Lstat(dest); err == nil {
			logger.Warn("destination exists, left in inbox", "name", name, "dest", dest)
			rep.Left = append(rep.Left, name)
			continue
		}
		if err := move(filepath.Join(src, name), dest); err != nil {
			return rep, fmt.Errorf("move %s: %w", name, err)
		}
		logger.Info("moved", "name", name, "dir", dateDir)
		rep.Moved = append(rep.Moved, name)
	}
	return rep, nil
}

// move renames from to to, copying across filesystems.
func move(from, to string) error {
	err := os.Rename(from, to)
	if err == nil || !crossDevice(err) {
		return err
	}
	if err := copyFile(from, to); err != nil {
		_ = os.Remove(to)
		return err
	}
	return os.Remove(from)
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(to, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
