package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mateo/agentbox/agents"
)

// EnsureBuiltins writes the shipped agent descriptors into dir. Files that
// already exist are left alone so local edits survive upgrades.
func EnsureBuiltins(dir string) error {
	return writeMissing(agents.Builtin, dir)
}

func writeMissing(src fs.FS, dir string) error {
	return fs.WalkDir(src, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(path))
		if d.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create builtin dir %q: %w", target, err)
			}
			return nil
		}
		if _, err := os.Stat(target); err == nil {
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat builtin %q: %w", target, err)
		}
		data, err := fs.ReadFile(src, path)
		if err != nil {
			return fmt.Errorf("read embedded %q: %w", path, err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("write builtin %q: %w", target, err)
		}
		return nil
	})
}
