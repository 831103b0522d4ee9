package pool

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// walkHostPath visits root and, when it is a directory, everything below it
// in lexical order. A symlinked root is resolved first. Symlinks to files
// inside a directory are followed and reported with the target's metadata;
// symlinked directories and special files are rejected so that nothing is
// dropped from the hash or the archive without notice.
func walkHostPath(root string, fn func(p, rel string, info fs.FileInfo) error) error {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", root, err)
	}
	return filepath.WalkDir(resolved, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			// Stat follows the link.
			info, err = os.Stat(p)
			if err != nil {
				return fmt.Errorf("following %s: %w", p, err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s: symlinked directories are not supported", p)
			}
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return fmt.Errorf("%s: unsupported file type %s", p, info.Mode().Type())
		}
		rel, err := filepath.Rel(resolved, p)
		if err != nil {
			return err
		}
		return fn(p, rel, info)
	})
}
