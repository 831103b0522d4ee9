package pool

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// FileEntry is a file or directory copied into a container before start.
// Exactly one of HostPath and Content is used; HostPath wins when set.
type FileEntry struct {
	// Destination is the absolute path inside the container.
	Destination string
	// HostPath is a file or directory on the host.
	HostPath string
	// Content is copied verbatim when HostPath is empty.
	Content []byte
	// Mode is the permission of an in-memory file. Zero means 0644.
	Mode fs.FileMode
}

func (e FileEntry) mode() fs.FileMode {
	if e.Mode == 0 {
		return 0o644
	}
	return e.Mode.Perm()
}

// HashFiles digests the copied files in registration order: each
// destination path, size, permission bits and content. Directories are
// walked in lexical order and contribute their own permission bits. The
// result for an empty set is a fixed baseline.
func HashFiles(entries []FileEntry) (string, error) {
	h := xxhash.New()
	for _, e := range entries {
		if e.HostPath == "" {
			writeRecord(h, e.Destination, int64(len(e.Content)), e.mode(), xxhash.Sum64(e.Content))
			continue
		}
		if err := hashHostPath(h, e); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

func hashHostPath(h *xxhash.Digest, e FileEntry) error {
	err := walkHostPath(e.HostPath, func(p, rel string, info fs.FileInfo) error {
		dest := path.Join(e.Destination, filepath.ToSlash(rel))
		if info.IsDir() {
			writeRecord(h, dest+"/", 0, info.Mode().Perm(), 0)
			return nil
		}
		sum, err := hashFile(p)
		if err != nil {
			return err
		}
		writeRecord(h, dest, info.Size(), info.Mode().Perm(), sum)
		return nil
	})
	if err != nil {
		return fmt.Errorf("hashing %s: %w", e.HostPath, err)
	}
	return nil
}

func hashFile(p string) (uint64, error) {
	f, err := os.Open(p) // #nosec G304 -- paths come from the project file.
	if err != nil {
		return 0, fmt.Errorf("hashing %s: %w", p, err)
	}
	defer func() { _ = f.Close() }()
	d := xxhash.New()
	if _, err := io.Copy(d, f); err != nil {
		return 0, fmt.Errorf("hashing %s: %w", p, err)
	}
	return d.Sum64(), nil
}

// writeRecord folds one entry into h. The path is length-prefixed so that
// adjacent records cannot run into each other.
func writeRecord(h *xxhash.Digest, dest string, size int64, perm fs.FileMode, sum uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(dest)))
	_, _ = h.Write(buf[:])
	_, _ = h.WriteString(dest)
	binary.LittleEndian.PutUint64(buf[:], uint64(size))
	_, _ = h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(perm))
	_, _ = h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], sum)
	_, _ = h.Write(buf[:])
}
