package pool

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// writeArchive streams entries as a tar rooted at "/".
func writeArchive(w io.Writer, entries []FileEntry) error {
	tw := tar.NewWriter(w)
	for _, e := range entries {
		var err error
		if e.HostPath == "" {
			err = writeContent(tw, e)
		} else {
			err = writeHostPath(tw, e)
		}
		if err != nil {
			return err
		}
	}
	return tw.Close()
}

func tarName(dest string) string {
	return strings.TrimPrefix(path.Clean("/"+dest), "/")
}

func writeContent(tw *tar.Writer, e FileEntry) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     tarName(e.Destination),
		Mode:     int64(e.mode()),
		Size:     int64(len(e.Content)),
		ModTime:  time.Unix(0, 0),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archiving %s: %w", e.Destination, err)
	}
	_, err := tw.Write(e.Content)
	return err
}

func writeHostPath(tw *tar.Writer, e FileEntry) error {
	err := walkHostPath(e.HostPath, func(p, rel string, info fs.FileInfo) error {
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = tarName(path.Join(e.Destination, filepath.ToSlash(rel)))
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(p) // #nosec G304 -- paths come from the project file.
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("archiving %s: %w", e.HostPath, err)
	}
	return nil
}
