package pool

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func readArchive(t *testing.T, data []byte) map[string]string {
	t.Helper()
	files := map[string]string{}
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files
		}
		if err != nil {
			t.Fatalf("reading archive: %v", err)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("reading %s: %v", hdr.Name, err)
		}
		files[hdr.Name] = string(body)
	}
}

func TestWriteArchive_SymlinkedFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.conf")
	link := filepath.Join(dir, "link.conf")
	if err := os.WriteFile(target, []byte("a=1"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := writeArchive(&buf, []FileEntry{{Destination: "/etc/app.conf", HostPath: link}}); err != nil {
		t.Fatalf("writeArchive: %v", err)
	}
	files := readArchive(t, buf.Bytes())
	if got, ok := files["etc/app.conf"]; !ok || got != "a=1" {
		t.Errorf("expected etc/app.conf with target content, got %v", files)
	}
}

func TestWriteArchive_DirectoryWithSymlink(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "shared.txt")
	if err := os.WriteFile(outside, []byte("shared"), 0o644); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "own.txt"), []byte("own"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(dir, "shared.txt")); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := writeArchive(&buf, []FileEntry{{Destination: "/data", HostPath: dir}}); err != nil {
		t.Fatalf("writeArchive: %v", err)
	}
	files := readArchive(t, buf.Bytes())
	if files["data/own.txt"] != "own" || files["data/shared.txt"] != "shared" {
		t.Errorf("unexpected archive contents: %v", files)
	}
	if _, ok := files["data/"]; !ok {
		t.Errorf("expected directory entry, got %v", files)
	}
}

func TestWriteArchive_SymlinkedDirectoryRejected(t *testing.T) {
	dir := t.TempDir()
	if err := os.Symlink(t.TempDir(), filepath.Join(dir, "nested")); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := writeArchive(&buf, []FileEntry{{Destination: "/data", HostPath: dir}}); err == nil {
		t.Error("expected error for a symlinked directory")
	}
}
