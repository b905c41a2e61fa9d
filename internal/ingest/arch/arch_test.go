package arch

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func buildTestArchPackage(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	tw := tar.NewWriter(enc)

	pkginfo := "pkgname = hello\npkgver = 2.10-1\narch = x86_64\npkgdesc = hello world program\ndepend = glibc>=2.34\nprovides = hello\n"
	writeEntry(t, tw, ".PKGINFO", pkginfo)
	writeEntry(t, tw, ".INSTALL", "post_install() {\n  echo hi\n}\n")
	writeEntry(t, tw, "usr/bin/hello", "#!/bin/sh\necho hi\n")

	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}

	path := filepath.Join(t.TempDir(), "hello-2.10-1-x86_64.pkg.tar.zst")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write test package: %v", err)
	}
	return path
}

func writeEntry(t *testing.T, tw *tar.Writer, name, content string) {
	t.Helper()
	hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("write header %s: %v", name, err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatalf("write body %s: %v", name, err)
	}
}

func TestParseMetadata(t *testing.T) {
	path := buildTestArchPackage(t)
	meta, err := ParseMetadata(path)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	if meta.Name != "hello" || meta.Version != "2.10-1" || meta.Architecture != "x86_64" {
		t.Fatalf("got %+v", meta)
	}
	if len(meta.Requires) != 1 || meta.Requires[0].Name != "glibc" || meta.Requires[0].Version != ">=2.34" {
		t.Fatalf("got requires %+v", meta.Requires)
	}
}

func TestExtractFiles(t *testing.T) {
	path := buildTestArchPackage(t)
	var paths []string
	if err := ExtractFiles(path, func(fe FileEntry) error {
		paths = append(paths, fe.Path)
		return nil
	}); err != nil {
		t.Fatalf("ExtractFiles: %v", err)
	}
	if len(paths) != 1 || paths[0] != "/usr/bin/hello" {
		t.Fatalf("got %v (control members should be skipped)", paths)
	}
}

func TestParseScriptlets(t *testing.T) {
	path := buildTestArchPackage(t)
	scriptlets, err := ParseScriptlets(path)
	if err != nil {
		t.Fatalf("ParseScriptlets: %v", err)
	}
	if len(scriptlets) != 1 || scriptlets[0].Phase != "post-install" {
		t.Fatalf("got %+v", scriptlets)
	}
}
