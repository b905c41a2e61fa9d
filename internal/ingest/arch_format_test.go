package ingest

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

// buildMinimalArchPackage mirrors internal/ingest/arch's own test fixture
// builder at the package boundary, confirming Detect + Format wire
// correctly end to end.
func buildMinimalArchPackage(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	tw := tar.NewWriter(enc)

	writeEntry := func(name, content string) {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write body %s: %v", name, err)
		}
	}

	pkginfo := "pkgname = hello\npkgver = 2.10-1\narch = x86_64\npkgdesc = hello world program\ndepend = glibc>=2.34\nprovides = hello\n"
	writeEntry(".PKGINFO", pkginfo)
	writeEntry(".INSTALL", "post_install() {\n  echo hi\n}\n")
	writeEntry("usr/bin/hello", "#!/bin/sh\necho hi\n")

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

func TestDetectArch(t *testing.T) {
	f, err := Detect("/tmp/foo-1.0-1-x86_64.pkg.tar.zst")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := f.(archFormat); !ok {
		t.Fatalf("expected archFormat, got %T", f)
	}
}

func TestArchFormatToTrove(t *testing.T) {
	path := buildMinimalArchPackage(t)
	trove, err := ToTrove(context.Background(), newArchFormat(), path)
	if err != nil {
		t.Fatalf("ToTrove: %v", err)
	}
	if trove.Metadata.Name != "hello" || trove.Metadata.Version != "2.10-1" || trove.Metadata.Architecture != "x86_64" {
		t.Fatalf("got metadata %+v", trove.Metadata)
	}
	if len(trove.Metadata.Requires) != 1 || trove.Metadata.Requires[0].Name != "glibc" {
		t.Fatalf("got requires %+v", trove.Metadata.Requires)
	}
	if len(trove.Files) != 1 || trove.Files[0].Path != "/usr/bin/hello" {
		t.Fatalf("got files %+v (control members should be skipped)", trove.Files)
	}
	if len(trove.Scriptlets) != 1 || trove.Scriptlets[0].Phase != ScriptletPostInstall {
		t.Fatalf("got scriptlets %+v", trove.Scriptlets)
	}
}
