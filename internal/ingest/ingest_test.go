package ingest

import (
	"context"
	"testing"

	"github.com/conarylabs/conary/internal/ingest/ccs"
)

func TestDetectSelectsExpectedFormat(t *testing.T) {
	cases := []struct {
		path string
		want Format
	}{
		{"nginx-1.24-1.x86_64.rpm", rpmFormat{}},
		{"nginx_1.24-1_amd64.deb", debFormat{}},
		{"nginx-1.24-1-x86_64.pkg.tar.zst", archFormat{}},
		{"nginx-1.24.0.ccs", ccsFormat{}},
	}
	for _, tc := range cases {
		got, err := Detect(tc.path)
		if err != nil {
			t.Fatalf("Detect(%s): %v", tc.path, err)
		}
		if got != tc.want {
			t.Fatalf("Detect(%s) = %T, want %T", tc.path, got, tc.want)
		}
	}
}

// fakeFormat exercises ToTrove's assembly logic independent of any real
// package format's parsing quirks.
type fakeFormat struct{}

func (fakeFormat) Parse(ctx context.Context, path string) (Metadata, error) {
	return Metadata{Name: "fake", Version: "1.0", Provides: []string{"fake"}}, nil
}

func (fakeFormat) ExtractFiles(ctx context.Context, path string, fn func(FileEntry) error) error {
	return fn(FileEntry{Path: "/usr/bin/fake", Mode: 0o755, Type: FileTypeRegular, Contents: []byte("binary")})
}

func (fakeFormat) Scriptlets(ctx context.Context, path string) ([]Scriptlet, error) {
	return []Scriptlet{{Phase: ScriptletPostInstall, Interpreter: "/bin/sh", Script: "echo hi"}}, nil
}

func TestToTroveAssemblesMetadataFilesAndScriptlets(t *testing.T) {
	trove, err := ToTrove(context.Background(), fakeFormat{}, "/tmp/fake.pkg")
	if err != nil {
		t.Fatalf("ToTrove: %v", err)
	}
	if trove.Metadata.Name != "fake" {
		t.Fatalf("got metadata %+v", trove.Metadata)
	}
	if len(trove.Files) != 1 || trove.Files[0].Path != "/usr/bin/fake" {
		t.Fatalf("got files %+v", trove.Files)
	}
	if len(trove.Scriptlets) != 1 || trove.Scriptlets[0].Phase != ScriptletPostInstall {
		t.Fatalf("got scriptlets %+v", trove.Scriptlets)
	}
}

func TestCCSFormatRoundTripsThroughToTrove(t *testing.T) {
	runtimeHash := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	container := &ccs.Container{
		Manifest: &ccs.Manifest{
			Name: "hello", Version: "1.0.0",
			Platform:   ccs.Platform{OS: "linux", Arch: "x86_64", Libc: "gnu"},
			Provides:   []string{"hello"},
			Components: map[string]string{"runtime": runtimeHash},
		},
		Components: map[string]ccs.ComponentFileList{
			"runtime": {Files: []ccs.ComponentFile{{Path: "/usr/bin/hello", Hash: runtimeHash, Mode: 0o755}}},
		},
		Objects: map[string][]byte{runtimeHash: []byte("hello binary")},
	}

	dir := t.TempDir()
	path := dir + "/hello.ccs"
	if err := ccs.WriteContainer(path, container); err != nil {
		t.Fatalf("WriteContainer: %v", err)
	}

	f, err := Detect(path)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	trove, err := ToTrove(context.Background(), f, path)
	if err != nil {
		t.Fatalf("ToTrove: %v", err)
	}
	if trove.Metadata.Name != "hello" || trove.Metadata.Architecture != "x86_64" {
		t.Fatalf("got metadata %+v", trove.Metadata)
	}
	if len(trove.Files) != 1 || trove.Files[0].Path != "/usr/bin/hello" || string(trove.Files[0].Contents) != "hello binary" {
		t.Fatalf("got files %+v", trove.Files)
	}
}
