package cas

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestStoreAndRead(t *testing.T) {
	s := newTestStore(t)
	content := []byte("hello conary")

	hash, err := s.Store(content)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !IsValidHash(hash) {
		t.Fatalf("hash %q is not valid", hash)
	}
	if !s.Exists(hash) {
		t.Fatalf("expected object to exist after Store")
	}

	got, err := s.Read(hash)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("got %q, want %q", got, content)
	}
}

func TestStoreIdempotent(t *testing.T) {
	s := newTestStore(t)
	content := []byte("same bytes twice")

	h1, err := s.Store(content)
	if err != nil {
		t.Fatalf("first Store: %v", err)
	}
	h2, err := s.Store(content)
	if err != nil {
		t.Fatalf("second Store: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hashes differ across repeated stores: %s vs %s", h1, h2)
	}

	path, err := s.objectPath(h1)
	if err != nil {
		t.Fatalf("objectPath: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat object: %v", err)
	}
	if info.Size() != int64(len(content)) {
		t.Fatalf("object size %d, want %d (no duplication expected)", info.Size(), len(content))
	}
}

func TestStoreSymlinkDoesNotCollideWithRegularFile(t *testing.T) {
	s := newTestStore(t)
	target := "/usr/bin/foo"

	regularHash, err := s.Store([]byte(target))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	symlinkHash, err := s.StoreSymlink(target)
	if err != nil {
		t.Fatalf("StoreSymlink: %v", err)
	}
	if regularHash == symlinkHash {
		t.Fatalf("symlink and regular file with identical bytes collided: %s", regularHash)
	}

	gotTarget, err := s.ReadSymlinkTarget(symlinkHash)
	if err != nil {
		t.Fatalf("ReadSymlinkTarget: %v", err)
	}
	if gotTarget != target {
		t.Fatalf("got target %q, want %q", gotTarget, target)
	}
}

func TestReadMissingObject(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("0000000000000000000000000000000000000000000000000000000000000000"[:64])
	if err == nil {
		t.Fatalf("expected error reading missing object")
	}
}

func TestReadDetectsCorruption(t *testing.T) {
	s := newTestStore(t)
	hash, err := s.Store([]byte("original"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	path, err := s.objectPath(hash)
	if err != nil {
		t.Fatalf("objectPath: %v", err)
	}
	if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := s.Read(hash); err == nil {
		t.Fatalf("expected hash mismatch error after tampering")
	}
}

func TestHardlinkFromExisting(t *testing.T) {
	s := newTestStore(t)
	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "adopted-binary")
	content := []byte("adopted file contents")
	if err := os.WriteFile(srcPath, content, 0o755); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	hash, err := s.HardlinkFromExisting(srcPath)
	if err != nil {
		t.Fatalf("HardlinkFromExisting: %v", err)
	}
	if !s.Exists(hash) {
		t.Fatalf("expected adopted object to exist")
	}
	got, err := s.Read(hash)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("got %q, want %q", got, content)
	}
}

func TestGCRemovesOrphanTempFiles(t *testing.T) {
	s := newTestStore(t)
	hash, err := s.Store([]byte("keep me"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	path, err := s.objectPath(hash)
	if err != nil {
		t.Fatalf("objectPath: %v", err)
	}
	orphan := filepath.Join(filepath.Dir(path), tmpPrefix+"orphan")
	if err := os.WriteFile(orphan, []byte("partial"), 0o644); err != nil {
		t.Fatalf("write orphan: %v", err)
	}

	removed, err := s.GC()
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if removed != 1 {
		t.Fatalf("got %d removed, want 1", removed)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("expected orphan removed")
	}
	if !s.Exists(hash) {
		t.Fatalf("GC must not remove real objects")
	}
}

func TestWalkVisitsAllObjects(t *testing.T) {
	s := newTestStore(t)
	want := map[string]bool{}
	for _, content := range []string{"a", "b", "c"} {
		hash, err := s.Store([]byte(content))
		if err != nil {
			t.Fatalf("Store: %v", err)
		}
		want[hash] = true
	}

	got := map[string]bool{}
	if err := s.Walk(func(hash string) error {
		got[hash] = true
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("got %d objects, want %d", len(got), len(want))
	}
	for h := range want {
		if !got[h] {
			t.Fatalf("Walk did not visit %s", h)
		}
	}
}

func TestIsValidHash(t *testing.T) {
	cases := map[string]bool{
		"":     false,
		"abc":  false,
		"zz00000000000000000000000000000000000000000000000000000000000": false,
		"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef": true,
		"0123456789ABCDEF0123456789abcdef0123456789abcdef0123456789abcdef": false,
	}
	for h, want := range cases {
		if got := IsValidHash(h); got != want {
			t.Errorf("IsValidHash(%q) = %v, want %v", h, got, want)
		}
	}
}
