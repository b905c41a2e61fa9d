// Package cas implements the content-addressed object store: every regular
// file and symlink target Conary tracks is stored once under a path derived
// from its SHA-256 hash, written via a same-filesystem temp file plus atomic
// rename so a crash mid-write never leaves a partially-written object
// visible under its final name.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
	"github.com/conarylabs/conary/pkg/log"
)

const (
	objectsDir = "objects"
	tmpPrefix  = ".tmp."

	// symlinkTypeMarker prefixes the hashed/stored bytes of a symlink target
	// so that a symlink and a regular file with identical literal bytes never
	// collide on the same content hash.
	symlinkTypeMarker = byte(1)
	regularTypeMarker = byte(0)
)

// Store is a content-addressed object store rooted at a directory on a
// single filesystem. It is safe for concurrent use by multiple goroutines
// and multiple processes (the two-phase write makes concurrent stores of the
// same hash race-free: the last renamer simply finds the target already
// present).
type Store struct {
	root   string
	logger *log.Logger
}

// New opens (creating if necessary) a content-addressed store rooted at
// root. The objects subdirectory is created eagerly; temp files for the
// two-phase write are created inside each object's shard directory.
func New(root string, logger *log.Logger) (*Store, error) {
	if root == "" {
		return nil, conaryerrors.New(conaryerrors.KindIO, "cas: root path must not be empty")
	}
	if logger == nil {
		l, err := log.New(&log.Config{Level: log.ERROR, Output: io.Discard, Format: log.FormatText})
		if err != nil {
			return nil, conaryerrors.New(conaryerrors.KindIO, "cas: creating fallback logger").WithCause(err)
		}
		logger = l
	}
	if err := os.MkdirAll(filepath.Join(root, objectsDir), 0o755); err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "cas: creating objects directory").
			WithCause(err).WithComponent("cas").WithOperation("New")
	}
	return &Store{root: root, logger: logger}, nil
}

// Root returns the store's data root directory.
func (s *Store) Root() string {
	return s.root
}

// objectPath returns the on-disk path for a given hex-encoded SHA-256 hash,
// split two-hex/sixty-two-hex per the on-disk layout.
func (s *Store) objectPath(hash string) (string, error) {
	if !IsValidHash(hash) {
		return "", conaryerrors.New(conaryerrors.KindIO, "cas: invalid hash").
			WithDetail("hash", hash).WithComponent("cas")
	}
	return filepath.Join(s.root, objectsDir, hash[:2], hash[2:]), nil
}

// IsValidHash reports whether s is a 64-character lowercase hex string, the
// canonical form of a SHA-256 hash.
func IsValidHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Exists reports whether an object with the given hash is present.
func (s *Store) Exists(hash string) bool {
	path, err := s.objectPath(hash)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Store writes bytes content-addressed by its SHA-256 hash and returns the
// hash. If an object with that hash is already present, Store is a no-op
// beyond computing the hash — the store is never mutated for an existing
// object.
func (s *Store) Store(content []byte) (string, error) {
	hash := fmt.Sprintf("%x", sha256.Sum256(content))
	if s.Exists(hash) {
		return hash, nil
	}
	if err := s.writeObject(hash, content); err != nil {
		return "", err
	}
	return hash, nil
}

// StoreSymlink hashes a type-prefixed encoding of target so that a symlink
// and a regular file sharing the same literal target bytes never collide,
// then stores that encoding content-addressed.
func (s *Store) StoreSymlink(target string) (string, error) {
	encoded := append([]byte{symlinkTypeMarker}, []byte(target)...)
	hash := fmt.Sprintf("%x", sha256.Sum256(encoded))
	if s.Exists(hash) {
		return hash, nil
	}
	if err := s.writeObject(hash, encoded); err != nil {
		return "", err
	}
	return hash, nil
}

// ReadSymlinkTarget reads back a symlink target previously stored with
// StoreSymlink, stripping the type marker.
func (s *Store) ReadSymlinkTarget(hash string) (string, error) {
	raw, err := s.read(hash)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 || raw[0] != symlinkTypeMarker {
		return "", conaryerrors.New(conaryerrors.KindCorrupt, "cas: object is not a stored symlink").
			WithDetail("hash", hash).WithComponent("cas")
	}
	return string(raw[1:]), nil
}

// HardlinkFromExisting hashes the file already on disk at path, then
// hardlinks it into the store under its hash — zero data copy. Used during
// system adoption, where files already live on the real filesystem. If the
// hash is already present the existing object is left untouched and path is
// not touched either.
func (s *Store) HardlinkFromExisting(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", conaryerrors.New(conaryerrors.KindIO, "cas: opening file to adopt").
			WithCause(err).WithDetail("path", path).WithComponent("cas")
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", conaryerrors.New(conaryerrors.KindIO, "cas: hashing file to adopt").
			WithCause(err).WithDetail("path", path).WithComponent("cas")
	}
	hash := hex.EncodeToString(h.Sum(nil))

	if s.Exists(hash) {
		return hash, nil
	}

	dest, err := s.objectPath(hash)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", conaryerrors.New(conaryerrors.KindIO, "cas: creating shard directory").
			WithCause(err).WithComponent("cas")
	}

	if err := os.Link(path, dest); err != nil {
		// Cross-device or unsupported link: fall back to a normal
		// two-phase copy-write, still zero-extra-hash since we already
		// have it.
		if _, statErr := os.Stat(path); statErr == nil {
			if seekErr := seekToStart(f); seekErr == nil {
				if copyErr := s.writeObjectFromReader(hash, f); copyErr == nil {
					return hash, nil
				}
			}
		}
		return "", conaryerrors.New(conaryerrors.KindIO, "cas: hardlinking adopted file").
			WithCause(err).WithDetail("path", path).WithComponent("cas")
	}
	return hash, nil
}

func seekToStart(f *os.File) error {
	_, err := f.Seek(0, io.SeekStart)
	return err
}

// Read returns the bytes stored under hash, verifying the content's hash
// still matches before returning it.
func (s *Store) Read(hash string) ([]byte, error) {
	return s.read(hash)
}

func (s *Store) read(hash string) ([]byte, error) {
	path, err := s.objectPath(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, conaryerrors.New(conaryerrors.KindNotFound, "cas: object not found").
				WithDetail("hash", hash).WithComponent("cas")
		}
		return nil, conaryerrors.New(conaryerrors.KindIO, "cas: reading object").
			WithCause(err).WithDetail("hash", hash).WithComponent("cas")
	}
	sum := fmt.Sprintf("%x", sha256.Sum256(data))
	if sum != hash {
		return nil, conaryerrors.New(conaryerrors.KindHashMismatch, "cas: stored object fails hash verification").
			WithDetail("hash", hash).WithDetail("actual", sum).WithComponent("cas")
	}
	return data, nil
}

// ObjectPath exposes the on-disk path of an object, for callers (the
// deployer) that hardlink or copy objects into the install root rather than
// reading them into memory.
func (s *Store) ObjectPath(hash string) (string, error) {
	path, err := s.objectPath(hash)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", conaryerrors.New(conaryerrors.KindNotFound, "cas: object not found").
				WithDetail("hash", hash).WithComponent("cas")
		}
		return "", conaryerrors.New(conaryerrors.KindIO, "cas: stat object").
			WithCause(err).WithComponent("cas")
	}
	return path, nil
}

// writeObject performs the two-phase write: write to a same-directory temp
// file, fsync it, rename into place, then fsync the containing directory so
// the rename itself is durable.
func (s *Store) writeObject(hash string, content []byte) error {
	dest, err := s.objectPath(hash)
	if err != nil {
		return err
	}
	shardDir := filepath.Dir(dest)
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "cas: creating shard directory").
			WithCause(err).WithComponent("cas")
	}

	tmp, err := os.CreateTemp(shardDir, tmpPrefix+"*")
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "cas: creating temp file").
			WithCause(err).WithComponent("cas")
	}
	tmpPath := tmp.Name()
	cleanupTmp := true
	defer func() {
		if cleanupTmp {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return conaryerrors.New(conaryerrors.KindIO, "cas: writing temp file").
			WithCause(err).WithComponent("cas")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return conaryerrors.New(conaryerrors.KindIO, "cas: fsync temp file").
			WithCause(err).WithComponent("cas")
	}
	if err := tmp.Close(); err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "cas: closing temp file").
			WithCause(err).WithComponent("cas")
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "cas: renaming temp file into place").
			WithCause(err).WithComponent("cas")
	}
	cleanupTmp = false

	if dirErr := fsyncDir(shardDir); dirErr != nil {
		s.logger.Warn("cas: fsync of shard directory failed", map[string]interface{}{
			"dir": shardDir, "error": dirErr.Error(),
		})
	}
	return nil
}

func (s *Store) writeObjectFromReader(hash string, r io.Reader) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "cas: reading source for fallback copy").
			WithCause(err).WithComponent("cas")
	}
	return s.writeObject(hash, content)
}

// fsyncDir fsyncs a directory so a preceding rename within it is durable.
// Not supported on all platforms (notably Windows); failures are
// non-fatal and logged by the caller.
func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}

// GC removes orphaned temp-write scratch files left behind by a crash
// mid-write. Safe to call at startup while no writes are in flight.
func (s *Store) GC() (int, error) {
	objectsRoot := filepath.Join(s.root, objectsDir)
	shards, err := os.ReadDir(objectsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, conaryerrors.New(conaryerrors.KindIO, "cas: listing shards for gc").
			WithCause(err).WithComponent("cas")
	}
	removed := 0
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(objectsRoot, shard.Name())
		entries, err := os.ReadDir(shardDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if len(entry.Name()) >= len(tmpPrefix) && entry.Name()[:len(tmpPrefix)] == tmpPrefix {
				if err := os.Remove(filepath.Join(shardDir, entry.Name())); err == nil {
					removed++
				}
			}
		}
	}
	return removed, nil
}

// Walk calls fn for every object hash currently present in the store. Used
// by the chunk server to rebuild its Bloom filter from disk.
func (s *Store) Walk(fn func(hash string) error) error {
	objectsRoot := filepath.Join(s.root, objectsDir)
	shards, err := os.ReadDir(objectsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return conaryerrors.New(conaryerrors.KindIO, "cas: listing shards for walk").
			WithCause(err).WithComponent("cas")
	}
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		shardDir := filepath.Join(objectsRoot, shard.Name())
		entries, err := os.ReadDir(shardDir)
		if err != nil {
			return conaryerrors.New(conaryerrors.KindIO, "cas: listing shard entries").
				WithCause(err).WithComponent("cas")
		}
		for _, entry := range entries {
			if len(entry.Name()) >= len(tmpPrefix) && entry.Name()[:len(tmpPrefix)] == tmpPrefix {
				continue
			}
			hash := shard.Name() + entry.Name()
			if !IsValidHash(hash) {
				continue
			}
			if err := fn(hash); err != nil {
				return err
			}
		}
	}
	return nil
}
