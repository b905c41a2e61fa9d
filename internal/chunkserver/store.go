package chunkserver

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/conarylabs/conary/internal/cas"
	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

const (
	objectsDir = "objects"
	tmpPrefix  = ".tmp."
)

// Store is a disk-backed, evictable content-addressed chunk cache. It
// mirrors internal/cas's sharded layout and atomic-write discipline, but
// unlike cas.Store (which is never pruned — its objects may still be
// referenced by an installed system) it supports Delete, since everything
// here is reconstructible by re-fetching from an upstream or re-converting.
type Store struct {
	root string
}

// NewStore opens (creating if necessary) a chunk cache store rooted at root.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, conaryerrors.New(conaryerrors.KindIO, "chunkserver: store root must not be empty")
	}
	if err := os.MkdirAll(filepath.Join(root, objectsDir), 0o755); err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "chunkserver: creating objects directory").
			WithCause(err).WithComponent("chunkserver").WithOperation("NewStore")
	}
	return &Store{root: root}, nil
}

func (s *Store) objectPath(hash string) (string, error) {
	if !cas.IsValidHash(hash) {
		return "", conaryerrors.New(conaryerrors.KindIO, "chunkserver: invalid hash").
			WithDetail("hash", hash).WithComponent("chunkserver")
	}
	return filepath.Join(s.root, objectsDir, hash[:2], hash[2:]), nil
}

// Exists reports whether a chunk with the given hash is present on disk.
func (s *Store) Exists(hash string) bool {
	path, err := s.objectPath(hash)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Size returns the on-disk size of a chunk, or an error if it is absent.
func (s *Store) Size(hash string) (int64, error) {
	path, err := s.objectPath(hash)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, conaryerrors.New(conaryerrors.KindNotFound, "chunkserver: chunk not found").
				WithDetail("hash", hash).WithComponent("chunkserver")
		}
		return 0, conaryerrors.New(conaryerrors.KindIO, "chunkserver: stat chunk").
			WithCause(err).WithComponent("chunkserver")
	}
	return info.Size(), nil
}

// Path returns the on-disk path of a chunk for streaming, verifying it exists.
func (s *Store) Path(hash string) (string, error) {
	path, err := s.objectPath(hash)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", conaryerrors.New(conaryerrors.KindNotFound, "chunkserver: chunk not found").
				WithDetail("hash", hash).WithComponent("chunkserver")
		}
		return "", conaryerrors.New(conaryerrors.KindIO, "chunkserver: stat chunk").
			WithCause(err).WithComponent("chunkserver")
	}
	return path, nil
}

// Get reads a chunk's bytes and verifies they still hash-match.
func (s *Store) Get(hash string) ([]byte, error) {
	path, err := s.objectPath(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, conaryerrors.New(conaryerrors.KindNotFound, "chunkserver: chunk not found").
				WithDetail("hash", hash).WithComponent("chunkserver")
		}
		return nil, conaryerrors.New(conaryerrors.KindIO, "chunkserver: reading chunk").
			WithCause(err).WithComponent("chunkserver")
	}
	if sum := fmt.Sprintf("%x", sha256.Sum256(data)); sum != hash {
		return nil, conaryerrors.New(conaryerrors.KindHashMismatch, "chunkserver: chunk fails hash verification").
			WithDetail("hash", hash).WithDetail("actual", sum).WithComponent("chunkserver")
	}
	return data, nil
}

// Put writes content under hash via a same-directory temp file plus atomic
// rename, the same pattern as internal/cas without its fsync calls. Put
// does not re-hash content; callers hold the chunk's canonical hash from a
// manifest or upstream response.
func (s *Store) Put(hash string, content []byte) error {
	dest, err := s.objectPath(hash)
	if err != nil {
		return err
	}
	shardDir := filepath.Dir(dest)
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "chunkserver: creating shard directory").
			WithCause(err).WithComponent("chunkserver")
	}

	tmp, err := os.CreateTemp(shardDir, tmpPrefix+"*")
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "chunkserver: creating temp file").
			WithCause(err).WithComponent("chunkserver")
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return conaryerrors.New(conaryerrors.KindIO, "chunkserver: writing temp file").
			WithCause(err).WithComponent("chunkserver")
	}
	if err := tmp.Close(); err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "chunkserver: closing temp file").
			WithCause(err).WithComponent("chunkserver")
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "chunkserver: renaming temp file into place").
			WithCause(err).WithComponent("chunkserver")
	}
	cleanup = false
	return nil
}

// Delete removes a chunk from disk. Unlike cas.Store, this is safe: nothing
// in an installed system references the chunk server's cache directly.
func (s *Store) Delete(hash string) error {
	path, err := s.objectPath(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return conaryerrors.New(conaryerrors.KindIO, "chunkserver: deleting chunk").
			WithCause(err).WithDetail("hash", hash).WithComponent("chunkserver")
	}
	return nil
}

// Walk calls fn for every chunk hash currently present on disk, used to
// rebuild the Bloom filter from scratch.
func (s *Store) Walk(fn func(hash string) error) error {
	objectsRoot := filepath.Join(s.root, objectsDir)
	shards, err := os.ReadDir(objectsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return conaryerrors.New(conaryerrors.KindIO, "chunkserver: listing shards").
			WithCause(err).WithComponent("chunkserver")
	}
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		shardDir := filepath.Join(objectsRoot, shard.Name())
		entries, err := os.ReadDir(shardDir)
		if err != nil {
			return conaryerrors.New(conaryerrors.KindIO, "chunkserver: listing shard entries").
				WithCause(err).WithComponent("chunkserver")
		}
		for _, entry := range entries {
			if len(entry.Name()) >= len(tmpPrefix) && entry.Name()[:len(tmpPrefix)] == tmpPrefix {
				continue
			}
			hash := shard.Name() + entry.Name()
			if !cas.IsValidHash(hash) {
				continue
			}
			if err := fn(hash); err != nil {
				return err
			}
		}
	}
	return nil
}

// TotalSize sums the on-disk size of every chunk currently present.
func (s *Store) TotalSize() (int64, error) {
	var total int64
	err := s.Walk(func(hash string) error {
		size, sizeErr := s.Size(hash)
		if sizeErr != nil {
			return nil // vanished between listing and stat; ignore
		}
		total += size
		return nil
	})
	return total, err
}
