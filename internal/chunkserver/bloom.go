package chunkserver

import (
	"encoding/binary"
	"encoding/hex"
	"sync"
	"sync/atomic"

	"github.com/holiman/bloomfilter/v2"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// BloomIndex is a Bloom-filter presence index mirroring the chunk store's
// on-disk object set. A "might contain" answer still requires a disk
// check; a "definitely absent" answer lets callers skip disk I/O entirely.
// It is sized for at least 1.5x the chunk population it was built for, at
// the configured false-positive rate, and is marked dirty after any insert
// or evict so operators know a rebuild is due for the tightest bound.
type BloomIndex struct {
	mu     sync.RWMutex
	filter *bloomfilter.Filter
	dirty  atomic.Bool
}

// chunkHash adapts a pre-computed SHA-256 hex digest to hash.Hash64, the
// interface bloomfilter.Filter.Add/Contains operate over. The digest is
// already a strong, uniformly-distributed hash, so folding its first eight
// bytes into a uint64 is sufficient input entropy; Write/Reset are no-ops
// since the filter never needs to accumulate bytes itself.
type chunkHash uint64

func (chunkHash) Write(p []byte) (int, error) { return len(p), nil }
func (chunkHash) Sum(b []byte) []byte         { return b }
func (chunkHash) Reset()                      {}
func (chunkHash) Size() int                   { return 8 }
func (chunkHash) BlockSize() int              { return 8 }
func (h chunkHash) Sum64() uint64             { return uint64(h) }

func hashOf(hexHash string) (chunkHash, error) {
	raw, err := hex.DecodeString(hexHash)
	if err != nil || len(raw) < 8 {
		return 0, conaryerrors.New(conaryerrors.KindIO, "chunkserver: invalid hash for bloom index").
			WithDetail("hash", hexHash).WithComponent("chunkserver")
	}
	return chunkHash(binary.BigEndian.Uint64(raw[:8])), nil
}

// NewBloomIndex builds an empty index sized for expectedChunks at the given
// false-positive rate. Per spec, callers should pass at least 1.5x the
// current (or anticipated) chunk population.
func NewBloomIndex(expectedChunks uint64, falsePositiveRate float64) (*BloomIndex, error) {
	if expectedChunks == 0 {
		expectedChunks = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	filter, err := bloomfilter.NewOptimal(expectedChunks, falsePositiveRate)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "chunkserver: creating bloom filter").
			WithCause(err).WithComponent("chunkserver")
	}
	return &BloomIndex{filter: filter}, nil
}

// MightContain reports whether hash could be present. false is a definite
// "not present" answer; true requires a disk check to confirm.
func (b *BloomIndex) MightContain(hash string) bool {
	h, err := hashOf(hash)
	if err != nil {
		return true // can't reason about it; fall through to disk
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter.Contains(h)
}

// Add records hash as present and marks the index dirty (a rebuild will
// reclaim the tightest possible false-positive rate once disk contents
// settle; the Add itself keeps the index correct in the meantime since a
// Bloom filter only ever gains false positives, never false negatives, as
// entries accumulate).
func (b *BloomIndex) Add(hash string) {
	h, err := hashOf(hash)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.filter.Add(h)
	b.mu.Unlock()
	b.dirty.Store(true)
}

// MarkDirty flags the index as needing a rebuild, e.g. after an eviction
// pass removed hashes the filter cannot selectively forget.
func (b *BloomIndex) MarkDirty() {
	b.dirty.Store(true)
}

// Dirty reports whether the index has drifted from the on-disk set since
// the last rebuild.
func (b *BloomIndex) Dirty() bool {
	return b.dirty.Load()
}

// Rebuild replaces the filter by rescanning the chunk store, sized for at
// least 1.5x the current population, and clears the dirty flag.
func (b *BloomIndex) Rebuild(store *Store, falsePositiveRate float64) error {
	var hashes []string
	if err := store.Walk(func(hash string) error {
		hashes = append(hashes, hash)
		return nil
	}); err != nil {
		return err
	}

	expected := uint64(float64(len(hashes))*1.5) + 1
	filter, err := bloomfilter.NewOptimal(expected, falsePositiveRate)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "chunkserver: rebuilding bloom filter").
			WithCause(err).WithComponent("chunkserver")
	}
	for _, hash := range hashes {
		h, hashErr := hashOf(hash)
		if hashErr != nil {
			continue
		}
		filter.Add(h)
	}

	b.mu.Lock()
	b.filter = filter
	b.mu.Unlock()
	b.dirty.Store(false)
	return nil
}
