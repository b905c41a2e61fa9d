package chunkserver

import (
	"context"
	"net/http"
	"strings"
	"time"
)

type cacheStatsResponse struct {
	CacheSize      int64   `json:"cache_size_bytes"`
	CacheCapacity  int64   `json:"cache_capacity_bytes"`
	CacheHits      uint64  `json:"cache_hits"`
	CacheMisses    uint64  `json:"cache_misses"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	BloomDirty     bool    `json:"bloom_dirty"`
	HighWaterBytes int64   `json:"high_water_bytes"`
	LowWaterBytes  int64   `json:"low_water_bytes"`
	UpstreamState  string  `json:"upstream_circuit_state"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := s.index.Stats()
	high, low := s.waterMarks()
	writeJSON(w, http.StatusOK, cacheStatsResponse{
		CacheSize:      stats.Size,
		CacheCapacity:  stats.Capacity,
		CacheHits:      stats.Hits,
		CacheMisses:    stats.Misses,
		CacheHitRate:   stats.HitRate,
		BloomDirty:     s.bloom.Dirty(),
		HighWaterBytes: high,
		LowWaterBytes:  low,
		UpstreamState:  s.cb.State().String(),
	})
}

func (s *Server) waterMarks() (high, low int64) {
	high = int64(float64(s.config.CacheMaxBytes) * s.config.CacheHighWaterMark)
	low = int64(float64(s.config.CacheMaxBytes) * s.config.CacheLowWaterMark)
	return high, low
}

type evictResponse struct {
	FreedBytes int64 `json:"freed_bytes"`
}

// handleEvict triggers an immediate low-water-mark eviction pass,
// independent of whether the high water mark has actually been crossed.
func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_, low := s.waterMarks()
	freed := s.evictToLowWaterMark(low)
	writeJSON(w, http.StatusOK, evictResponse{FreedBytes: freed})
}

// evictToLowWaterMark walks the LRU index's coldest entries out, deleting
// the matching chunk from disk for each one, until the index reports the
// low water mark has been reached. Eviction always marks the Bloom filter
// dirty since it cannot selectively remove a single entry from it.
func (s *Server) evictToLowWaterMark(low int64) int64 {
	keys := s.index.GetKeys()
	freed := s.index.EvictToLowWaterMark(low)
	if freed <= 0 {
		return 0
	}
	// The index has already evicted its coldest entries by the time we get
	// here; remove the corresponding on-disk chunks for any key the index
	// no longer holds.
	remaining := make(map[string]bool)
	for _, key := range s.index.GetKeys() {
		remaining[key] = true
	}
	for _, key := range keys {
		if !remaining[key] {
			_ = s.store.Delete(cacheKeyHash(key))
		}
	}
	s.bloom.MarkDirty()
	return freed
}

// cacheKeyHash extracts the chunk hash from an LRUCache key of the form
// "<hash>:<offset>:<size>".
func cacheKeyHash(cacheKey string) string {
	if i := strings.IndexByte(cacheKey, ':'); i >= 0 {
		return cacheKey[:i]
	}
	return cacheKey
}

func (s *Server) handleBloomRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.bloom.Rebuild(s.store, s.config.BloomFalsePositiveRate); err != nil {
		http.Error(w, "failed to rebuild bloom filter", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"rebuilt": true})
}

// RunEvictionLoop periodically checks the cache size against the
// configured high water mark and, when crossed, evicts down to the low
// water mark. Intended to run as a background goroutine for the lifetime
// of the server.
func (s *Server) RunEvictionLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			high, low := s.waterMarks()
			if s.index.ExceedsHighWaterMark(high) {
				freed := s.evictToLowWaterMark(low)
				s.logger.Info("chunk cache eviction pass completed", map[string]interface{}{
					"freed_bytes": freed,
				})
			}
		}
	}
}
