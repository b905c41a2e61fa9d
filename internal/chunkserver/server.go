package chunkserver

import (
	"context"
	"net/http"
	"time"

	"github.com/conarylabs/conary/internal/cache"
	"github.com/conarylabs/conary/internal/config"
	"github.com/conarylabs/conary/internal/metrics"
	"github.com/conarylabs/conary/pkg/log"
	"github.com/conarylabs/conary/pkg/retry"
)

// Server is the federated chunk cache and pull-through HTTP server.
type Server struct {
	httpServer *http.Server
	config     config.ChunkServerConfig

	store  *Store
	bloom  *BloomIndex
	index  *cache.LRUCache
	client *http.Client
	cb     *upstreamBreaker
	retry  *retry.Retryer

	metrics *metrics.Collector
	logger  *log.Logger
}

// NewServer builds a chunk server whose store is rooted at dataRoot
// (cmd/conary passes <data root>/chunk-cache), with a Bloom index rebuilt
// from whatever chunks already exist on disk.
func NewServer(cfg config.ChunkServerConfig, dataRoot string, metricsCollector *metrics.Collector, logger *log.Logger) (*Server, error) {
	store, err := NewStore(dataRoot)
	if err != nil {
		return nil, err
	}

	expected := cfg.BloomExpectedChunks
	if expected == 0 {
		expected = 1_000_000
	}
	bloom, err := NewBloomIndex(uint64(float64(expected)*1.5), cfg.BloomFalsePositiveRate)
	if err != nil {
		return nil, err
	}
	if err := bloom.Rebuild(store, cfg.BloomFalsePositiveRate); err != nil {
		return nil, err
	}

	index := cache.NewLRUCache(&cache.CacheConfig{
		MaxSize:        cfg.CacheMaxBytes,
		EvictionPolicy: "lru",
	})
	seedIndex(index, store, logger)

	retryCfg := retry.DefaultConfig()

	s := &Server{
		config:  cfg,
		store:   store,
		bloom:   bloom,
		index:   index,
		client:  &http.Client{Timeout: cfg.PullThroughTimeout},
		cb:      newUpstreamBreaker("chunkserver-upstream", cfg.PullThroughTimeout, logger),
		retry:   retry.New(retryCfg),
		metrics: metricsCollector,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/chunks/", s.handleChunk)
	mux.HandleFunc("/chunks/find-missing", s.handleFindMissing)
	mux.HandleFunc("/chunks/batch", s.handleBatch)
	mux.HandleFunc("/admin/cache/stats", s.handleCacheStats)
	mux.HandleFunc("/admin/evict", s.handleEvict)
	mux.HandleFunc("/admin/bloom/rebuild", s.handleBloomRebuild)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  90 * time.Second,
	}

	return s, nil
}

// Start runs the HTTP server, blocking until it stops or errors.
func (s *Server) Start() error {
	s.logger.Info("starting chunk server", map[string]interface{}{"addr": s.config.ListenAddr})
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// StartBackground starts the server in a background goroutine.
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("chunk server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// seedIndex registers every chunk already on disk with the LRU index at
// startup, so eviction ordering (and the high/low water mark check) sees
// the full on-disk population rather than only chunks touched since the
// process started.
func seedIndex(index *cache.LRUCache, store *Store, logger *log.Logger) {
	if err := store.Walk(func(hash string) error {
		data, err := store.Get(hash)
		if err != nil {
			return nil // skip entries that fail verification; a rebuild will surface them
		}
		index.Put(hash, 0, data)
		return nil
	}); err != nil {
		logger.Warn("failed to seed chunk cache index from disk", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("chunk server request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		})
	})
}
