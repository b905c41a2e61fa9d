package chunkserver

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/conarylabs/conary/internal/cas"
)

// maxFindMissingHashes bounds /chunks/find-missing: a client diffing its
// local chunk set against the server's (e.g. before a batch upload) may
// reasonably ask about an entire package's worth of hashes at once.
const maxFindMissingHashes = 10000

// maxBatchFetchHashes bounds /chunks/batch: each response chunk is
// returned base64-encoded and held in memory, so this cap is much
// tighter than find-missing's.
const maxBatchFetchHashes = 100

func isValidHash(hash string) bool {
	return cas.IsValidHash(hash)
}

// handleChunk dispatches HEAD and GET for /chunks/<hash>.
func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimPrefix(r.URL.Path, "/chunks/")
	if !isValidHash(hash) {
		http.Error(w, "invalid chunk hash format", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodHead:
		s.handleHead(w, hash)
	case http.MethodGet:
		s.handleGet(w, r, hash)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func setImmutableHeaders(w http.ResponseWriter, hash string, size int64) {
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", itoa64(size))
	h.Set("Cache-Control", "public, max-age=31536000, immutable")
	h.Set("ETag", `"`+hash+`"`)
	h.Set("Accept-Ranges", "bytes")
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (s *Server) handleHead(w http.ResponseWriter, hash string) {
	if !s.bloom.MightContain(hash) {
		s.metrics.RecordCacheMiss(hash, 0)
		http.NotFound(w, nil)
		return
	}

	size, err := s.store.Size(hash)
	if err != nil {
		s.metrics.RecordCacheMiss(hash, 0)
		http.NotFound(w, nil)
		return
	}
	s.metrics.RecordCacheHit(hash, size)
	setImmutableHeaders(w, hash, size)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, hash string) {
	if !s.bloom.MightContain(hash) {
		s.metrics.RecordCacheMiss(hash, 0)
		s.servePullThroughOrMiss(w, r, hash)
		return
	}

	path, err := s.store.Path(hash)
	if err != nil {
		s.metrics.RecordCacheMiss(hash, 0)
		s.servePullThroughOrMiss(w, r, hash)
		return
	}

	size, err := s.store.Size(hash)
	if err != nil {
		http.Error(w, "failed to read chunk", http.StatusInternalServerError)
		return
	}

	s.index.Get(hash, 0, size) // bump recency in the LRU index

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Cache-Control", "public, max-age=31536000, immutable")
	h.Set("ETag", `"`+hash+`"`)
	// Content-Length and any 206 partial-content handling are left to
	// http.ServeFile/ServeContent, which already honors Accept-Ranges.
	http.ServeFile(w, r, path)
	s.metrics.RecordCacheHit(hash, size)
}

func (s *Server) servePullThroughOrMiss(w http.ResponseWriter, r *http.Request, hash string) {
	if len(s.config.PullThroughUpstreams) == 0 {
		http.NotFound(w, nil)
		return
	}
	data, err := s.pullThrough(r.Context(), hash)
	if err != nil {
		http.NotFound(w, nil)
		return
	}
	setImmutableHeaders(w, hash, int64(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	s.metrics.RecordCacheHit(hash, int64(len(data)))
}

// findMissingRequest/Response implement POST /chunks/find-missing.
type findMissingRequest struct {
	Hashes []string `json:"hashes"`
}

type findMissingResponse struct {
	Missing []string `json:"missing"`
	Invalid []string `json:"invalid"`
}

func (s *Server) handleFindMissing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req findMissingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Hashes) > maxFindMissingHashes {
		http.Error(w, "too many hashes in one request", http.StatusBadRequest)
		return
	}

	resp := findMissingResponse{}
	for _, hash := range req.Hashes {
		if !isValidHash(hash) {
			resp.Invalid = append(resp.Invalid, hash)
			continue
		}
		if !s.bloom.MightContain(hash) || !s.store.Exists(hash) {
			resp.Missing = append(resp.Missing, hash)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// batchRequest/Response implement POST /chunks/batch.
type batchRequest struct {
	Hashes []string `json:"hashes"`
}

type batchResponse struct {
	Chunks  map[string]string `json:"chunks"` // hash -> base64 content
	Missing []string          `json:"missing"`
	Invalid []string          `json:"invalid"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Hashes) > maxBatchFetchHashes {
		http.Error(w, "too many hashes in one request", http.StatusBadRequest)
		return
	}

	resp := batchResponse{Chunks: make(map[string]string)}
	for _, hash := range req.Hashes {
		if !isValidHash(hash) {
			resp.Invalid = append(resp.Invalid, hash)
			continue
		}
		if !s.bloom.MightContain(hash) {
			resp.Missing = append(resp.Missing, hash)
			continue
		}
		data, err := s.store.Get(hash)
		if err != nil {
			resp.Missing = append(resp.Missing, hash)
			continue
		}
		resp.Chunks[hash] = base64.StdEncoding.EncodeToString(data)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
