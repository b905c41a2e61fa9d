package chunkserver

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"strings"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// pullThrough fetches a missing chunk from the first configured upstream
// that has it, verifies the fetched bytes hash-match, stores them locally
// in the background (so the caller isn't blocked on the write), and
// returns the verified bytes. Upstream failures degrade to a not-found
// error rather than propagating — a pull-through miss is not itself fatal.
func (s *Server) pullThrough(ctx context.Context, hash string) ([]byte, error) {
	for _, upstream := range s.config.PullThroughUpstreams {
		data, err := s.fetchFromUpstream(ctx, upstream, hash)
		if err != nil {
			s.logger.Warn("pull-through fetch failed", map[string]interface{}{
				"upstream": upstream, "hash": hash, "error": err.Error(),
			})
			continue
		}

		sum := fmt.Sprintf("%x", sha256.Sum256(data))
		if sum != hash {
			s.logger.Error("pull-through hash mismatch", map[string]interface{}{
				"upstream": upstream, "expected": hash, "actual": sum,
			})
			continue
		}

		go s.storeInBackground(hash, data)
		return data, nil
	}
	return nil, conaryerrors.New(conaryerrors.KindNotFound, "chunkserver: chunk not found upstream").
		WithDetail("hash", hash).WithComponent("chunkserver")
}

func (s *Server) fetchFromUpstream(ctx context.Context, upstream, hash string) ([]byte, error) {
	url := strings.TrimRight(upstream, "/") + "/chunks/" + hash

	var body []byte
	err := s.cb.Execute(func() error {
		return s.retry.DoWithContext(ctx, func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return conaryerrors.New(conaryerrors.KindIO, "chunkserver: building upstream request").WithCause(err)
			}
			resp, err := s.client.Do(req)
			if err != nil {
				return conaryerrors.New(conaryerrors.KindIO, "chunkserver: upstream request failed").WithCause(err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusOK {
				return conaryerrors.New(conaryerrors.KindNotFound, "chunkserver: upstream returned non-200").
					WithDetail("status", resp.StatusCode)
			}
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return conaryerrors.New(conaryerrors.KindIO, "chunkserver: reading upstream body").WithCause(err)
			}
			body = data
			return nil
		})
	})
	return body, err
}

func (s *Server) storeInBackground(hash string, data []byte) {
	if err := s.store.Put(hash, data); err != nil {
		s.logger.Warn("failed to store pull-through chunk", map[string]interface{}{
			"hash": hash, "error": err.Error(),
		})
		return
	}
	s.bloom.Add(hash)
	s.index.Put(hash, 0, data)
}
