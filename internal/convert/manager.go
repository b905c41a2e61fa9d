package convert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/conarylabs/conary/internal/cas"
	"github.com/conarylabs/conary/internal/catalog"
	"github.com/conarylabs/conary/internal/metrics"
	conaryerrors "github.com/conarylabs/conary/pkg/errors"
	"github.com/conarylabs/conary/pkg/log"
)

// Manager runs conversion jobs and tracks which (distro, name, version)
// keys currently have one in flight in this process.
type Manager struct {
	catalog   *catalog.Catalog
	store     *cas.Store
	tempDir   string
	chunkSize int64
	metrics   *metrics.Collector
	logger    *log.Logger
	progress  *ProgressStream

	sem chan struct{}

	mu      sync.Mutex
	running map[string]bool // natural key "distro/name/version" -> in flight locally
}

// NewManager builds a Manager. workers bounds concurrent conversions
// (falls back to runtime.NumCPU() when <= 0, matching the capability
// engine's own Tier-4 worker pool default). chunkSize is the fixed chunk
// size a conversion job splits a converted payload into.
func NewManager(cat *catalog.Catalog, store *cas.Store, tempDir string, chunkSize int64, workers int, metricsCollector *metrics.Collector, logger *log.Logger) *Manager {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Manager{
		catalog:   cat,
		store:     store,
		tempDir:   tempDir,
		chunkSize: chunkSize,
		metrics:   metricsCollector,
		logger:    logger,
		progress:  NewProgressStream(),
		sem:       make(chan struct{}, workers),
		running:   make(map[string]bool),
	}
}

// Progress exposes the manager's progress stream so an HTTP server can
// mount ProgressStream.ServeHTTP on a job-id route.
func (m *Manager) Progress() *ProgressStream { return m.progress }

func naturalKey(distro, name, version string) string {
	return distro + "/" + name + "/" + version
}

// RequestConversion starts a conversion job for (distro, name, version) if
// one is not already queued, converting, or ready, and returns the
// catalog row describing its current state. Repeated calls for the same
// key return the same row — this dedup guarantee means a stampede of
// requests for one missing package produces one job, not one per request.
func (m *Manager) RequestConversion(ctx context.Context, distro, name, version, sourcePath string) (*catalog.ConvertedPackage, error) {
	jobID := uuid.New().String()
	row, err := catalog.UpsertConvertedPackage(ctx, m.catalog.DB(), distro, name, version, jobID)
	if err != nil {
		return nil, err
	}

	// A "converting" row with no locally-tracked goroutine means the
	// process that started it is gone (crash or restart) — restart the
	// job rather than leaving it stuck, since no in-memory state survives
	// a process boundary.
	key := naturalKey(distro, name, version)
	m.mu.Lock()
	alreadyRunning := m.running[key]
	shouldStart := !alreadyRunning && row.State != catalog.ConversionReady
	if shouldStart {
		m.running[key] = true
	}
	m.mu.Unlock()

	if !shouldStart {
		return row, nil
	}

	go func() {
		// When the pool is saturated the job queues here, behind the
		// semaphore, rather than blocking the caller's request.
		m.sem <- struct{}{}
		defer func() {
			m.mu.Lock()
			delete(m.running, key)
			m.mu.Unlock()
			<-m.sem
		}()
		m.runJob(context.Background(), row, distro, sourcePath)
	}()

	return row, nil
}

// Status returns the current catalog row for (distro, name, version),
// KindNotFound if no job has ever been started for it.
func (m *Manager) Status(ctx context.Context, distro, name, version string) (*catalog.ConvertedPackage, error) {
	return catalog.FindConvertedPackage(ctx, m.catalog.DB(), distro, name, version)
}

// Chunks returns a ready job's ordered chunk-hash list.
func (m *Manager) Chunks(ctx context.Context, convertedPackageID int64) ([]*catalog.ConvertedPackageChunk, error) {
	return catalog.FindConvertedPackageChunks(ctx, m.catalog.DB(), convertedPackageID)
}

func (m *Manager) runJob(ctx context.Context, row *catalog.ConvertedPackage, distro, sourcePath string) {
	db := m.catalog.DB()

	if err := catalog.UpdateConvertedPackageState(ctx, db, row.ID, catalog.ConversionConverting, ""); err != nil {
		m.logger.Warn("convert: failed to mark job converting", map[string]interface{}{"job_id": row.JobID, "error": err.Error()})
		return
	}
	m.setJobsGauge()
	m.progress.Publish(Event{Type: EventStarted, JobID: row.JobID, Message: "ingesting source package"})

	result, err := m.convert(ctx, distro, sourcePath)
	if err != nil {
		reason := err.Error()
		if conaryerrors.Is(err, conaryerrors.KindCancelled) {
			_ = catalog.UpdateConvertedPackageState(ctx, db, row.ID, catalog.ConversionFailed, "cancelled")
			m.progress.Publish(Event{Type: EventCancelled, JobID: row.JobID, Message: "cancelled"})
		} else {
			_ = catalog.UpdateConvertedPackageState(ctx, db, row.ID, catalog.ConversionFailed, reason)
			m.progress.Publish(Event{Type: EventFailed, JobID: row.JobID, Message: reason})
		}
		if m.metrics != nil {
			m.metrics.RecordError("convert", err)
		}
		m.setJobsGauge()
		return
	}

	if err := catalog.InsertConvertedPackageChunks(ctx, db, row.ID, result.chunkHashes, result.chunkSizes); err != nil {
		_ = catalog.UpdateConvertedPackageState(ctx, db, row.ID, catalog.ConversionFailed, err.Error())
		m.progress.Publish(Event{Type: EventFailed, JobID: row.JobID, Message: err.Error()})
		m.setJobsGauge()
		return
	}
	if err := catalog.CompleteConvertedPackage(ctx, db, row.ID, result.contentHash, result.totalSize); err != nil {
		m.logger.Warn("convert: failed to record completion", map[string]interface{}{"job_id": row.JobID, "error": err.Error()})
		return
	}

	m.progress.Publish(Event{
		Type:    EventCompleted,
		JobID:   row.JobID,
		Message: "conversion complete",
		Detail: map[string]interface{}{
			"content_hash": result.contentHash,
			"total_size":   result.totalSize,
			"chunk_count":  len(result.chunkHashes),
		},
	})
	m.setJobsGauge()
}

func (m *Manager) setJobsGauge() {
	if m.metrics == nil {
		return
	}
	m.mu.Lock()
	inFlight := len(m.running)
	m.mu.Unlock()
	m.metrics.SetConversionJobsInState("converting", inFlight)
}

type conversionResult struct {
	chunkHashes []string
	chunkSizes  []int64
	contentHash string
	totalSize   int64
}

// convert runs the ingest-assemble-chunk-commit pipeline: ingest the
// source package, serialize it as a CCS payload, split that payload into
// fixed-size chunks, and commit every chunk to the CAS.
func (m *Manager) convert(ctx context.Context, distro, sourcePath string) (*conversionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, conaryerrors.New(conaryerrors.KindCancelled, "convert: job cancelled before starting").WithCause(err)
	}

	container, err := buildContainer(ctx, distro, sourcePath)
	if err != nil {
		return nil, err
	}

	payload, err := assemblePayload(m.tempDir, container)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(payload)
	contentHash := hex.EncodeToString(sum[:])

	chunks := chunkPayload(payload, m.chunkSize)
	hashes := make([]string, 0, len(chunks))
	sizes := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, conaryerrors.New(conaryerrors.KindCancelled, "convert: job cancelled mid-chunking").WithCause(err)
		}
		hash, err := m.store.Store(c)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
		sizes = append(sizes, int64(len(c)))
	}

	return &conversionResult{
		chunkHashes: hashes,
		chunkSizes:  sizes,
		contentHash: contentHash,
		totalSize:   int64(len(payload)),
	}, nil
}
