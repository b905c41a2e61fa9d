package convert

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/conarylabs/conary/internal/catalog"
)

// jobResponse is the body returned for a queued or in-progress job: a job
// id and poll URL the client re-issues the GET against.
type jobResponse struct {
	JobID       string `json:"job_id"`
	PollURL     string `json:"poll_url"`
	ProgressURL string `json:"progress_url"`
	State       string `json:"state"`
}

// readyResponse is the body returned once a job is ready: the manifest
// data a client needs to reassemble the package from chunks it can then
// fetch from the chunk server.
type readyResponse struct {
	ContentHash string        `json:"content_hash"`
	TotalSize   int64         `json:"total_size"`
	Chunks      []chunkRecord `json:"chunks"`
}

type chunkRecord struct {
	Seq  int    `json:"seq"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// HandlePackageRequest implements GET /packages/<distro>/<name>
// contract: resolvedSourcePath is the already-located foreign package
// artifact a caller (a repository mirror lookup, or a locally cached
// upload) resolved for (distro, name, version) before routing here — this
// handler's only concern is the job state machine and its HTTP surface,
// not where source packages come from.
func (m *Manager) HandlePackageRequest(w http.ResponseWriter, r *http.Request, distro, name, version, resolvedSourcePath string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// RequestConversion is idempotent: it upserts the (distro, name,
	// version) job row and only starts a goroutine when the state machine
	// is not already queued/converting/ready, so it is safe to call on
	// every request including ones for a job already in flight or
	// restarted after a process restart.
	row, err := m.RequestConversion(r.Context(), distro, name, version, resolvedSourcePath)
	if err != nil {
		http.Error(w, "failed to start conversion", http.StatusInternalServerError)
		return
	}

	switch row.State {
	case catalog.ConversionQueued, catalog.ConversionConverting:
		writeJob(w, row, http.StatusAccepted)
	case catalog.ConversionFailed:
		http.Error(w, "conversion failed: "+row.FailureReason.String, http.StatusInternalServerError)
	case catalog.ConversionReady:
		m.writeReady(w, r, row)
	default:
		writeJob(w, row, http.StatusAccepted)
	}
}

func writeJob(w http.ResponseWriter, row *catalog.ConvertedPackage, status int) {
	writeJSON(w, status, jobResponse{
		JobID:       row.JobID,
		PollURL:     "/packages/" + row.Distro + "/" + row.Name + "?version=" + row.Version,
		ProgressURL: "/packages/" + row.Distro + "/" + row.Name + "/progress?job=" + row.JobID,
		State:       string(row.State),
	})
}

func (m *Manager) writeReady(w http.ResponseWriter, r *http.Request, row *catalog.ConvertedPackage) {
	if r.URL.Query().Get("format") == "manifest" || r.URL.Query().Get("stream") == "" {
		chunks, err := m.Chunks(r.Context(), row.ID)
		if err != nil {
			http.Error(w, "failed to load chunk list", http.StatusInternalServerError)
			return
		}
		resp := readyResponse{ContentHash: row.ContentHash.String, TotalSize: row.TotalSize.Int64}
		for _, c := range chunks {
			resp.Chunks = append(resp.Chunks, chunkRecord{Seq: c.Seq, Hash: c.ChunkHash, Size: c.ChunkSize})
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	m.streamAssembled(w, r, row)
}

// streamAssembled concatenates a ready job's chunks in order and streams
// the reassembled CCS payload, used when a client passes stream=1 instead
// of asking for the manifest form.
func (m *Manager) streamAssembled(w http.ResponseWriter, r *http.Request, row *catalog.ConvertedPackage) {
	chunks, err := m.Chunks(r.Context(), row.ID)
	if err != nil {
		http.Error(w, "failed to load chunk list", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(row.TotalSize.Int64, 10))
	w.WriteHeader(http.StatusOK)

	for _, c := range chunks {
		data, err := m.store.Read(c.ChunkHash)
		if err != nil {
			return // client already has a partial body; nothing more to do
		}
		if _, err := w.Write(data); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
