package convert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sort"

	"github.com/conarylabs/conary/internal/ingest"
	"github.com/conarylabs/conary/internal/ingest/ccs"
	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// runtimeComponent is the single component name a converted foreign
// package is assembled under. RPM/DEB/Arch have no native concept of
// Conary's multi-component split, so conversion deliberately produces one
// "runtime" component per package rather than guessing a split — a later,
// native re-ingest can still introduce components.
const runtimeComponent = "runtime"

// buildContainer runs the ingest pipeline against sourcePath and
// assembles the result into an in-memory CCS container, ready for
// ccs.WriteContainer.
func buildContainer(ctx context.Context, distro, sourcePath string) (*ccs.Container, error) {
	format, err := ingest.Detect(sourcePath)
	if err != nil {
		return nil, err
	}
	trove, err := ingest.ToTrove(ctx, format, sourcePath)
	if err != nil {
		return nil, err
	}

	fileList := ccs.ComponentFileList{}
	objects := make(map[string][]byte)
	for _, fe := range trove.Files {
		cf := ccs.ComponentFile{
			Path:          fe.Path,
			Mode:          fe.Mode,
			SymlinkTarget: fe.SymlinkTarget,
			IsDir:         fe.Type == ingest.FileTypeDirectory,
		}
		if fe.Type == ingest.FileTypeRegular {
			sum := sha256.Sum256(fe.Contents)
			cf.Hash = hex.EncodeToString(sum[:])
			objects[cf.Hash] = fe.Contents
		}
		fileList.Files = append(fileList.Files, cf)
	}

	requires := make([]string, 0, len(trove.Metadata.Requires))
	for _, r := range trove.Metadata.Requires {
		requires = append(requires, r.Name)
	}

	componentHash, err := hashComponentFileList(fileList)
	if err != nil {
		return nil, err
	}

	manifest := &ccs.Manifest{
		Name:        trove.Metadata.Name,
		Version:     trove.Metadata.Version,
		Description: trove.Metadata.Description,
		Platform:    ccs.Platform{OS: distro, Arch: trove.Metadata.Architecture},
		Provides:    trove.Metadata.Provides,
		Requires:    requires,
		Components:  map[string]string{runtimeComponent: componentHash},
	}

	return &ccs.Container{
		Manifest:   manifest,
		Components: map[string]ccs.ComponentFileList{runtimeComponent: fileList},
		Objects:    objects,
	}, nil
}

// hashComponentFileList derives a component's content hash from its file
// list deterministically: paths are sorted first so map/slice build order
// never changes the hash, matching ComputeContentRoot's own
// order-independence guarantee one level up.
func hashComponentFileList(list ccs.ComponentFileList) (string, error) {
	sorted := append([]ccs.ComponentFile(nil), list.Files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	b, err := json.Marshal(sorted)
	if err != nil {
		return "", conaryerrors.New(conaryerrors.KindIO, "convert: hash component file list").WithCause(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// assemblePayload writes the container to a temp file under dir, reads the
// resulting bytes back, and removes the temp file. The round trip through
// disk (rather than building the gzipped tar purely in memory) reuses
// ccs.WriteContainer as-is instead of forking it into a second,
// io.Writer-based variant.
func assemblePayload(dir string, container *ccs.Container) ([]byte, error) {
	f, err := os.CreateTemp(dir, "convert-payload-*.ccs")
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "convert: create payload temp file").WithCause(err)
	}
	tmpPath := f.Name()
	_ = f.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := ccs.WriteContainer(tmpPath, container); err != nil {
		return nil, err
	}

	payload, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "convert: read assembled payload").WithCause(err)
	}
	return payload, nil
}

// chunkPayload splits payload into fixed-size pieces, the last one
// possibly short.
func chunkPayload(payload []byte, chunkSize int64) [][]byte {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	var chunks [][]byte
	for off := int64(0); off < int64(len(payload)); off += chunkSize {
		end := off + chunkSize
		if end > int64(len(payload)) {
			end = int64(len(payload))
		}
		chunks = append(chunks, payload[off:end])
	}
	return chunks
}
