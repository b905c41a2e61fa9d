package capability

import "github.com/conarylabs/conary/internal/ingest"

// FromTrove adapts an ingest.Trove into the inputs Infer needs,
// decoupling capability from any particular ingest.Format while still
// letting callers feed it package data straight off the ingest
// pipeline. Directory and symlink entries carry no content and are
// included only for path-pattern evidence (Tier 2/3 read them by
// path; Tier 4 skips them since they never look like an ELF image).
func FromTrove(trove *ingest.Trove) (PackageMetadata, []PackageFile) {
	meta := PackageMetadata{
		Name:    trove.Metadata.Name,
		Version: trove.Metadata.Version,
	}
	for _, dep := range trove.Metadata.Requires {
		meta.Dependencies = append(meta.Dependencies, dep.Name)
	}

	files := make([]PackageFile, 0, len(trove.Files))
	for _, f := range trove.Files {
		files = append(files, PackageFile{Path: f.Path, Mode: f.Mode, Content: f.Contents})
	}
	return meta, files
}
