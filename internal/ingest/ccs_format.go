package ingest

import (
	"context"

	"github.com/conarylabs/conary/internal/ingest/ccs"
	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// ccsFormat is one of the four sealed implementations of Format. Unlike
// RPM/DEB/Arch, a CCS container's files are already content-addressed and
// its manifest already names dependencies and provides with no
// platform-specific encoding to normalize — this implementation is
// mostly a direct field mapping.
type ccsFormat struct{}

func newCCSFormat() Format { return ccsFormat{} }

func (ccsFormat) Parse(ctx context.Context, path string) (Metadata, error) {
	c, err := ccs.ReadContainer(path)
	if err != nil {
		return Metadata{}, err
	}
	requires := make([]DependencyConstraint, 0, len(c.Manifest.Requires))
	for _, r := range c.Manifest.Requires {
		requires = append(requires, DependencyConstraint{Name: r})
	}
	return Metadata{
		Name:         c.Manifest.Name,
		Version:      c.Manifest.Version,
		Architecture: c.Manifest.Platform.Arch,
		Description:  c.Manifest.Description,
		Requires:     requires,
		Provides:     c.Manifest.Provides,
	}, nil
}

func (ccsFormat) ExtractFiles(ctx context.Context, path string, fn func(FileEntry) error) error {
	c, err := ccs.ReadContainer(path)
	if err != nil {
		return err
	}
	for _, list := range c.Components {
		for _, cf := range list.Files {
			fileType := FileTypeRegular
			var contents []byte
			switch {
			case cf.IsDir:
				fileType = FileTypeDirectory
			case cf.SymlinkTarget != "":
				fileType = FileTypeSymlink
			default:
				body, ok := c.Objects[cf.Hash]
				if !ok {
					return conaryerrors.New(conaryerrors.KindNotFound, "ccs: referenced object missing from container").
						WithDetail("path", cf.Path).WithDetail("hash", cf.Hash)
				}
				contents = body
			}
			if err := fn(FileEntry{
				Path:          cf.Path,
				Mode:          cf.Mode,
				Type:          fileType,
				SymlinkTarget: cf.SymlinkTarget,
				Contents:      contents,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Scriptlets always returns empty: CCS packages express lifecycle
// behavior as the manifest's declarative hooks, not imperative scripts,
// so there is nothing for the external scriptlet runner to execute.
func (ccsFormat) Scriptlets(ctx context.Context, path string) ([]Scriptlet, error) {
	return nil, nil
}
