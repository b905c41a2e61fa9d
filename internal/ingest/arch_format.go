package ingest

import (
	"context"

	"github.com/conarylabs/conary/internal/ingest/arch"
	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// archFormat is one of the four sealed implementations of Format.
type archFormat struct{}

func newArchFormat() Format { return archFormat{} }

func (archFormat) Parse(ctx context.Context, path string) (Metadata, error) {
	meta, err := arch.ParseMetadata(path)
	if err != nil {
		return Metadata{}, err
	}
	requires := make([]DependencyConstraint, 0, len(meta.Requires))
	for _, r := range meta.Requires {
		requires = append(requires, DependencyConstraint{Name: r.Name, Constraint: r.Version})
	}
	return Metadata{
		Name:         meta.Name,
		Version:      meta.Version,
		Architecture: meta.Architecture,
		Description:  meta.Description,
		Requires:     requires,
		Provides:     meta.Provides,
	}, nil
}

func (archFormat) ExtractFiles(ctx context.Context, path string, fn func(FileEntry) error) error {
	return arch.ExtractFiles(path, func(fe arch.FileEntry) error {
		fileType := FileTypeRegular
		switch {
		case fe.IsDir:
			fileType = FileTypeDirectory
		case fe.SymlinkTarget != "":
			fileType = FileTypeSymlink
		}
		return fn(FileEntry{
			Path:          fe.Path,
			Mode:          fe.Mode,
			Type:          fileType,
			SymlinkTarget: fe.SymlinkTarget,
			Contents:      fe.Contents,
		})
	})
}

func (archFormat) Scriptlets(ctx context.Context, path string) ([]Scriptlet, error) {
	scriptlets, err := arch.ParseScriptlets(path)
	if err != nil {
		return nil, err
	}
	out := make([]Scriptlet, 0, len(scriptlets))
	for _, s := range scriptlets {
		phase, ok := rpmPhaseOf(s.Phase)
		if !ok {
			return nil, conaryerrors.New(conaryerrors.KindCorrupt, "arch: unknown scriptlet phase").WithDetail("phase", s.Phase)
		}
		out = append(out, Scriptlet{Phase: phase, Interpreter: "/bin/sh", Script: s.Script})
	}
	return out, nil
}
