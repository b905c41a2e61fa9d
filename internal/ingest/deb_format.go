package ingest

import (
	"context"
	"strings"

	"github.com/conarylabs/conary/internal/ingest/deb"
	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// debFormat is one of the four sealed implementations of Format.
type debFormat struct{}

func newDEBFormat() Format { return debFormat{} }

func (debFormat) Parse(ctx context.Context, path string) (Metadata, error) {
	meta, err := deb.ParseMetadata(path)
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
		Architecture: debianArchToCanonical(meta.Architecture),
		Description:  meta.Description,
		Requires:     requires,
		Provides:     meta.Provides,
	}, nil
}

func (debFormat) ExtractFiles(ctx context.Context, path string, fn func(FileEntry) error) error {
	return deb.ExtractFiles(path, func(fe deb.FileEntry) error {
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

func (debFormat) Scriptlets(ctx context.Context, path string) ([]Scriptlet, error) {
	scriptlets, err := deb.ParseScriptlets(path)
	if err != nil {
		return nil, err
	}
	out := make([]Scriptlet, 0, len(scriptlets))
	for _, s := range scriptlets {
		phase, ok := rpmPhaseOf(s.Phase) // the phase vocabulary is shared across formats
		if !ok {
			return nil, conaryerrors.New(conaryerrors.KindCorrupt, "deb: unknown scriptlet phase").WithDetail("phase", s.Phase)
		}
		out = append(out, Scriptlet{Phase: phase, Interpreter: "/bin/sh", Script: s.Script})
	}
	return out, nil
}

// debianArchToCanonical maps Debian's architecture names to the same
// vocabulary RPM and Arch packages use (uname-style triplets).
func debianArchToCanonical(arch string) string {
	switch strings.ToLower(arch) {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "i386":
		return "i686"
	case "all":
		return "noarch"
	default:
		return arch
	}
}
