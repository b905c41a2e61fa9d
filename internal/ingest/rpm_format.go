package ingest

import (
	"context"
	"strings"

	"github.com/conarylabs/conary/internal/ingest/rpm"
	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// rpmFormat is one of the four sealed implementations of Format.
type rpmFormat struct{}

func newRPMFormat() Format { return rpmFormat{} }

func (rpmFormat) Parse(ctx context.Context, path string) (Metadata, error) {
	h, f, err := rpm.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	defer func() { _ = f.Close() }()

	meta := rpm.ParseMetadata(h)
	requires := make([]DependencyConstraint, 0, len(meta.Requires))
	for _, r := range meta.Requires {
		requires = append(requires, DependencyConstraint{Name: r.Name, Constraint: r.Version})
	}
	return Metadata{
		Name:         meta.Name,
		Version:      joinVersionRelease(meta.Version, meta.Release),
		Architecture: meta.Architecture,
		Description:  meta.Summary,
		Requires:     requires,
		Provides:     meta.Provides,
	}, nil
}

func (rpmFormat) ExtractFiles(ctx context.Context, path string, fn func(FileEntry) error) error {
	h, f, err := rpm.ReadFile(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	files := rpm.ParseFiles(h)
	byPath := make(map[string]rpm.FileInfo, len(files))
	for _, fi := range files {
		byPath[strings.TrimPrefix(fi.Path, "/")] = fi
	}

	return rpm.ExtractCPIO(f, func(name string, mode uint32, contents []byte) error {
		fi, known := byPath[name]
		fileType := FileTypeRegular
		symlinkTarget := ""
		if known && fi.LinkTarget != "" {
			fileType = FileTypeSymlink
			symlinkTarget = fi.LinkTarget
		}
		if mode&0o170000 == 0o040000 { // S_IFDIR
			fileType = FileTypeDirectory
			contents = nil
		}
		resolvedMode := mode & 0o7777
		if known {
			resolvedMode = fi.Mode
		}
		return fn(FileEntry{
			Path:          "/" + name,
			Mode:          resolvedMode,
			Type:          fileType,
			SymlinkTarget: symlinkTarget,
			Contents:      contents,
		})
	})
}

func (rpmFormat) Scriptlets(ctx context.Context, path string) ([]Scriptlet, error) {
	h, f, err := rpm.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	rpmScriptlets := rpm.ParseScriptlets(h)
	out := make([]Scriptlet, 0, len(rpmScriptlets))
	for _, s := range rpmScriptlets {
		phase, ok := rpmPhaseOf(s.Phase)
		if !ok {
			return nil, conaryerrors.New(conaryerrors.KindCorrupt, "rpm: unknown scriptlet phase").WithDetail("phase", s.Phase)
		}
		out = append(out, Scriptlet{Phase: phase, Interpreter: s.Interpreter, Script: s.Script})
	}
	return out, nil
}

func rpmPhaseOf(phase string) (ScriptletPhase, bool) {
	switch phase {
	case "pre-install":
		return ScriptletPreInstall, true
	case "post-install":
		return ScriptletPostInstall, true
	case "pre-remove":
		return ScriptletPreRemove, true
	case "post-remove":
		return ScriptletPostRemove, true
	default:
		return "", false
	}
}

func joinVersionRelease(version, release string) string {
	if release == "" {
		return version
	}
	return version + "-" + release
}
