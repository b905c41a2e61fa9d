// Package ingest extracts foreign package formats (RPM, DEB, Arch, CCS)
// into the canonical trove representation the transaction engine commits.
// Format is a sealed interface: exactly four implementing types exist
// (unexported, one per sub-package), selected by Detect. Conflict and
// upgrade semantics are not this package's concern — the transaction
// engine enforces those when the resulting ops are applied.
package ingest

import (
	"context"
	"path/filepath"
	"strings"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// FileType mirrors catalog.FileType without importing the catalog
// package, keeping ingest usable before a trove ever touches the
// database.
type FileType int

const (
	FileTypeRegular FileType = iota
	FileTypeSymlink
	FileTypeDirectory
)

// FileEntry is one file extracted from a foreign package payload.
type FileEntry struct {
	Path          string
	Mode          uint32
	Type          FileType
	SymlinkTarget string
	Contents      []byte // nil for directories and symlinks
}

// DependencyConstraint is a single named requirement with an optional
// version constraint string, format-agnostic (RPM/DEB/Arch each encode
// these differently on the wire; Parse normalizes to this shape).
type DependencyConstraint struct {
	Name       string
	Constraint string
}

// ScriptletPhase enumerates the lifecycle points a foreign package may
// hook; stored verbatim in the catalog and executed by an external
// scriptlet runner — ingest never executes script bodies itself.
type ScriptletPhase string

const (
	ScriptletPreInstall  ScriptletPhase = "pre-install"
	ScriptletPostInstall ScriptletPhase = "post-install"
	ScriptletPreRemove   ScriptletPhase = "pre-remove"
	ScriptletPostRemove  ScriptletPhase = "post-remove"
)

// Scriptlet is one lifecycle hook extracted verbatim from the source
// package.
type Scriptlet struct {
	Phase       ScriptletPhase
	Interpreter string
	Script      string
}

// Metadata is the format-neutral description parse() produces, before
// files are extracted or hashed.
type Metadata struct {
	Name         string
	Version      string
	Architecture string
	Description  string
	Requires     []DependencyConstraint
	Provides     []string
}

// Trove is the canonical internal representation to_trove() produces,
// independent of source format. It intentionally mirrors
// catalog.Trove's shape loosely rather than importing it — ingest runs
// before anything is committed, and keeping the two decoupled lets a
// format implementation be tested without a catalog.
type Trove struct {
	Metadata   Metadata
	Files      []FileEntry
	Scriptlets []Scriptlet
}

// Format is implemented by exactly four unexported types: rpmFormat,
// debFormat, archFormat, ccsFormat. New formats are added by extending
// the switch in Detect, never by registering an implementation
// dynamically.
type Format interface {
	// Parse reads package metadata without materializing file contents.
	Parse(ctx context.Context, path string) (Metadata, error)
	// ExtractFiles reads every file in the payload, calling fn for
	// each. The RPM and Arch implementations stream the archive; the DEB
	// and CCS implementations read the whole data member or container
	// into memory before the first call to fn.
	ExtractFiles(ctx context.Context, path string, fn func(FileEntry) error) error
	// Scriptlets returns the lifecycle hooks embedded in the package.
	Scriptlets(ctx context.Context, path string) ([]Scriptlet, error)
}

// ToTrove runs the full pipeline (parse, extract, scriptlets) and
// assembles the canonical Trove value.
func ToTrove(ctx context.Context, f Format, path string) (*Trove, error) {
	meta, err := f.Parse(ctx, path)
	if err != nil {
		return nil, err
	}
	var files []FileEntry
	if err := f.ExtractFiles(ctx, path, func(fe FileEntry) error {
		files = append(files, fe)
		return nil
	}); err != nil {
		return nil, err
	}
	scriptlets, err := f.Scriptlets(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Trove{Metadata: meta, Files: files, Scriptlets: scriptlets}, nil
}

// Detect picks a Format implementation from a file's extension alone;
// the file's magic bytes are not inspected. It is the single dispatch point over the sealed sum of
// formats — nothing elsewhere in this package or its callers switches
// on format again.
func Detect(path string) (Format, error) {
	switch {
	case strings.HasSuffix(path, ".rpm"):
		return newRPMFormat(), nil
	case strings.HasSuffix(path, ".deb"):
		return newDEBFormat(), nil
	case strings.HasSuffix(path, ".pkg.tar.zst"), strings.HasSuffix(path, ".pkg.tar.xz"), strings.HasSuffix(path, ".pkg.tar.gz"):
		return newArchFormat(), nil
	case strings.HasSuffix(path, ".ccs"):
		return newCCSFormat(), nil
	default:
		return nil, conaryerrors.New(conaryerrors.KindIO, "ingest: unrecognized package format").
			WithDetail("path", path).WithDetail("ext", filepath.Ext(path))
	}
}
