// Package arch reads Arch Linux packages (.pkg.tar.zst and friends): a
// compressed tar archive containing a .PKGINFO key=value metadata file,
// an optional .INSTALL makepkg-style hook script, and the package's
// payload at the archive root.
package arch

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// Metadata is the format-neutral description read from .PKGINFO.
type Metadata struct {
	Name         string
	Version      string
	Architecture string
	Description  string
	Requires     []Requirement
	Provides     []string
}

// Requirement is one Arch dependency, name plus optional version
// constraint (Arch embeds the operator directly in the value, e.g.
// "glibc>=2.34").
type Requirement struct {
	Name    string
	Version string
}

// FileEntry is one file extracted from the package payload.
type FileEntry struct {
	Path          string
	Mode          uint32
	IsDir         bool
	SymlinkTarget string
	Contents      []byte
}

// Scriptlet is one hook function extracted from .INSTALL, stored
// verbatim as a shell script; Conary's catalog records it by phase the
// same way it records RPM/DEB scriptlets, even though makepkg's
// convention is one shared script file with named functions rather than
// one file per phase.
type Scriptlet struct {
	Phase  string
	Script string
}

func openStream(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, conaryerrors.New(conaryerrors.KindIO, "arch: open package").WithCause(err).WithDetail("path", path)
	}
	switch {
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, nil, conaryerrors.New(conaryerrors.KindCorrupt, "arch: zstd decompress").WithCause(err)
		}
		rc := dec.IOReadCloser()
		return rc, func() error { _ = rc.Close(); return f.Close() }, nil
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, nil, conaryerrors.New(conaryerrors.KindCorrupt, "arch: gzip decompress").WithCause(err)
		}
		return gz, func() error { _ = gz.Close(); return f.Close() }, nil
	case strings.HasSuffix(path, ".tar"):
		return f, f.Close, nil
	default:
		_ = f.Close()
		return nil, nil, conaryerrors.New(conaryerrors.KindIO, "arch: unsupported package compression (only zstd, gzip, and uncompressed tar)").WithDetail("path", path)
	}
}

// ParseMetadata reads .PKGINFO from the package archive.
func ParseMetadata(path string) (Metadata, error) {
	r, closer, err := openStream(path)
	if err != nil {
		return Metadata{}, err
	}
	defer func() { _ = closer() }()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Metadata{}, conaryerrors.New(conaryerrors.KindCorrupt, "arch: read package tar").WithCause(err)
		}
		if strings.TrimPrefix(hdr.Name, "./") != ".PKGINFO" {
			continue
		}
		return parsePkginfo(tr)
	}
	return Metadata{}, conaryerrors.New(conaryerrors.KindCorrupt, "arch: .PKGINFO not found").WithDetail("path", path)
}

func parsePkginfo(r io.Reader) (Metadata, error) {
	meta := Metadata{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch key {
		case "pkgname":
			meta.Name = value
		case "pkgver":
			meta.Version = value
		case "arch":
			meta.Architecture = value
		case "pkgdesc":
			meta.Description = value
		case "depend":
			meta.Requires = append(meta.Requires, splitConstraint(value))
		case "provides":
			name, _ := splitNameVersion(value)
			meta.Provides = append(meta.Provides, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return Metadata{}, conaryerrors.New(conaryerrors.KindCorrupt, "arch: scan .PKGINFO").WithCause(err)
	}
	return meta, nil
}

// splitConstraint splits "glibc>=2.34" into Requirement{Name: "glibc",
// Version: ">=2.34"}.
func splitConstraint(s string) Requirement {
	name, version := splitNameVersion(s)
	return Requirement{Name: name, Version: version}
}

func splitNameVersion(s string) (string, string) {
	for _, op := range []string{">=", "<=", "==", ">", "<", "="} {
		if idx := strings.Index(s, op); idx > 0 {
			return s[:idx], s[idx:]
		}
	}
	return s, ""
}

// ExtractFiles streams every file in the package payload, skipping the
// .PKGINFO/.MTREE/.INSTALL control members.
func ExtractFiles(path string, fn func(FileEntry) error) error {
	r, closer, err := openStream(path)
	if err != nil {
		return err
	}
	defer func() { _ = closer() }()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return conaryerrors.New(conaryerrors.KindCorrupt, "arch: read package tar").WithCause(err)
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		if strings.HasPrefix(name, ".PKGINFO") || strings.HasPrefix(name, ".MTREE") || strings.HasPrefix(name, ".INSTALL") || strings.HasPrefix(name, ".BUILDINFO") {
			continue
		}

		fe := FileEntry{Path: "/" + name, Mode: uint32(hdr.Mode)}
		switch hdr.Typeflag {
		case tar.TypeDir:
			fe.IsDir = true
		case tar.TypeSymlink:
			fe.SymlinkTarget = hdr.Linkname
		case tar.TypeReg:
			contents := make([]byte, hdr.Size)
			if _, err := io.ReadFull(tr, contents); err != nil {
				return conaryerrors.New(conaryerrors.KindCorrupt, "arch: read file body").WithCause(err).WithDetail("path", fe.Path)
			}
			fe.Contents = contents
		default:
			continue
		}
		if err := fn(fe); err != nil {
			return err
		}
	}
}

var installFunctionToPhase = map[string]string{
	"pre_install":   "pre-install",
	"post_install":  "post-install",
	"pre_upgrade":   "pre-install",
	"post_upgrade":  "post-install",
	"pre_remove":    "pre-remove",
	"post_remove":   "post-remove",
}

// ParseScriptlets extracts .INSTALL if present. makepkg's .INSTALL is one
// shell script defining named hook functions rather than one file per
// phase; this reader stores the whole script under every phase whose
// function it defines, since the external scriptlet runner dispatches by
// function name at execution time, not by file identity.
func ParseScriptlets(path string) ([]Scriptlet, error) {
	r, closer, err := openStream(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closer() }()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, conaryerrors.New(conaryerrors.KindCorrupt, "arch: read package tar").WithCause(err)
		}
		if strings.TrimPrefix(hdr.Name, "./") != ".INSTALL" {
			continue
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return nil, conaryerrors.New(conaryerrors.KindCorrupt, "arch: read .INSTALL").WithCause(err)
		}
		script := string(body)
		var out []Scriptlet
		for fn, phase := range installFunctionToPhase {
			if strings.Contains(script, fn+"(") {
				out = append(out, Scriptlet{Phase: phase, Script: script})
			}
		}
		return out, nil
	}
	return nil, nil
}
