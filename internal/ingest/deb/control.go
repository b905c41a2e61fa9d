package deb

import (
	"archive/tar"
	"io"
	"strings"

	"pault.ag/go/debian/control"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// binaryControl is the subset of a debian/control binary paragraph this
// reader cares about, decoded via pault.ag/go/debian/control's
// struct-tag-driven Paragraph decoder.
type binaryControl struct {
	control.Paragraph

	Package      string
	Version      string
	Architecture string
	Description  string
	Depends      string `control:"Depends"`
	PreDepends   string `control:"Pre-Depends"`
	Provides     string `control:"Provides"`
}

// Metadata is the format-neutral description read from a .deb's control
// member.
type Metadata struct {
	Name         string
	Version      string
	Architecture string
	Description  string
	Requires     []Requirement
	Provides     []string
}

// Requirement is one Debian dependency relation, name plus the raw
// version-constraint clause (e.g. ">= 1.2.3") as the control file wrote
// it — Debian's versioned-or clauses are not expanded into separate
// alternatives here.
type Requirement struct {
	Name    string
	Version string
}

// ParseMetadata locates and decodes the control member of path.
func ParseMetadata(path string) (Metadata, error) {
	entries, err := readAr(path)
	if err != nil {
		return Metadata{}, err
	}
	member, ok := findEntry(entries, "control.tar")
	if !ok {
		return Metadata{}, conaryerrors.New(conaryerrors.KindCorrupt, "deb: missing control.tar member").WithDetail("path", path)
	}
	reader, closer, err := decompressEntry(member)
	if err != nil {
		return Metadata{}, err
	}
	defer func() { _ = closer() }()

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Metadata{}, conaryerrors.New(conaryerrors.KindCorrupt, "deb: read control.tar").WithCause(err)
		}
		if strings.TrimPrefix(hdr.Name, "./") != "control" {
			continue
		}

		decoder, err := control.NewDecoder(tr, nil)
		if err != nil {
			return Metadata{}, conaryerrors.New(conaryerrors.KindCorrupt, "deb: control decoder").WithCause(err)
		}
		var bc binaryControl
		if err := decoder.Decode(&bc); err != nil {
			return Metadata{}, conaryerrors.New(conaryerrors.KindCorrupt, "deb: decode control paragraph").WithCause(err)
		}
		return Metadata{
			Name:         bc.Package,
			Version:      bc.Version,
			Architecture: bc.Architecture,
			Description:  bc.Description,
			Requires:     parseRelations(bc.Depends, bc.PreDepends),
			Provides:     parseNameList(bc.Provides),
		}, nil
	}
	return Metadata{}, conaryerrors.New(conaryerrors.KindCorrupt, "deb: control file not found in control.tar").WithDetail("path", path)
}

// parseRelations splits Debian-style comma-separated dependency clauses
// (e.g. "libc6 (>= 2.34), libssl3 | libssl1.1") into one Requirement per
// clause, keeping only the first alternative of an or-clause (the
// strongest, most specific choice) since the dependency resolver works on
// single named requirements, not OR-groups.
func parseRelations(clauses ...string) []Requirement {
	var out []Requirement
	for _, clause := range clauses {
		for _, item := range strings.Split(clause, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			first := strings.TrimSpace(strings.Split(item, "|")[0])
			name, version := splitNameVersion(first)
			out = append(out, Requirement{Name: name, Version: version})
		}
	}
	return out
}

func parseNameList(clause string) []string {
	var out []string
	for _, item := range strings.Split(clause, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, _ := splitNameVersion(item)
		out = append(out, name)
	}
	return out
}

// splitNameVersion separates "name (>= 1.2.3)" into ("name", ">= 1.2.3").
func splitNameVersion(s string) (string, string) {
	open := strings.Index(s, "(")
	if open < 0 {
		return strings.TrimSpace(s), ""
	}
	close := strings.Index(s, ")")
	if close < open {
		return strings.TrimSpace(s), ""
	}
	name := strings.TrimSpace(s[:open])
	version := strings.TrimSpace(s[open+1 : close])
	return name, version
}
