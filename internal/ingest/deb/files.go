package deb

import (
	"archive/tar"
	"io"
	"strings"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// FileEntry is one file extracted from a .deb's data member.
type FileEntry struct {
	Path          string
	Mode          uint32
	IsDir         bool
	SymlinkTarget string
	Contents      []byte
}

// ExtractFiles streams every entry of the data.tar member, calling fn for
// each.
func ExtractFiles(path string, fn func(FileEntry) error) error {
	entries, err := readAr(path)
	if err != nil {
		return err
	}
	member, ok := findEntry(entries, "data.tar")
	if !ok {
		return conaryerrors.New(conaryerrors.KindCorrupt, "deb: missing data.tar member").WithDetail("path", path)
	}
	reader, closer, err := decompressEntry(member)
	if err != nil {
		return err
	}
	defer func() { _ = closer() }()

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return conaryerrors.New(conaryerrors.KindCorrupt, "deb: read data.tar").WithCause(err)
		}

		name := "/" + strings.TrimPrefix(strings.TrimPrefix(hdr.Name, "./"), "/")
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fn(FileEntry{Path: name, Mode: uint32(hdr.Mode), IsDir: true}); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := fn(FileEntry{Path: name, Mode: uint32(hdr.Mode), SymlinkTarget: hdr.Linkname}); err != nil {
				return err
			}
		case tar.TypeReg:
			contents := make([]byte, hdr.Size)
			if _, err := io.ReadFull(tr, contents); err != nil {
				return conaryerrors.New(conaryerrors.KindCorrupt, "deb: read file body").WithCause(err).WithDetail("path", name)
			}
			if err := fn(FileEntry{Path: name, Mode: uint32(hdr.Mode), Contents: contents}); err != nil {
				return err
			}
		}
	}
}
