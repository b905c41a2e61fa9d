// Package deb reads Debian binary packages (.deb): an ar archive holding
// debian-binary, a control member, and a data member.
package deb

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

const arGlobalHeader = "!<arch>\n"

// arEntry is one named member of the ar archive, fully read into memory —
// .deb control/data members are small relative to package payload and the
// ar format has no streaming advantage here.
type arEntry struct {
	name string
	data []byte
}

// readAr parses a System V / GNU ar archive (the format `ar`, and thus
// dpkg-deb, produces).
func readAr(path string) ([]arEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "deb: open package").WithCause(err).WithDetail("path", path)
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, len(arGlobalHeader))
	if _, err := io.ReadFull(f, header); err != nil || string(header) != arGlobalHeader {
		return nil, conaryerrors.New(conaryerrors.KindCorrupt, "deb: not an ar archive").WithDetail("path", path)
	}

	var entries []arEntry
	for {
		entryHeader := make([]byte, 60)
		n, err := io.ReadFull(f, entryHeader)
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			break
		}
		if err != nil {
			return nil, conaryerrors.New(conaryerrors.KindCorrupt, "deb: read ar entry header").WithCause(err)
		}

		name := strings.TrimRight(string(entryHeader[0:16]), " ")
		name = strings.TrimSuffix(name, "/")
		sizeStr := strings.TrimSpace(string(entryHeader[48:58]))
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return nil, conaryerrors.New(conaryerrors.KindCorrupt, "deb: bad ar entry size").WithCause(err).WithDetail("entry", name)
		}

		data := make([]byte, size)
		if _, err := io.ReadFull(f, data); err != nil {
			return nil, conaryerrors.New(conaryerrors.KindCorrupt, "deb: read ar entry body").WithCause(err).WithDetail("entry", name)
		}
		entries = append(entries, arEntry{name: name, data: data})

		if size%2 == 1 {
			if _, err := f.Seek(1, io.SeekCurrent); err != nil {
				return nil, conaryerrors.New(conaryerrors.KindCorrupt, "deb: skip ar padding").WithCause(err)
			}
		}
	}
	return entries, nil
}

func findEntry(entries []arEntry, prefix string) (*arEntry, bool) {
	for i := range entries {
		if strings.HasPrefix(entries[i].name, prefix) {
			return &entries[i], true
		}
	}
	return nil, false
}

func decompressEntry(e *arEntry) (*bytes.Reader, func() error, error) {
	r, closer, err := decompressStream(bytes.NewReader(e.data), e.name)
	if err != nil {
		return nil, nil, err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		_ = closer()
		return nil, nil, conaryerrors.New(conaryerrors.KindCorrupt, "deb: decompress ar member").WithCause(err).WithDetail("entry", e.name)
	}
	return bytes.NewReader(content), closer, nil
}
