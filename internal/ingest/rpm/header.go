// Package rpm reads RPM package headers and payloads. It implements just
// enough of the RPM file format to extract metadata, dependency lists, and
// the cpio payload — it is not a general-purpose RPM toolkit.
package rpm

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// Well-known RPM header tags (rpmtag.h), limited to the ones this reader
// needs.
const (
	tagName          = 1000
	tagVersion       = 1001
	tagRelease       = 1002
	tagSummary       = 1004
	tagDescription   = 1005
	tagOS            = 1021
	tagArch          = 1022
	tagPreInProg     = 1085
	tagPostInProg    = 1086
	tagPreUnProg     = 1087
	tagPostUnProg    = 1088
	tagPreIn         = 1023
	tagPostIn        = 1024
	tagPreUn         = 1025
	tagPostUn        = 1026
	tagFileSizes     = 1028
	tagFileModes     = 1030
	tagFileLinkTos   = 1036
	tagFileUserName  = 1039
	tagFileGroupName = 1040
	tagProvideName   = 1047
	tagRequireName   = 1049
	tagRequireVer    = 1050
	tagDirIndexes    = 1116
	tagBaseNames     = 1117
	tagDirNames      = 1118
)

const (
	typeChar      = 1
	typeInt8      = 2
	typeInt16     = 3
	typeInt32     = 4
	typeInt64     = 5
	typeString    = 6
	typeBin       = 7
	typeStringArr = 8
	typeI18NStr   = 9
)

var leadMagic = []byte{0xed, 0xab, 0xee, 0xdb}
var headerMagic = []byte{0x8e, 0xad, 0xe8}

type indexEntry struct {
	tag, typ, offset, count int32
}

// Header is a parsed RPM header section (the index plus its data store),
// queried by tag.
type Header struct {
	entries map[int32]indexEntry
	store   []byte
}

// ReadFile opens path, skips the 96-byte lead and signature header, and
// parses the main header section.
func ReadFile(path string) (*Header, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, conaryerrors.New(conaryerrors.KindIO, "rpm: open package").WithCause(err).WithDetail("path", path)
	}
	lead := make([]byte, 96)
	if _, err := io.ReadFull(f, lead); err != nil {
		_ = f.Close()
		return nil, nil, conaryerrors.New(conaryerrors.KindCorrupt, "rpm: read lead").WithCause(err)
	}
	if !bytes.Equal(lead[:4], leadMagic) {
		_ = f.Close()
		return nil, nil, conaryerrors.New(conaryerrors.KindCorrupt, "rpm: bad lead magic").WithDetail("path", path)
	}

	// Signature header: parsed only to compute its length so the main
	// header can be located; its contents (PGP signatures, header+payload
	// digests) are not surfaced by this reader.
	sigHeader, sigStoreLen, err := readHeaderSection(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	_ = sigHeader
	// The signature header's data store is padded to an 8-byte boundary.
	pad := (8 - (sigStoreLen % 8)) % 8
	if pad > 0 {
		if _, err := f.Seek(int64(pad), io.SeekCurrent); err != nil {
			_ = f.Close()
			return nil, nil, conaryerrors.New(conaryerrors.KindCorrupt, "rpm: seek signature padding").WithCause(err)
		}
	}

	mainEntries, store, err := readHeaderEntries(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}

	h := &Header{entries: mainEntries, store: store}
	return h, f, nil
}

// readHeaderSection reads one header's index+store and returns the store
// length (needed by the caller to compute padding); the entries are
// discarded by callers only interested in section length (the signature
// header).
func readHeaderSection(r io.Reader) (map[int32]indexEntry, int32, error) {
	entries, store, err := readHeaderEntries(r)
	if err != nil {
		return nil, 0, err
	}
	return entries, int32(len(store)), nil
}

func readHeaderEntries(r io.Reader) (map[int32]indexEntry, []byte, error) {
	// Header intro: 3-byte magic, 1-byte version, 4 reserved bytes.
	magic := make([]byte, 8)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, nil, conaryerrors.New(conaryerrors.KindCorrupt, "rpm: read header magic").WithCause(err)
	}
	if !bytes.Equal(magic[:3], headerMagic) {
		return nil, nil, conaryerrors.New(conaryerrors.KindCorrupt, "rpm: bad header magic")
	}

	var counts [2]int32
	if err := binary.Read(r, binary.BigEndian, &counts); err != nil {
		return nil, nil, conaryerrors.New(conaryerrors.KindCorrupt, "rpm: read header counts").WithCause(err)
	}
	nindex, hsize := counts[0], counts[1]

	entries := make(map[int32]indexEntry, nindex)
	for i := int32(0); i < nindex; i++ {
		var raw [4]int32
		if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
			return nil, nil, conaryerrors.New(conaryerrors.KindCorrupt, "rpm: read index entry").WithCause(err)
		}
		entries[raw[0]] = indexEntry{tag: raw[0], typ: raw[1], offset: raw[2], count: raw[3]}
	}

	store := make([]byte, hsize)
	if _, err := io.ReadFull(r, store); err != nil {
		return nil, nil, conaryerrors.New(conaryerrors.KindCorrupt, "rpm: read header store").WithCause(err)
	}
	return entries, store, nil
}

// String returns a single string-typed tag's value.
func (h *Header) String(tag int32) (string, bool) {
	e, ok := h.entries[tag]
	if !ok {
		return "", false
	}
	switch e.typ {
	case typeString, typeI18NStr:
		return cString(h.store[e.offset:]), true
	default:
		return "", false
	}
}

// StringArray returns a string-array-typed tag's values.
func (h *Header) StringArray(tag int32) []string {
	e, ok := h.entries[tag]
	if !ok || e.typ != typeStringArr {
		return nil
	}
	out := make([]string, 0, e.count)
	off := e.offset
	for i := int32(0); i < e.count; i++ {
		s := cString(h.store[off:])
		out = append(out, s)
		off += int32(len(s)) + 1
	}
	return out
}

// Int32Array returns an int32-typed tag's values, widening int16 storage
// where needed (RPM stores file modes as INT16).
func (h *Header) Int32Array(tag int32) []int32 {
	e, ok := h.entries[tag]
	if !ok {
		return nil
	}
	out := make([]int32, 0, e.count)
	switch e.typ {
	case typeInt16:
		off := e.offset
		for i := int32(0); i < e.count; i++ {
			out = append(out, int32(binary.BigEndian.Uint16(h.store[off:off+2])))
			off += 2
		}
	case typeInt32:
		off := e.offset
		for i := int32(0); i < e.count; i++ {
			out = append(out, int32(binary.BigEndian.Uint32(h.store[off:off+4])))
			off += 4
		}
	}
	return out
}

func cString(b []byte) string {
	n := bytes.IndexByte(b, 0)
	if n < 0 {
		return string(b)
	}
	return string(b[:n])
}
