package rpm

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildTestRPM assembles a minimal but structurally valid RPM file: lead,
// an empty signature header, a main header carrying name/version/arch,
// and a gzip-compressed single-entry cpio payload.
func buildTestRPM(t *testing.T) string {
	t.Helper()

	var buf bytes.Buffer
	lead := make([]byte, 96)
	copy(lead, leadMagic)
	buf.Write(lead)

	buf.Write(writeHeaderSection(nil, true))

	tags := []tagValue{
		{tag: tagName, typ: typeString, value: "hello"},
		{tag: tagVersion, typ: typeString, value: "2.10"},
		{tag: tagRelease, typ: typeString, value: "1"},
		{tag: tagArch, typ: typeString, value: "x86_64"},
		{tag: tagSummary, typ: typeString, value: "hello world program"},
		{tag: tagRequireName, typ: typeStringArr, values: []string{"glibc"}},
		{tag: tagProvideName, typ: typeStringArr, values: []string{"hello"}},
		{tag: tagBaseNames, typ: typeStringArr, values: []string{"hello"}},
		{tag: tagDirNames, typ: typeStringArr, values: []string{"/usr/bin/"}},
		{tag: tagDirIndexes, typ: typeInt32, int32s: []int32{0}},
		{tag: tagFileModes, typ: typeInt16, int32s: []int32{0o100755}},
		{tag: tagFileUserName, typ: typeStringArr, values: []string{"root"}},
		{tag: tagFileGroupName, typ: typeStringArr, values: []string{"root"}},
	}
	buf.Write(writeHeaderSection(tags, false))

	var payload bytes.Buffer
	gz := gzip.NewWriter(&payload)
	writeCPIOEntry(gz, "./usr/bin/hello", 0o100755, []byte("#!/bin/sh\necho hello\n"))
	writeCPIOTrailer(gz)
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	buf.Write(payload.Bytes())

	path := filepath.Join(t.TempDir(), "hello-2.10-1.x86_64.rpm")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write test rpm: %v", err)
	}
	return path
}

type tagValue struct {
	tag    int32
	typ    int32
	value  string
	values []string
	int32s []int32
}

func writeHeaderSection(tags []tagValue, padTo8 bool) []byte {
	var store bytes.Buffer
	type rawEntry struct {
		tag, typ, offset, count int32
	}
	var entries []rawEntry

	for _, tv := range tags {
		offset := int32(store.Len())
		switch tv.typ {
		case typeString:
			store.WriteString(tv.value)
			store.WriteByte(0)
			entries = append(entries, rawEntry{tv.tag, tv.typ, offset, 1})
		case typeStringArr:
			for _, v := range tv.values {
				store.WriteString(v)
				store.WriteByte(0)
			}
			entries = append(entries, rawEntry{tv.tag, tv.typ, offset, int32(len(tv.values))})
		case typeInt32:
			for _, v := range tv.int32s {
				_ = binary.Write(&store, binary.BigEndian, v)
			}
			entries = append(entries, rawEntry{tv.tag, tv.typ, offset, int32(len(tv.int32s))})
		case typeInt16:
			for _, v := range tv.int32s {
				_ = binary.Write(&store, binary.BigEndian, uint16(v))
			}
			entries = append(entries, rawEntry{tv.tag, tv.typ, offset, int32(len(tv.int32s))})
		}
	}

	var out bytes.Buffer
	out.Write(headerMagic)
	out.WriteByte(0x01)
	out.Write(make([]byte, 4))
	_ = binary.Write(&out, binary.BigEndian, int32(len(entries)))
	_ = binary.Write(&out, binary.BigEndian, int32(store.Len()))
	for _, e := range entries {
		_ = binary.Write(&out, binary.BigEndian, [4]int32{e.tag, e.typ, e.offset, e.count})
	}
	out.Write(store.Bytes())

	// Only the signature header's store is padded to an 8-byte boundary;
	// the main header is followed directly by the payload.
	if pad := (8 - (store.Len() % 8)) % 8; padTo8 && pad > 0 {
		out.Write(make([]byte, pad))
	}
	return out.Bytes()
}

func writeCPIOEntry(w *gzip.Writer, name string, mode uint32, contents []byte) {
	header := bytes.Repeat([]byte("0"), 110)
	copy(header, cpioNewcMagic)
	putHex := func(field []byte, v uint32) { copy(field, []byte(padHex(v))) }
	putHex(header[14:22], mode)
	putHex(header[54:62], uint32(len(contents)))
	putHex(header[94:102], uint32(len(name)+1))
	w.Write(header)
	w.Write([]byte(name))
	w.Write([]byte{0})
	total := 110 + len(name) + 1
	if pad := (4 - (total % 4)) % 4; pad > 0 {
		w.Write(make([]byte, pad))
	}
	w.Write(contents)
	if pad := (4 - (len(contents) % 4)) % 4; pad > 0 {
		w.Write(make([]byte, pad))
	}
}

func writeCPIOTrailer(w *gzip.Writer) {
	writeCPIOEntry(w, "TRAILER!!!", 0, nil)
}

func padHex(v uint32) string {
	s := []byte("00000000")
	hex := []byte("0123456789abcdef")
	for i := 7; i >= 0; i-- {
		s[i] = hex[v&0xf]
		v >>= 4
	}
	return string(s)
}

func TestParseMetadata(t *testing.T) {
	path := buildTestRPM(t)
	h, f, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	defer func() { _ = f.Close() }()

	meta := ParseMetadata(h)
	if meta.Name != "hello" || meta.Version != "2.10" || meta.Architecture != "x86_64" {
		t.Fatalf("got %+v", meta)
	}
	if len(meta.Requires) != 1 || meta.Requires[0].Name != "glibc" {
		t.Fatalf("got requires %+v", meta.Requires)
	}
	if len(meta.Provides) != 1 || meta.Provides[0] != "hello" {
		t.Fatalf("got provides %+v", meta.Provides)
	}
}

func TestParseFiles(t *testing.T) {
	path := buildTestRPM(t)
	h, f, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	defer func() { _ = f.Close() }()

	files := ParseFiles(h)
	if len(files) != 1 || files[0].Path != "/usr/bin/hello" {
		t.Fatalf("got %+v", files)
	}
}

func TestExtractCPIO(t *testing.T) {
	path := buildTestRPM(t)
	_, f, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	defer func() { _ = f.Close() }()

	var names []string
	var bodies [][]byte
	if err := ExtractCPIO(f, func(name string, mode uint32, contents []byte) error {
		names = append(names, name)
		bodies = append(bodies, contents)
		return nil
	}); err != nil {
		t.Fatalf("ExtractCPIO: %v", err)
	}
	if len(names) != 1 || names[0] != "usr/bin/hello" {
		t.Fatalf("got names %v", names)
	}
	if string(bodies[0]) != "#!/bin/sh\necho hello\n" {
		t.Fatalf("got body %q", bodies[0])
	}
}
