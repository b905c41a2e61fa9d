package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// This mirrors internal/ingest/rpm's own test fixture builder at the
// package boundary, confirming Detect + Format wire correctly end to end.
func buildMinimalRPM(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(append([]byte{0xed, 0xab, 0xee, 0xdb}, make([]byte, 92)...))

	writeSection := func(entries map[int32]struct {
		typ    int32
		values []string
	}) []byte {
		var store bytes.Buffer
		type rawEntry struct{ tag, typ, offset, count int32 }
		var raws []rawEntry
		for tag, e := range entries {
			offset := int32(store.Len())
			for _, v := range e.values {
				store.WriteString(v)
				store.WriteByte(0)
			}
			raws = append(raws, rawEntry{tag, e.typ, offset, int32(len(e.values))})
		}
		var out bytes.Buffer
		out.Write([]byte{0x8e, 0xad, 0xe8, 0x01})
		out.Write(make([]byte, 4))
		_ = binary.Write(&out, binary.BigEndian, int32(len(raws)))
		_ = binary.Write(&out, binary.BigEndian, int32(store.Len()))
		for _, r := range raws {
			_ = binary.Write(&out, binary.BigEndian, [4]int32{r.tag, r.typ, r.offset, r.count})
		}
		out.Write(store.Bytes())
		if pad := (8 - (store.Len() % 8)) % 8; pad > 0 {
			out.Write(make([]byte, pad))
		}
		return out.Bytes()
	}

	buf.Write(writeSection(nil))
	buf.Write(writeSection(map[int32]struct {
		typ    int32
		values []string
	}{
		1000: {typ: 6, values: []string{"hello"}},
		1001: {typ: 6, values: []string{"2.10"}},
		1002: {typ: 6, values: []string{"1"}},
		1022: {typ: 6, values: []string{"x86_64"}},
		1004: {typ: 6, values: []string{"hello program"}},
	}))

	var payload bytes.Buffer
	gz := gzip.NewWriter(&payload)
	_ = gz.Close()
	buf.Write(payload.Bytes())

	path := filepath.Join(t.TempDir(), "hello.rpm")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDetectRPM(t *testing.T) {
	f, err := Detect("/tmp/foo-1.0.rpm")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := f.(rpmFormat); !ok {
		t.Fatalf("expected rpmFormat, got %T", f)
	}
}

func TestRPMFormatParse(t *testing.T) {
	path := buildMinimalRPM(t)
	f := newRPMFormat()
	meta, err := f.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if meta.Name != "hello" || meta.Version != "2.10-1" || meta.Architecture != "x86_64" {
		t.Fatalf("got %+v", meta)
	}
}

func TestDetectUnknownFormat(t *testing.T) {
	if _, err := Detect("/tmp/mystery.bin"); err == nil {
		t.Fatalf("expected error for unrecognized format")
	}
}
