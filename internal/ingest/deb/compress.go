package deb

import (
	"compress/gzip"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// decompressStream returns a reader over name's decompressed bytes,
// chosen by its suffix. xz-compressed members (used by some modern
// `dpkg-deb` builds) are not supported — no xz decoder appears anywhere
// in the retrieved corpus, and adding one only for this edge case would
// mean reaching outside the grounded dependency set.
func decompressStream(r io.Reader, name string) (io.Reader, func() error, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, conaryerrors.New(conaryerrors.KindCorrupt, "deb: gzip decompress").WithCause(err).WithDetail("entry", name)
		}
		return gz, gz.Close, nil
	case strings.HasSuffix(name, ".zst"):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, conaryerrors.New(conaryerrors.KindCorrupt, "deb: zstd decompress").WithCause(err).WithDetail("entry", name)
		}
		return dec.IOReadCloser(), dec.IOReadCloser().Close, nil
	case strings.HasSuffix(name, ".tar"):
		return r, func() error { return nil }, nil
	default:
		return nil, nil, conaryerrors.New(conaryerrors.KindIO, "deb: unsupported member compression").WithDetail("entry", name)
	}
}
