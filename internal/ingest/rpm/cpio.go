package rpm

import (
	"compress/gzip"
	"io"
	"strconv"
	"strings"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// cpioNewcMagic is the magic for the "new ASCII" cpio format RPM payloads
// use.
const cpioNewcMagic = "070701"

// cpioEntry is one decoded cpio newc header, fields kept as parsed
// unsigned values (everything in a newc header is 8 hex ASCII chars).
type cpioEntry struct {
	mode     uint32
	fileSize uint32
	name     string
}

// ExtractCPIO decompresses an RPM payload (gzip only — xz/zstd payloads
// are not supported by this reader) and calls fn for every entry
// (directories and symlinks included), in on-disk order, with the
// leading "./" stripped from its name. The cpio trailer entry
// ("TRAILER!!!") ends the stream.
func ExtractCPIO(r io.Reader, fn func(name string, mode uint32, contents []byte) error) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "rpm: payload is not gzip-compressed; unsupported compression").WithCause(err)
	}
	defer func() { _ = gz.Close() }()

	for {
		entry, err := readCPIOHeader(gz)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if entry.name == "TRAILER!!!" {
			return nil
		}

		contents := make([]byte, entry.fileSize)
		if _, err := io.ReadFull(gz, contents); err != nil {
			return conaryerrors.New(conaryerrors.KindCorrupt, "rpm: read cpio file body").WithCause(err).WithDetail("name", entry.name)
		}
		if pad := (4 - (entry.fileSize % 4)) % 4; pad > 0 {
			if _, err := io.CopyN(io.Discard, gz, int64(pad)); err != nil {
				return conaryerrors.New(conaryerrors.KindCorrupt, "rpm: skip cpio body padding").WithCause(err)
			}
		}

		if err := fn(entry.name, entry.mode, contents); err != nil {
			return err
		}
	}
}

func readCPIOHeader(r io.Reader) (*cpioEntry, error) {
	header := make([]byte, 110)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	if string(header[:6]) != cpioNewcMagic {
		return nil, conaryerrors.New(conaryerrors.KindCorrupt, "rpm: bad cpio magic").WithDetail("magic", string(header[:6]))
	}

	hex := func(field string) uint32 {
		v, _ := strconv.ParseUint(field, 16, 32)
		return uint32(v)
	}
	mode := hex(string(header[14:22]))
	fileSize := hex(string(header[54:62]))
	nameSize := hex(string(header[94:102]))

	nameBuf := make([]byte, nameSize)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return nil, conaryerrors.New(conaryerrors.KindCorrupt, "rpm: read cpio name").WithCause(err)
	}
	name := strings.TrimRight(string(nameBuf), "\x00")

	// Header (110 bytes) + name, including its NUL, is padded to a
	// 4-byte boundary.
	total := 110 + int(nameSize)
	if pad := (4 - (total % 4)) % 4; pad > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(pad)); err != nil {
			return nil, conaryerrors.New(conaryerrors.KindCorrupt, "rpm: skip cpio header padding").WithCause(err)
		}
	}

	return &cpioEntry{mode: mode, fileSize: fileSize, name: strings.TrimPrefix(name, "./")}, nil
}
