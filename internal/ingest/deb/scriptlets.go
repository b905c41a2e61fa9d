package deb

import (
	"archive/tar"
	"io"
	"strings"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// Scriptlet is one maintainer script extracted verbatim from control.tar.
type Scriptlet struct {
	Phase  string
	Script string
}

var maintainerScripts = map[string]string{
	"preinst":  "pre-install",
	"postinst": "post-install",
	"prerm":    "pre-remove",
	"postrm":   "post-remove",
}

// ParseScriptlets extracts the four standard Debian maintainer scripts
// present in control.tar, skipping any the package does not ship.
func ParseScriptlets(path string) ([]Scriptlet, error) {
	entries, err := readAr(path)
	if err != nil {
		return nil, err
	}
	member, ok := findEntry(entries, "control.tar")
	if !ok {
		return nil, conaryerrors.New(conaryerrors.KindCorrupt, "deb: missing control.tar member").WithDetail("path", path)
	}
	reader, closer, err := decompressEntry(member)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closer() }()

	var out []Scriptlet
	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, conaryerrors.New(conaryerrors.KindCorrupt, "deb: read control.tar").WithCause(err)
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		phase, known := maintainerScripts[name]
		if !known {
			continue
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return nil, conaryerrors.New(conaryerrors.KindCorrupt, "deb: read maintainer script").WithCause(err).WithDetail("script", name)
		}
		out = append(out, Scriptlet{Phase: phase, Script: string(body)})
	}
	return out, nil
}
