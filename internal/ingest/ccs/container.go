package ccs

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// ComponentFileList is one components/<name>.json entry: the file paths
// belonging to that component, each referencing a content-addressed
// object by hash.
type ComponentFileList struct {
	Files []ComponentFile `json:"files"`
}

// ComponentFile is one file's placement and content reference within a
// component.
type ComponentFile struct {
	Path          string `json:"path"`
	Hash          string `json:"hash,omitempty"`
	Mode          uint32 `json:"mode"`
	SymlinkTarget string `json:"symlink_target,omitempty"`
	IsDir         bool   `json:"is_dir,omitempty"`
}

// Container is an in-memory, fully-read representation of a CCS
// package, assembled by ReadContainer.
type Container struct {
	Manifest   *Manifest
	Signature  *Signature
	Components map[string]ComponentFileList
	Objects    map[string][]byte // hash -> content, keyed by the 64-hex-char id
}

// ReadContainer parses the gzipped tar container at path. It accepts
// either MANIFEST (CBOR) or MANIFEST.toml (legacy), preferring MANIFEST
// when both are present.
func ReadContainer(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "ccs: open container").WithCause(err).WithDetail("path", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindCorrupt, "ccs: not a gzip stream").WithCause(err)
	}
	defer func() { _ = gz.Close() }()

	c := &Container{Components: map[string]ComponentFileList{}, Objects: map[string][]byte{}}
	var cborManifest, tomlManifest []byte

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, conaryerrors.New(conaryerrors.KindCorrupt, "ccs: read container tar").WithCause(err)
		}
		name := strings.TrimPrefix(hdr.Name, "./")

		switch {
		case name == "MANIFEST":
			cborManifest, err = io.ReadAll(tr)
		case name == "MANIFEST.toml":
			tomlManifest, err = io.ReadAll(tr)
		case name == "MANIFEST.sig":
			var body []byte
			body, err = io.ReadAll(tr)
			if err == nil {
				var sig Signature
				if jsonErr := json.Unmarshal(body, &sig); jsonErr != nil {
					return nil, conaryerrors.New(conaryerrors.KindCorrupt, "ccs: decode MANIFEST.sig").WithCause(jsonErr)
				}
				c.Signature = &sig
			}
		case strings.HasPrefix(name, "components/") && strings.HasSuffix(name, ".json"):
			var body []byte
			body, err = io.ReadAll(tr)
			if err == nil {
				compName := strings.TrimSuffix(strings.TrimPrefix(name, "components/"), ".json")
				var list ComponentFileList
				if jsonErr := json.Unmarshal(body, &list); jsonErr != nil {
					return nil, conaryerrors.New(conaryerrors.KindCorrupt, "ccs: decode component file list").WithCause(jsonErr).WithDetail("component", compName)
				}
				c.Components[compName] = list
			}
		case strings.HasPrefix(name, "objects/"):
			var body []byte
			body, err = io.ReadAll(tr)
			if err == nil {
				hash := strings.ReplaceAll(strings.TrimPrefix(name, "objects/"), "/", "")
				c.Objects[hash] = body
			}
		}
		if err != nil {
			return nil, conaryerrors.New(conaryerrors.KindCorrupt, "ccs: read container entry").WithCause(err).WithDetail("entry", name)
		}
	}

	switch {
	case cborManifest != nil:
		c.Manifest, err = UnmarshalManifestCBOR(cborManifest)
	case tomlManifest != nil:
		c.Manifest, err = UnmarshalManifestTOML(tomlManifest)
	default:
		return nil, conaryerrors.New(conaryerrors.KindCorrupt, "ccs: no MANIFEST or MANIFEST.toml entry").WithDetail("path", path)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// WriteContainer serializes c to path as a gzipped tar archive,
// recomputing ContentRoot from the component hashes before encoding the
// manifest — callers never get to smuggle a stale or forged root through.
func WriteContainer(path string, c *Container) error {
	c.Manifest.ContentRoot = ComputeContentRoot(c.Manifest.Components)

	f, err := os.Create(path)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "ccs: create container").WithCause(err).WithDetail("path", path)
	}
	defer func() { _ = f.Close() }()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	manifestBytes, err := c.Manifest.MarshalCBOR()
	if err != nil {
		return err
	}
	if err := writeTarEntry(tw, "MANIFEST", manifestBytes); err != nil {
		return err
	}

	if c.Signature != nil {
		sigBytes, err := json.Marshal(c.Signature)
		if err != nil {
			return conaryerrors.New(conaryerrors.KindCorrupt, "ccs: encode signature").WithCause(err)
		}
		if err := writeTarEntry(tw, "MANIFEST.sig", sigBytes); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(c.Components))
	for name := range c.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := json.Marshal(c.Components[name])
		if err != nil {
			return conaryerrors.New(conaryerrors.KindCorrupt, "ccs: encode component file list").WithCause(err).WithDetail("component", name)
		}
		if err := writeTarEntry(tw, "components/"+name+".json", body); err != nil {
			return err
		}
	}

	hashes := make([]string, 0, len(c.Objects))
	for hash := range c.Objects {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)
	for _, hash := range hashes {
		if len(hash) != 64 {
			return conaryerrors.New(conaryerrors.KindCorrupt, "ccs: malformed object hash").WithDetail("hash", hash)
		}
		entryName := "objects/" + hash[:2] + "/" + hash[2:]
		if err := writeTarEntry(tw, entryName, c.Objects[hash]); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "ccs: finalize tar").WithCause(err)
	}
	if err := gz.Close(); err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "ccs: finalize gzip").WithCause(err)
	}
	return nil
}

func writeTarEntry(tw *tar.Writer, name string, body []byte) error {
	hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "ccs: write tar header").WithCause(err).WithDetail("entry", name)
	}
	if _, err := tw.Write(body); err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "ccs: write tar body").WithCause(err).WithDetail("entry", name)
	}
	return nil
}
