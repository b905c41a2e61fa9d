// Package ccs reads and writes the CCS package container: a gzipped tar
// archive holding a canonical manifest (CBOR, or legacy TOML), an
// optional detached signature, per-component file lists, and
// content-addressed object blobs.
package ccs

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pelletier/go-toml/v2"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// Platform identifies the target of a CCS package.
type Platform struct {
	OS   string `cbor:"os" toml:"os"`
	Arch string `cbor:"arch,omitempty" toml:"arch,omitempty"`
	Libc string `cbor:"libc" toml:"libc"`
	ABI  string `cbor:"abi,omitempty" toml:"abi,omitempty"`
}

// BuildProvenance records how a CCS package was produced, optional.
type BuildProvenance struct {
	Source      string `cbor:"source,omitempty" toml:"source,omitempty"`
	Commit      string `cbor:"commit,omitempty" toml:"commit,omitempty"`
	Timestamp   string `cbor:"timestamp,omitempty" toml:"timestamp,omitempty"`
	Reproducible bool  `cbor:"reproducible,omitempty" toml:"reproducible,omitempty"`
}

// Hooks carries the declarative install-time hooks a CCS package may
// request, applied by the deployer's caller rather than by ingest
// itself.
type Hooks struct {
	Users       []UserHook       `cbor:"users,omitempty" toml:"users,omitempty"`
	Groups      []GroupHook      `cbor:"groups,omitempty" toml:"groups,omitempty"`
	Directories []DirectoryHook  `cbor:"directories,omitempty" toml:"directories,omitempty"`
	Systemd     []SystemdHook    `cbor:"systemd,omitempty" toml:"systemd,omitempty"`
	Tmpfiles    []TmpfilesHook   `cbor:"tmpfiles,omitempty" toml:"tmpfiles,omitempty"`
	Sysctl      []SysctlHook     `cbor:"sysctl,omitempty" toml:"sysctl,omitempty"`
	Alternatives []AlternativeHook `cbor:"alternatives,omitempty" toml:"alternatives,omitempty"`
}

type UserHook struct {
	Name   string `cbor:"name" toml:"name"`
	System bool   `cbor:"system,omitempty" toml:"system,omitempty"`
	Home   string `cbor:"home,omitempty" toml:"home,omitempty"`
	Shell  string `cbor:"shell,omitempty" toml:"shell,omitempty"`
	Group  string `cbor:"group,omitempty" toml:"group,omitempty"`
}

type GroupHook struct {
	Name   string `cbor:"name" toml:"name"`
	System bool   `cbor:"system,omitempty" toml:"system,omitempty"`
}

type DirectoryHook struct {
	Path  string `cbor:"path" toml:"path"`
	Mode  string `cbor:"mode" toml:"mode"`
	Owner string `cbor:"owner" toml:"owner"`
	Group string `cbor:"group" toml:"group"`
}

type SystemdHook struct {
	Unit   string `cbor:"unit" toml:"unit"`
	Enable bool   `cbor:"enable,omitempty" toml:"enable,omitempty"`
}

type TmpfilesHook struct {
	Type  string `cbor:"type" toml:"type"`
	Path  string `cbor:"path" toml:"path"`
	Mode  string `cbor:"mode" toml:"mode"`
	Owner string `cbor:"owner" toml:"owner"`
	Group string `cbor:"group" toml:"group"`
}

type SysctlHook struct {
	Key         string `cbor:"key" toml:"key"`
	Value       string `cbor:"value" toml:"value"`
	OnlyIfLower bool   `cbor:"only_if_lower,omitempty" toml:"only_if_lower,omitempty"`
}

type AlternativeHook struct {
	Name     string `cbor:"name" toml:"name"`
	Path     string `cbor:"path" toml:"path"`
	Priority int    `cbor:"priority,omitempty" toml:"priority,omitempty"`
}

// Manifest is the canonical description of a CCS package: name,
// version, platform, dependency graph, and the content-hash reference
// for each component. ContentRoot is the Merkle root over sorted
// SHA256(name || component_hash) leaves and is always computed by
// WriteContainer; ReadContainer and the federation verifier take the
// decoded value as is (the manifest signature covers it).
type Manifest struct {
	Name        string            `cbor:"name" toml:"name"`
	Version     string            `cbor:"version" toml:"version"`
	Description string            `cbor:"description,omitempty" toml:"description,omitempty"`
	License     string            `cbor:"license,omitempty" toml:"license,omitempty"`
	Platform    Platform          `cbor:"platform" toml:"platform"`
	Provides    []string          `cbor:"provides,omitempty" toml:"provides,omitempty"`
	Requires    []string          `cbor:"requires,omitempty" toml:"requires,omitempty"`
	Components  map[string]string `cbor:"components" toml:"components"` // name -> content hash
	Hooks       Hooks             `cbor:"hooks,omitempty" toml:"hooks,omitempty"`
	Build       *BuildProvenance  `cbor:"build,omitempty" toml:"build,omitempty"`
	ContentRoot string            `cbor:"content_root" toml:"content_root"`
}

// MarshalCBOR encodes the manifest using the canonical (deterministic,
// sorted-map-keys) CBOR encode mode, so that two manifests with the same
// logical content always serialize identically — required for signature
// verification to be meaningful.
func (m *Manifest) MarshalCBOR() ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "ccs: build canonical cbor encoder").WithCause(err)
	}
	b, err := mode.Marshal(manifestAlias(*m))
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindCorrupt, "ccs: encode manifest").WithCause(err)
	}
	return b, nil
}

// UnmarshalManifestCBOR decodes a CBOR-encoded MANIFEST entry.
func UnmarshalManifestCBOR(data []byte) (*Manifest, error) {
	var m manifestAlias
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, conaryerrors.New(conaryerrors.KindCorrupt, "ccs: decode cbor manifest").WithCause(err)
	}
	out := Manifest(m)
	return &out, nil
}

// UnmarshalManifestTOML decodes a legacy MANIFEST.toml entry.
func UnmarshalManifestTOML(data []byte) (*Manifest, error) {
	var m manifestAlias
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, conaryerrors.New(conaryerrors.KindCorrupt, "ccs: decode toml manifest").WithCause(err)
	}
	out := Manifest(m)
	return &out, nil
}

// manifestAlias breaks the method set so cbor/toml do not recurse into
// Manifest's own Marshal methods.
type manifestAlias Manifest
