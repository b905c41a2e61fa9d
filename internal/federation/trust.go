package federation

import (
	"crypto/ed25519"
	"encoding/base64"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// TrustPolicy controls which manifests Verify accepts. An empty
// TrustedKeys list means "trust any structurally valid signature" —
// matching the permissive default a single-node install runs under
// before it has exchanged keys with any peer.
type TrustPolicy struct {
	TrustedKeys      []ed25519.PublicKey
	AllowUnsigned    bool
	RequireTimestamp bool
	MaxSignatureAge  time.Duration // 0 = no limit
}

// Permissive returns a policy that accepts any signature, or no
// signature at all.
func Permissive() *TrustPolicy {
	return &TrustPolicy{AllowUnsigned: true}
}

// trustPolicyFile mirrors the TOML shape documented for the trust
// policy file: trusted_keys as base64-encoded Ed25519 public keys,
// max_signature_age in seconds.
type trustPolicyFile struct {
	TrustedKeys      []string `toml:"trusted_keys"`
	AllowUnsigned    bool     `toml:"allow_unsigned"`
	RequireTimestamp bool     `toml:"require_timestamp"`
	MaxSignatureAge  uint64   `toml:"max_signature_age"`
}

// LoadTrustPolicy reads and decodes a trust policy TOML file.
func LoadTrustPolicy(path string) (*TrustPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "federation: read trust policy").
			WithCause(err).WithDetail("path", path).WithComponent("federation")
	}

	var raw trustPolicyFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, conaryerrors.New(conaryerrors.KindCorrupt, "federation: parse trust policy").
			WithCause(err).WithDetail("path", path).WithComponent("federation")
	}

	policy := &TrustPolicy{
		AllowUnsigned:    raw.AllowUnsigned,
		RequireTimestamp: raw.RequireTimestamp,
		MaxSignatureAge:  time.Duration(raw.MaxSignatureAge) * time.Second,
	}
	for _, encoded := range raw.TrustedKeys {
		key, err := decodePublicKey(encoded)
		if err != nil {
			return nil, conaryerrors.New(conaryerrors.KindCorrupt, "federation: invalid trusted key in policy").
				WithCause(err).WithDetail("path", path).WithComponent("federation")
		}
		policy.TrustedKeys = append(policy.TrustedKeys, key)
	}
	return policy, nil
}

func decodePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, conaryerrors.New(conaryerrors.KindCorrupt, "federation: public key has wrong length").
			WithDetail("length", len(raw)).WithComponent("federation")
	}
	return ed25519.PublicKey(raw), nil
}

func (p *TrustPolicy) trusts(key ed25519.PublicKey) bool {
	if len(p.TrustedKeys) == 0 {
		return true
	}
	for _, k := range p.TrustedKeys {
		if k.Equal(key) {
			return true
		}
	}
	return false
}
