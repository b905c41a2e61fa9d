package federation

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// GenerateSigningKey creates a new Ed25519 key pair for manifest signing.
func GenerateSigningKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, conaryerrors.New(conaryerrors.KindIO, "federation: generate signing key").
			WithCause(err).WithComponent("federation")
	}
	return pub, priv, nil
}

// SaveSigningKey writes priv's seed, base64-encoded, to path with
// owner-only permissions. The public key is always derivable from the
// private key, so only the seed needs to be persisted.
func SaveSigningKey(path string, priv ed25519.PrivateKey) error {
	encoded := base64.StdEncoding.EncodeToString(priv.Seed())
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "federation: write signing key").
			WithCause(err).WithDetail("path", path).WithComponent("federation")
	}
	return nil
}

// LoadSigningKey reads a seed written by SaveSigningKey and reconstructs
// the private key.
func LoadSigningKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "federation: read signing key").
			WithCause(err).WithDetail("path", path).WithComponent("federation")
	}
	seed, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindCorrupt, "federation: decode signing key").
			WithCause(err).WithDetail("path", path).WithComponent("federation")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, conaryerrors.New(conaryerrors.KindCorrupt, "federation: signing key has wrong seed length").
			WithDetail("length", len(seed)).WithComponent("federation")
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
