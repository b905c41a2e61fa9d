package federation

import (
	"crypto/ed25519"
	"encoding/base64"
	"time"

	"github.com/conarylabs/conary/internal/ingest/ccs"
)

// Sign produces a detached signature over manifest's canonical bytes.
// keyID is an optional caller-assigned identifier carried alongside the
// signature for trust-policy bookkeeping (e.g. key rotation); it has no
// effect on verification, which matches the signature against the
// embedded public key regardless of keyID. A zero timestamp omits the
// timestamp field, which a policy with RequireTimestamp set will then
// reject.
func Sign(manifest *ccs.Manifest, priv ed25519.PrivateKey, keyID string, timestamp time.Time) (*ccs.Signature, error) {
	canonical, err := manifest.MarshalCBOR()
	if err != nil {
		return nil, err
	}

	sig := ed25519.Sign(priv, canonical)
	pub := priv.Public().(ed25519.PublicKey)

	out := &ccs.Signature{
		Algorithm: "ed25519",
		Signature: base64.StdEncoding.EncodeToString(sig),
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		KeyID:     keyID,
	}
	if !timestamp.IsZero() {
		out.Timestamp = timestamp.UTC().Format(time.RFC3339)
	}
	return out, nil
}
