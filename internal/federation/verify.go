package federation

import (
	"crypto/ed25519"
	"encoding/base64"
	"time"

	"github.com/conarylabs/conary/internal/ingest/ccs"
	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// Verify checks manifest against sig under policy. sig may be nil,
// meaning the container carried no MANIFEST.sig entry; that is only
// accepted if policy.AllowUnsigned is set. A tampered manifest (any
// byte of any field that feeds the canonical encoding, including the
// per-component content hashes) fails signature verification the same
// way a tampered signature itself would.
func Verify(manifest *ccs.Manifest, sig *ccs.Signature, policy *TrustPolicy) error {
	if sig == nil {
		if policy.AllowUnsigned {
			return nil
		}
		return conaryerrors.New(conaryerrors.KindUntrusted, "federation: manifest is not signed").
			WithComponent("federation")
	}

	if sig.Algorithm != "ed25519" {
		return conaryerrors.New(conaryerrors.KindSignatureInvalid, "federation: unsupported signature algorithm").
			WithDetail("algorithm", sig.Algorithm).WithComponent("federation")
	}

	pub, err := decodePublicKey(sig.PublicKey)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindSignatureInvalid, "federation: invalid public key").
			WithCause(err).WithComponent("federation")
	}

	if !policy.trusts(pub) {
		keyID := sig.KeyID
		if keyID == "" {
			keyID = sig.PublicKey
		}
		return conaryerrors.New(conaryerrors.KindUntrusted, "federation: signing key is not trusted").
			WithDetail("key_id", keyID).WithComponent("federation")
	}

	if err := checkTimestamp(sig, policy); err != nil {
		return err
	}

	sigBytes, err := base64.StdEncoding.DecodeString(sig.Signature)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindSignatureInvalid, "federation: invalid signature encoding").
			WithCause(err).WithComponent("federation")
	}

	canonical, err := manifest.MarshalCBOR()
	if err != nil {
		return err
	}

	if !ed25519.Verify(pub, canonical, sigBytes) {
		return conaryerrors.New(conaryerrors.KindSignatureInvalid, "federation: signature does not verify").
			WithComponent("federation")
	}
	return nil
}

// VerifyContainer is a convenience wrapper over Verify for a fully-read
// CCS container, since most callers (ingest, the conversion pipeline)
// hold a *ccs.Container rather than its manifest and signature fields
// separately.
func VerifyContainer(c *ccs.Container, policy *TrustPolicy) error {
	return Verify(c.Manifest, c.Signature, policy)
}

func checkTimestamp(sig *ccs.Signature, policy *TrustPolicy) error {
	if sig.Timestamp == "" {
		if policy.RequireTimestamp {
			return conaryerrors.New(conaryerrors.KindSignatureInvalid, "federation: signature has no timestamp").
				WithComponent("federation")
		}
		return nil
	}

	ts, err := time.Parse(time.RFC3339, sig.Timestamp)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindSignatureInvalid, "federation: invalid signature timestamp").
			WithCause(err).WithComponent("federation")
	}

	if policy.MaxSignatureAge > 0 && time.Since(ts) > policy.MaxSignatureAge {
		return conaryerrors.New(conaryerrors.KindSignatureInvalid, "federation: signature has expired").
			WithDetail("timestamp", sig.Timestamp).WithComponent("federation")
	}
	return nil
}
