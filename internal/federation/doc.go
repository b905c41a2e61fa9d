// Package federation signs and verifies CCS manifests. A manifest's
// canonical bytes (its CBOR encoding, which never includes a signature
// field — MANIFEST and MANIFEST.sig are always separate container
// entries) are what gets signed; verifying recomputes those same bytes
// and checks them against a trust policy loaded from a TOML file.
package federation
