package layergroup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DigestLen is the length of a hex digest.
const DigestLen = 32

// CanonicalForm is the byte representation the digest is computed from.
// It covers only the ordered layer list; version and stat tag do not
// participate.
type CanonicalForm []byte

func Canonicalize(c Config) (CanonicalForm, error) {
	layers := c.Layers
	if layers == nil {
		layers = []Layer{}
	}
	b, err := json.Marshal(layers)
	if err != nil {
		return nil, fmt.Errorf("canonicalize layergroup: %w", err)
	}
	return CanonicalForm(b), nil
}

// DeriveDigest returns the first 128 bits of SHA-256 over the canonical
// bytes, hex encoded.
func DeriveDigest(cf CanonicalForm) string {
	sum := sha256.Sum256(cf)
	return hex.EncodeToString(sum[:DigestLen/2])
}

func Digest(c Config) (string, error) {
	cf, err := Canonicalize(c)
	if err != nil {
		return "", err
	}
	return DeriveDigest(cf), nil
}
