// Package sha256 derives fingerprints from canonical URLs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprinter implements scrape.Fingerprinter using SHA-256.
type Fingerprinter struct{}

// New returns a SHA-256 fingerprinter.
func New() *Fingerprinter {
	return &Fingerprinter{}
}

// Fingerprint hashes the UTF-8 bytes of the canonical URL and returns a
// 64-character hex digest. No seeding: the digest must be stable across
// processes because it is the ledger unique key and the cache key.
func (f *Fingerprinter) Fingerprint(canonicalURL string) (string, error) {
	if canonicalURL == "" {
		return "", fmt.Errorf("canonical url is required")
	}
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:]), nil
}
