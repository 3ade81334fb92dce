// Package fingerprint assigns content identities to uploaded blobs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"strings"

	appstorage "github.com/pinstor/backend/internal/application/storage"
)

// Ensure SHA256Fingerprinter implements Fingerprinter
var _ appstorage.Fingerprinter = (*SHA256Fingerprinter)(nil)

// chunkSize is the window the similarity fingerprint folds over
const chunkSize = 4096

var contentEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// SHA256Fingerprinter derives both identities from SHA-256. The content
// identifier is an exact address of the full payload. The similarity
// fingerprint folds fixed-size chunk digests together so payloads sharing
// most chunks collide, which is what drives near-duplicate grouping.
type SHA256Fingerprinter struct{}

// NewSHA256Fingerprinter creates a new fingerprinter
func NewSHA256Fingerprinter() *SHA256Fingerprinter {
	return &SHA256Fingerprinter{}
}

// ContentID returns the stable content address for exact deduplication
func (f *SHA256Fingerprinter) ContentID(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("content is required")
	}
	sum := sha256.Sum256(data)
	return "b" + strings.ToLower(contentEncoding.EncodeToString(sum[:])), nil
}

// Fingerprint returns the similarity fingerprint for near-duplicate grouping
func (f *SHA256Fingerprinter) Fingerprint(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("content is required")
	}

	var folded [sha256.Size]byte
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		sum := sha256.Sum256(data[off:end])
		for i := range folded {
			folded[i] ^= sum[i]
		}
	}

	return hex.EncodeToString(folded[:]), nil
}
