package payments

import (
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// referenceBytes is the entropy per reference. 32 bytes keeps the encoded
// value the size of a ledger account key, so it can ride along in a
// transaction's account list.
const referenceBytes = 32

// GenerateReference produces an opaque, unguessable correlation key for a
// payment request. It never blocks and has no side effects beyond reading
// the process entropy source.
func GenerateReference() (string, error) {
	buf := make([]byte, referenceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}
	return base58.Encode(buf), nil
}
