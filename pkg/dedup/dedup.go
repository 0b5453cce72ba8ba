// Package dedup computes the deterministic fingerprint used to detect
// duplicate transactions across repeated ingestion runs.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ManualProvider is the provider tag used when fingerprinting manually
// entered transactions. Manual entries share the digest algorithm and
// field ordering with ingested ones so both stay collision-consistent
// within a user's transaction set.
const ManualProvider = "manual"

// Fingerprint returns the SHA-256 hex digest of the canonical
// "date|amount|merchant|cardTail|provider" concatenation.
//
// The caller must resolve the date before fingerprinting; date is rendered
// as 2006-01-02 and amount with full precision. Absent merchant or card
// tail render as empty strings. Two extractions with an identical
// five-tuple are by definition the same transaction.
func Fingerprint(date time.Time, amount decimal.Decimal, merchant, cardTail, provider string) string {
	input := strings.Join([]string{
		date.Format(time.DateOnly),
		amount.String(),
		merchant,
		cardTail,
		provider,
	}, "|")

	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// ManualFingerprint fingerprints a manually entered transaction: no card
// tail, provider tag "manual".
func ManualFingerprint(date time.Time, amount decimal.Decimal, merchant string) string {
	return Fingerprint(date, amount, merchant, "", ManualProvider)
}
