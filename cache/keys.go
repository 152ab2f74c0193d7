package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the hex SHA-256 of s.
func Hash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// ListingKey is the cache key of per-listing entries. Entries under it carry
// a content sketch, so a changed page is caught by the freshness check.
func ListingKey(code string) string {
	return Hash("listing|" + code)
}
