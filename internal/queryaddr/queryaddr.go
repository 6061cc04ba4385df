// Package queryaddr canonicalizes free-text queries and derives stable content
// addresses from them. Two raw queries with the same intent ("  Charizard PSA
// 10 " vs "charizard psa 10") normalize identically and therefore share one
// cache address, so identical intent never re-triggers redundant vendor calls.
package queryaddr

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// imageNamespace separates image-search addresses from text-search addresses.
// Without it, a text query and an image query for the same string would
// collide in the cache tiers.
const imageNamespace = "img:"

// Normalize canonicalizes a raw query: trim, lowercase, collapse runs of
// whitespace to a single space. Idempotent.
func Normalize(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

// AddressOf computes the content address of an already-normalized query as a
// fixed-length hex string. Stable across processes and versions.
func AddressOf(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// HashQuery normalizes raw and returns its content address.
func HashQuery(raw string) string {
	return AddressOf(Normalize(raw))
}

// ImageQueryAddress returns the content address of raw in the image-search
// namespace.
func ImageQueryAddress(raw string) string {
	return AddressOf(imageNamespace + Normalize(raw))
}

// ProviderKey derives the provider-tier cache key for a given provider id and
// query address.
func ProviderKey(providerID, queryHash string) string {
	return AddressOf(providerID + ":" + queryHash)
}
