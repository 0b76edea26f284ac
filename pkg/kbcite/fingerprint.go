package kbcite

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintLen is the number of hex characters kept from a SHA-256 digest.
const fingerprintLen = 16

// Fingerprint returns a short stable hash of s.
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// VersionFingerprint hashes the filename:content pairs of docs in order.
func VersionFingerprint(docs []Document) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.Filename + ":" + d.Content
	}
	return Fingerprint(strings.Join(parts, "\n\n"))
}

// CacheKey identifies the embedding of doc. Any content change produces a new key.
func CacheKey(doc Document) string {
	return doc.Filename + ":" + Fingerprint(doc.Content)
}
