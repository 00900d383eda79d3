package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"property-acquisition/internal/domain"
)

// CacheKey computes the result-cache key for a query served by a set of sources.
// Formula: SHA256(sorted query fields joined by "&" + "_" + sorted source names joined by ",")
// Returns hex-encoded hash (64 characters).
func CacheKey(q domain.Query, sources []string) string {
	names := append([]string(nil), sources...)
	sort.Strings(names)

	data := strings.Join(q.CanonicalFields(), "&") + "_" + strings.Join(names, ",")

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
