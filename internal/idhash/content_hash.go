package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"property-acquisition/internal/domain"
)

// ContentHash computes a deterministic digest of a record's content fields.
// Formula: SHA256(title:..|price:..|address:..|bedrooms:..|bathrooms:..|size:..)
// Returns hex-encoded hash (64 characters). Identity and metadata fields
// (id, source, url, acquired_at) are excluded so a changed listing body is
// detectable across re-scrapes.
func ContentHash(r domain.PropertyRecord) string {
	data := fmt.Sprintf("title:%s|price:%s|address:%s|bedrooms:%d|bathrooms:%d|size:%d",
		r.Title,
		strconv.FormatFloat(r.Price, 'f', -1, 64),
		r.Address,
		r.Bedrooms,
		r.Bathrooms,
		r.Size,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
