package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"strings"
)

// CreateETag formats a hash hex string as an ETag value.
func CreateETag(hashHex string) string {
	return fmt.Sprintf("\"%s\"", hashHex)
}

// ETagFor computes the ETag of a fully buffered body.
func ETagFor(body []byte) string {
	sum := sha256.Sum256(body)
	return CreateETag(hex.EncodeToString(sum[:]))
}

// CloneMetadata returns a copy of m that is never nil.
func CloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	maps.Copy(out, m)
	return out
}

// PageSize returns the effective page size for o.
func (o ListOptions) PageSize() int {
	if o.Limit <= 0 {
		return DefaultPageSize
	}
	return o.Limit
}

// Matches reports whether key is part of the listing described by o,
// ignoring the cursor.
func (o ListOptions) Matches(key string) bool {
	if !strings.HasPrefix(key, o.Prefix) {
		return false
	}

	if o.Delimiter == "" {
		return true
	}

	return !strings.Contains(key[len(o.Prefix):], o.Delimiter)
}
