package storage

import (
	"strings"
	"time"
)

// Conditions are the conditional request headers forwarded to Get and Put.
// Zero-valued fields are not evaluated.
type Conditions struct {
	IfMatch           string
	IfNoneMatch       string
	IfModifiedSince   time.Time
	IfUnmodifiedSince time.Time
}

// IsZero reports whether no condition is set.
func (c Conditions) IsZero() bool {
	return c.IfMatch == "" && c.IfNoneMatch == "" &&
		c.IfModifiedSince.IsZero() && c.IfUnmodifiedSince.IsZero()
}

// Check reports whether the conditions hold for e. A nil e stands for a
// missing key.
func (c Conditions) Check(e *Entry) bool {
	if e == nil {
		// Only If-Match can refer to an existing representation.
		return c.IfMatch == ""
	}

	if c.IfMatch != "" && !matchETag(c.IfMatch, e.ETag) {
		return false
	}

	// If-Unmodified-Since is ignored when If-Match is present.
	if c.IfMatch == "" && !c.IfUnmodifiedSince.IsZero() &&
		e.UploadedAt.Truncate(time.Second).After(c.IfUnmodifiedSince) {
		return false
	}

	if c.IfNoneMatch != "" && matchETag(c.IfNoneMatch, e.ETag) {
		return false
	}

	// If-Modified-Since is ignored when If-None-Match is present.
	if c.IfNoneMatch == "" && !c.IfModifiedSince.IsZero() &&
		!e.UploadedAt.Truncate(time.Second).After(c.IfModifiedSince) {
		return false
	}

	return true
}

// matchETag reports whether etag appears in the comma separated list, or
// whether the list is "*". Weak validators compare by their opaque tag.
func matchETag(list string, etag string) bool {
	if strings.TrimSpace(list) == "*" {
		return true
	}

	want := normalizeETag(etag)
	for _, candidate := range strings.Split(list, ",") {
		if normalizeETag(candidate) == want {
			return true
		}
	}

	return false
}

func normalizeETag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, "\"")
}
