package core

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-http-utils/headers"

	"github.com/eteran/stash/pkg/storage"
)

// WebDAV and local headers not covered by the headers package.
const (
	headerDAV         = "DAV"
	headerDepth       = "Depth"
	headerDestination = "Destination"
	headerOverwrite   = "Overwrite"
	headerRequestID   = "X-Request-Id"
)

// Depth is a parsed Depth header.
type Depth int

const (
	DepthZero Depth = iota
	DepthOne
	DepthInfinity
)

func (d Depth) String() string {
	switch d {
	case DepthZero:
		return "0"
	case DepthOne:
		return "1"
	default:
		return "infinity"
	}
}

var errBadDestination = errors.New("missing or malformed Destination header")

// parseDepth reads the Depth header. An absent header means infinity; ok is
// false for any unrecognised token.
func parseDepth(r *http.Request) (d Depth, ok bool) {
	values := r.Header.Values(headerDepth)
	if len(values) == 0 {
		return DepthInfinity, true
	}

	switch strings.ToLower(strings.TrimSpace(values[0])) {
	case "0":
		return DepthZero, true
	case "1":
		return DepthOne, true
	case "infinity":
		return DepthInfinity, true
	}

	return DepthInfinity, false
}

// allowOverwrite reads the Overwrite header. Only an explicit F forbids
// replacing an existing destination.
func allowOverwrite(r *http.Request) bool {
	return !strings.EqualFold(strings.TrimSpace(r.Header.Get(headerOverwrite)), "F")
}

// parseDestination extracts the normalized target path from the Destination
// header, which may be an absolute URL or an absolute path.
func parseDestination(r *http.Request) (ResourcePath, error) {
	raw := strings.TrimSpace(r.Header.Get(headerDestination))
	if raw == "" {
		return RootPath, errBadDestination
	}

	u, err := url.Parse(raw)
	if err != nil || !strings.HasPrefix(u.Path, "/") {
		return RootPath, errBadDestination
	}

	cleaned, err := CleanPath(u.Path)
	if err != nil {
		return RootPath, errBadDestination
	}

	p, _ := ParsePath(cleaned)
	return p, nil
}

// parseRange parses a single byte range of the form bytes=a-b, bytes=a- or
// bytes=-n. Anything else yields nil, meaning the full body.
func parseRange(value string) *storage.Range {
	value = strings.TrimSpace(value)
	byteRange, ok := strings.CutPrefix(value, "bytes=")
	if !ok || strings.ContainsAny(byteRange, ",;") {
		return nil
	}

	startStr, endStr, ok := strings.Cut(strings.TrimSpace(byteRange), "-")
	if !ok {
		return nil
	}

	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil
		}
		return storage.SuffixRange(n)
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil
	}

	if endStr == "" {
		return storage.OpenRange(start)
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return nil
	}

	return storage.OffsetRange(start, end-start+1)
}

// parseConditions collects the conditional request headers. Unparseable
// dates are ignored.
func parseConditions(h http.Header) storage.Conditions {
	c := storage.Conditions{
		IfMatch:     h.Get(headers.IfMatch),
		IfNoneMatch: h.Get(headers.IfNoneMatch),
	}

	if t, err := http.ParseTime(h.Get(headers.IfModifiedSince)); err == nil {
		c.IfModifiedSince = t
	}
	if t, err := http.ParseTime(h.Get(headers.IfUnmodifiedSince)); err == nil {
		c.IfUnmodifiedSince = t
	}

	return c
}

// parseHTTPMetadata collects the content metadata headers of a write.
func parseHTTPMetadata(h http.Header) storage.HTTPMetadata {
	m := storage.HTTPMetadata{
		ContentType:        h.Get(headers.ContentType),
		ContentDisposition: h.Get(headers.ContentDisposition),
		ContentLanguage:    h.Get(headers.ContentLanguage),
		ContentEncoding:    h.Get(headers.ContentEncoding),
		CacheControl:       h.Get(headers.CacheControl),
	}

	if t, err := http.ParseTime(h.Get(headers.Expires)); err == nil {
		m.CacheExpiry = t
	}

	return m
}

// writeContentHeaders sets the forwarded content metadata of e on w.
func writeContentHeaders(w http.ResponseWriter, e *storage.Entry) {
	h := w.Header()

	contentType := e.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set(headers.ContentType, contentType)

	if e.ETag != "" {
		h.Set(headers.ETag, e.ETag)
	}
	if !e.UploadedAt.IsZero() {
		h.Set(headers.LastModified, e.UploadedAt.UTC().Format(http.TimeFormat))
	}
	if e.ContentDisposition != "" {
		h.Set(headers.ContentDisposition, e.ContentDisposition)
	}
	if e.ContentLanguage != "" {
		h.Set(headers.ContentLanguage, e.ContentLanguage)
	}
	if e.ContentEncoding != "" {
		h.Set(headers.ContentEncoding, e.ContentEncoding)
	}
	if e.CacheControl != "" {
		h.Set(headers.CacheControl, e.CacheControl)
	}
	if !e.CacheExpiry.IsZero() {
		h.Set(headers.Expires, e.CacheExpiry.UTC().Format(http.TimeFormat))
	}
	h.Set(headers.AcceptRanges, "bytes")
}
