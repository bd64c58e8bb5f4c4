package core

import (
	"errors"
	"net/url"
	"strings"
)

// ResourcePath is a normalized store key: no leading slash and no trailing
// slash. The empty path is the root collection.
type ResourcePath string

// RootPath is the implicit root collection.
const RootPath ResourcePath = ""

var errDotSegment = errors.New("path contains a dot segment")

// CleanPath collapses repeated slashes in an absolute URL path. A trailing
// slash is kept. Paths containing "." or ".." segments are rejected.
func CleanPath(raw string) (string, error) {
	for strings.Contains(raw, "//") {
		raw = strings.ReplaceAll(raw, "//", "/")
	}

	for _, segment := range strings.Split(raw, "/") {
		if segment == "." || segment == ".." {
			return "", errDotSegment
		}
	}

	return raw, nil
}

// ParsePath normalizes a request path by stripping a single leading and a
// single trailing slash. listing reports whether the original path ended in
// a slash, which selects collection listing on GET.
func ParsePath(raw string) (p ResourcePath, listing bool) {
	listing = strings.HasSuffix(raw, "/")
	raw = strings.TrimPrefix(raw, "/")
	raw = strings.TrimSuffix(raw, "/")
	return ResourcePath(raw), listing
}

// Key returns the store key of p.
func (p ResourcePath) Key() string {
	return string(p)
}

// IsRoot reports whether p is the root collection.
func (p ResourcePath) IsRoot() bool {
	return p == RootPath
}

// Parent returns p with its last segment removed. The parent of a top-level
// path is the root.
func (p ResourcePath) Parent() ResourcePath {
	i := strings.LastIndexByte(string(p), '/')
	if i < 0 {
		return RootPath
	}
	return p[:i]
}

// Name returns the last segment of p.
func (p ResourcePath) Name() string {
	s := string(p)
	return s[strings.LastIndexByte(s, '/')+1:]
}

// ChildPrefix returns the listing prefix of p's descendants.
func (p ResourcePath) ChildPrefix() string {
	if p.IsRoot() {
		return ""
	}
	return string(p) + "/"
}

// Join appends a relative key below p.
func (p ResourcePath) Join(rel string) ResourcePath {
	if p.IsRoot() {
		return ResourcePath(rel)
	}
	return ResourcePath(string(p) + "/" + rel)
}

// Rebase maps key, which must lie under from, to the same position under to.
func Rebase(key string, from ResourcePath, to ResourcePath) ResourcePath {
	return to.Join(strings.TrimPrefix(key, from.ChildPrefix()))
}

// Href returns the escaped absolute URL path of p. Collections get a
// trailing slash.
func (p ResourcePath) Href(collection bool) string {
	s := "/" + string(p)
	if collection && !p.IsRoot() {
		s += "/"
	}
	return (&url.URL{Path: s}).EscapedPath()
}
