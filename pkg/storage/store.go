package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when the requested key does not exist.
	ErrNotFound = errors.New("storage: key not found")

	// ErrPreconditionFailed is returned when the supplied Conditions do not
	// hold for the current state of a key. No body is returned in that case.
	ErrPreconditionFailed = errors.New("storage: precondition failed")

	// ErrRangeNotSatisfiable is returned by backends that reject a range
	// lying outside the body instead of clamping it.
	ErrRangeNotSatisfiable = errors.New("storage: range not satisfiable")
)

const (
	// ResourceTypeKey is the custom metadata key carrying the collection
	// marker. It cannot be inferred from the key itself.
	ResourceTypeKey = "resourcetype"

	// CollectionMarker is the ResourceTypeKey value of a collection entry.
	CollectionMarker = "collection"

	// DefaultPageSize is the listing page size used when none is given.
	DefaultPageSize = 1000
)

// HTTPMetadata holds the content metadata forwarded on GET and accepted on PUT.
type HTTPMetadata struct {
	ContentType        string
	ContentDisposition string
	ContentLanguage    string
	ContentEncoding    string
	CacheControl       string
	CacheExpiry        time.Time
}

// Entry is the store's view of a single key.
type Entry struct {
	Key        string
	Size       int64
	ETag       string
	UploadedAt time.Time
	HTTPMetadata

	// Metadata holds custom (dead) properties, including the collection marker.
	Metadata map[string]string
}

// IsCollection reports whether the entry is a collection marker.
func (e *Entry) IsCollection() bool {
	return e.Metadata[ResourceTypeKey] == CollectionMarker
}

// Object is an Entry together with a (possibly ranged) body. Callers must
// close Body.
type Object struct {
	Entry
	Body io.ReadCloser

	// Range is the range that was applied to Body, or nil for the full body.
	Range *Range
}

// GetOptions controls a Get call.
type GetOptions struct {
	Conditions Conditions
	Range      *Range
}

// PutOptions controls a Put call.
type PutOptions struct {
	HTTPMetadata HTTPMetadata
	Metadata     map[string]string
	Conditions   Conditions
}

// ListOptions controls a single List call.
type ListOptions struct {
	Prefix string

	// Delimiter, when non-empty, restricts results to keys with no further
	// occurrence of Delimiter after Prefix.
	Delimiter string

	// Cursor continues a previous listing. It is opaque to callers.
	Cursor string

	// Limit is the maximum number of entries returned. Zero means DefaultPageSize.
	Limit int
}

// ListPage is one page of a listing.
type ListPage struct {
	Entries   []Entry
	Truncated bool
	Cursor    string
}

// Store defines the flat key/blob backend the WebDAV layer is built on.
// Implementations provide per-key atomicity only.
type Store interface {
	// Head returns the entry stored at key, or ErrNotFound.
	Head(ctx context.Context, key string) (*Entry, error)

	// Get returns the entry and body stored at key. It returns ErrNotFound
	// when the key is missing and ErrPreconditionFailed when the conditions
	// in opts do not hold.
	Get(ctx context.Context, key string, opts GetOptions) (*Object, error)

	// Put writes body under key, replacing any previous entry. size may be
	// -1 when unknown.
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (*Entry, error)

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// List returns one page of entries whose keys start with opts.Prefix, in
	// ascending key order.
	List(ctx context.Context, opts ListOptions) (*ListPage, error)

	// Close releases any resources held by the store.
	Close() error
}
