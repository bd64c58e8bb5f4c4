// Package storagetest provides a conformance suite shared by every
// storage.Store backend.
package storagetest

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/eteran/stash/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

type suite struct {
	newStore Factory
}

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	s := &suite{newStore: newStore}

	t.Run("Head_NotFound", s.testHeadNotFound)
	t.Run("Get_NotFound", s.testGetNotFound)
	t.Run("PutGet_RoundTrip", s.testPutGetRoundTrip)
	t.Run("Put_Overwrite", s.testPutOverwrite)
	t.Run("Put_CollectionMarker", s.testCollectionMarker)
	t.Run("Get_Ranges", s.testGetRanges)
	t.Run("Get_Conditions", s.testGetConditions)
	t.Run("Put_Conditions", s.testPutConditions)
	t.Run("Delete_Many", s.testDeleteMany)
	t.Run("List_ShallowAndRecursive", s.testListShallowAndRecursive)
	t.Run("List_Pagination", s.testListPagination)
	t.Run("List_CursorSurvivesDeletion", s.testListCursorSurvivesDeletion)
}

func (s *suite) store(t *testing.T) storage.Store {
	t.Helper()
	store := s.newStore(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustPut(t *testing.T, store storage.Store, key string, body string, opts storage.PutOptions) *storage.Entry {
	t.Helper()
	e, err := store.Put(context.Background(), key, strings.NewReader(body), int64(len(body)), opts)
	require.NoErrorf(t, err, "put %s", key)
	return e
}

func mustGet(t *testing.T, store storage.Store, key string, opts storage.GetOptions) (*storage.Object, string) {
	t.Helper()
	obj, err := store.Get(context.Background(), key, opts)
	require.NoErrorf(t, err, "get %s", key)
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	return obj, string(data)
}

func listAll(t *testing.T, store storage.Store, opts storage.ListOptions) []string {
	t.Helper()
	var keys []string
	for {
		page, err := store.List(context.Background(), opts)
		require.NoError(t, err)
		for _, e := range page.Entries {
			keys = append(keys, e.Key)
		}
		if !page.Truncated {
			return keys
		}
		opts.Cursor = page.Cursor
	}
}

func (s *suite) testHeadNotFound(t *testing.T) {
	store := s.store(t)

	_, err := store.Head(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func (s *suite) testGetNotFound(t *testing.T) {
	store := s.store(t)

	_, err := store.Get(context.Background(), "missing", storage.GetOptions{})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func (s *suite) testPutGetRoundTrip(t *testing.T) {
	store := s.store(t)

	expiry := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	put := mustPut(t, store, "a/b.txt", "hello", storage.PutOptions{
		HTTPMetadata: storage.HTTPMetadata{
			ContentType:        "text/plain",
			ContentDisposition: "b.txt",
			ContentLanguage:    "en",
			ContentEncoding:    "identity",
			CacheControl:       "no-cache",
			CacheExpiry:        expiry,
		},
		Metadata: map[string]string{"author": "someone"},
	})
	assert.Equal(t, "a/b.txt", put.Key)
	assert.EqualValues(t, 5, put.Size)
	assert.NotEmpty(t, put.ETag)

	obj, body := mustGet(t, store, "a/b.txt", storage.GetOptions{})
	assert.Equal(t, "hello", body)
	assert.Nil(t, obj.Range)
	assert.Equal(t, put.ETag, obj.ETag)
	assert.Equal(t, "text/plain", obj.ContentType)
	assert.Equal(t, "b.txt", obj.ContentDisposition)
	assert.Equal(t, "en", obj.ContentLanguage)
	assert.Equal(t, "identity", obj.ContentEncoding)
	assert.Equal(t, "no-cache", obj.CacheControl)
	assert.True(t, expiry.Equal(obj.CacheExpiry), "cache expiry")
	assert.Equal(t, "someone", obj.Metadata["author"])
	assert.False(t, obj.IsCollection())

	head, err := store.Head(context.Background(), "a/b.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 5, head.Size)
	assert.Equal(t, put.ETag, head.ETag)
	assert.WithinDuration(t, time.Now(), head.UploadedAt, time.Minute)
}

func (s *suite) testPutOverwrite(t *testing.T) {
	store := s.store(t)

	first := mustPut(t, store, "k", "one", storage.PutOptions{Metadata: map[string]string{"x": "1"}})
	second := mustPut(t, store, "k", "second", storage.PutOptions{})
	assert.NotEqual(t, first.ETag, second.ETag)

	obj, body := mustGet(t, store, "k", storage.GetOptions{})
	assert.Equal(t, "second", body)
	assert.EqualValues(t, 6, obj.Size)
	assert.NotContains(t, obj.Metadata, "x")
}

func (s *suite) testCollectionMarker(t *testing.T) {
	store := s.store(t)

	mustPut(t, store, "dir", "", storage.PutOptions{
		Metadata: map[string]string{storage.ResourceTypeKey: storage.CollectionMarker},
	})

	e, err := store.Head(context.Background(), "dir")
	require.NoError(t, err)
	assert.True(t, e.IsCollection())
	assert.Zero(t, e.Size)
}

func (s *suite) testGetRanges(t *testing.T) {
	store := s.store(t)
	mustPut(t, store, "r", "0123456789", storage.PutOptions{})

	tests := []struct {
		name string
		rng  *storage.Range
		want string
	}{
		{"offset and length", storage.OffsetRange(2, 3), "234"},
		{"open ended", storage.OpenRange(7), "789"},
		{"suffix", storage.SuffixRange(4), "6789"},
		{"length past end", storage.OffsetRange(8, 10), "89"},
		{"suffix larger than body", storage.SuffixRange(50), "0123456789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, body := mustGet(t, store, "r", storage.GetOptions{Range: tt.rng})
			assert.Equal(t, tt.want, body)
			assert.EqualValues(t, 10, obj.Size, "Size reports the full body")
		})
	}
}

func (s *suite) testGetConditions(t *testing.T) {
	store := s.store(t)
	e := mustPut(t, store, "c", "body", storage.PutOptions{})
	ctx := context.Background()

	_, err := store.Get(ctx, "c", storage.GetOptions{Conditions: storage.Conditions{IfMatch: `"nope"`}})
	require.ErrorIs(t, err, storage.ErrPreconditionFailed)

	_, err = store.Get(ctx, "c", storage.GetOptions{Conditions: storage.Conditions{IfNoneMatch: e.ETag}})
	require.ErrorIs(t, err, storage.ErrPreconditionFailed)

	_, err = store.Get(ctx, "c", storage.GetOptions{Conditions: storage.Conditions{IfModifiedSince: time.Now().Add(time.Hour)}})
	require.ErrorIs(t, err, storage.ErrPreconditionFailed)

	_, body := mustGet(t, store, "c", storage.GetOptions{Conditions: storage.Conditions{IfMatch: e.ETag}})
	assert.Equal(t, "body", body)

	_, body = mustGet(t, store, "c", storage.GetOptions{Conditions: storage.Conditions{IfUnmodifiedSince: time.Now().Add(time.Hour)}})
	assert.Equal(t, "body", body)
}

func (s *suite) testPutConditions(t *testing.T) {
	store := s.store(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "p", strings.NewReader("x"), 1, storage.PutOptions{
		Conditions: storage.Conditions{IfMatch: `"anything"`},
	})
	require.ErrorIs(t, err, storage.ErrPreconditionFailed)

	_, err = store.Head(ctx, "p")
	require.ErrorIs(t, err, storage.ErrNotFound, "failed conditional put must not create the key")

	e := mustPut(t, store, "p", "x", storage.PutOptions{Conditions: storage.Conditions{IfNoneMatch: "*"}})

	_, err = store.Put(ctx, "p", strings.NewReader("y"), 1, storage.PutOptions{
		Conditions: storage.Conditions{IfNoneMatch: "*"},
	})
	require.ErrorIs(t, err, storage.ErrPreconditionFailed)

	mustPut(t, store, "p", "z", storage.PutOptions{Conditions: storage.Conditions{IfMatch: e.ETag}})
	_, body := mustGet(t, store, "p", storage.GetOptions{})
	assert.Equal(t, "z", body)
}

func (s *suite) testDeleteMany(t *testing.T) {
	store := s.store(t)
	ctx := context.Background()

	for _, key := range []string{"d/1", "d/2", "d/3"} {
		mustPut(t, store, key, key, storage.PutOptions{})
	}

	require.NoError(t, store.Delete(ctx, "d/1", "d/3", "d/missing"))

	_, err := store.Head(ctx, "d/1")
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.Head(ctx, "d/3")
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.Head(ctx, "d/2")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx))
}

func (s *suite) testListShallowAndRecursive(t *testing.T) {
	store := s.store(t)

	for _, key := range []string{"top", "a", "a/x", "a/y", "a/y/z", "ab"} {
		mustPut(t, store, key, "", storage.PutOptions{})
	}

	assert.Equal(t, []string{"a", "ab", "top"}, listAll(t, store, storage.ListOptions{Delimiter: "/"}))
	assert.Equal(t, []string{"a/x", "a/y"}, listAll(t, store, storage.ListOptions{Prefix: "a/", Delimiter: "/"}))
	assert.Equal(t, []string{"a/x", "a/y", "a/y/z"}, listAll(t, store, storage.ListOptions{Prefix: "a/"}))
	assert.Empty(t, listAll(t, store, storage.ListOptions{Prefix: "nothing/"}))
}

func (s *suite) testListPagination(t *testing.T) {
	store := s.store(t)

	want := []string{"p/0", "p/1", "p/2", "p/3", "p/4"}
	for _, key := range want {
		mustPut(t, store, key, key, storage.PutOptions{})
	}

	page, err := store.List(context.Background(), storage.ListOptions{Prefix: "p/", Limit: 2})
	require.NoError(t, err)
	assert.True(t, page.Truncated)
	assert.Len(t, page.Entries, 2)
	assert.NotEmpty(t, page.Cursor)

	assert.Equal(t, want, listAll(t, store, storage.ListOptions{Prefix: "p/", Limit: 2}))
	assert.Equal(t, want, listAll(t, store, storage.ListOptions{Prefix: "p/", Limit: 5}))
}

func (s *suite) testListCursorSurvivesDeletion(t *testing.T) {
	store := s.store(t)
	ctx := context.Background()

	for _, key := range []string{"q/0", "q/1", "q/2", "q/3"} {
		mustPut(t, store, key, key, storage.PutOptions{})
	}

	page, err := store.List(ctx, storage.ListOptions{Prefix: "q/", Limit: 2})
	require.NoError(t, err)
	require.True(t, page.Truncated)

	for _, e := range page.Entries {
		require.NoError(t, store.Delete(ctx, e.Key))
	}

	rest, err := store.List(ctx, storage.ListOptions{Prefix: "q/", Limit: 2, Cursor: page.Cursor})
	require.NoError(t, err)
	var keys []string
	for _, e := range rest.Entries {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"q/2", "q/3"}, keys)
}
