package core_test

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eteran/stash/internal/core"
	"github.com/eteran/stash/pkg/auth"
	"github.com/eteran/stash/pkg/metrics"
	"github.com/eteran/stash/pkg/storage"
)

const (
	Username = "stash"
	Password = "s3cret"
)

// NewTestServer creates a Server backed by an in-memory store and returns it
// along with an httptest.Server wrapping its handler. The page size is kept
// small so that listings always span several pages.
func NewTestServer(t *testing.T, opts ...core.ConfigOption) (*core.Server, *httptest.Server) {
	t.Helper()

	base := []core.ConfigOption{
		core.WithStore(storage.NewMemoryStore()),
		core.WithAuthEngine(auth.NewBasicAuthEngine(Username, Password)),
		core.WithPageSize(2),
	}

	srv, err := core.NewServer(core.NewConfig(append(base, opts...)...))
	require.NoError(t, err, "NewServer error")

	httpSrv := httptest.NewServer(srv.Handler())

	t.Cleanup(func() { _ = srv.Close() })
	t.Cleanup(httpSrv.Close)

	return srv, httpSrv
}

type RequestOption func(*http.Request)

func WithContentType(contentType string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set("Content-Type", contentType)
	}
}

func WithContent(body []byte) RequestOption {
	return func(req *http.Request) {
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
	}
}

func WithString(body string) RequestOption {
	return WithContent([]byte(body))
}

func WithHeader(key string, value string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set(key, value)
	}
}

func WithoutAuth() RequestOption {
	return func(req *http.Request) {
		req.Header.Del("Authorization")
	}
}

func DoMethod(t *testing.T, method string, url string, opts ...RequestOption) *http.Response {
	t.Helper()
	client := http.DefaultClient
	req, err := http.NewRequestWithContext(t.Context(), method, url, nil)
	require.NoError(t, err, "creating "+method+" request")
	req.SetBasicAuth(Username, Password)
	for _, opt := range opts {
		opt(req)
	}
	resp, err := client.Do(req)
	require.NoErrorf(t, err, "%s %s error", method, url)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// RequireStatus performs a request and checks its status code.
func RequireStatus(t *testing.T, want int, method string, url string, opts ...RequestOption) *http.Response {
	t.Helper()
	resp := DoMethod(t, method, url, opts...)
	require.Equalf(t, want, resp.StatusCode, "%s %s status", method, url)
	return resp
}

func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "reading body")
	return string(b)
}

type multistatus struct {
	Responses []struct {
		Href     string `xml:"href"`
		Propstat struct {
			Prop struct {
				DisplayName      string `xml:"displayname"`
				GetContentLength string `xml:"getcontentlength"`
				GetContentType   string `xml:"getcontenttype"`
				GetETag          string `xml:"getetag"`
				ResourceType     struct {
					Collection *struct{} `xml:"collection"`
				} `xml:"resourcetype"`
				Inner string `xml:",innerxml"`
			} `xml:"prop"`
			Status string `xml:"status"`
		} `xml:"propstat"`
	} `xml:"response"`
}

func (ms multistatus) Hrefs() []string {
	hrefs := make([]string, len(ms.Responses))
	for i, r := range ms.Responses {
		hrefs[i] = r.Href
	}
	return hrefs
}

func Propfind(t *testing.T, url string, depth string) multistatus {
	t.Helper()
	resp := RequireStatus(t, http.StatusMultiStatus, "PROPFIND", url, WithHeader("Depth", depth))
	require.Equal(t, "application/xml; charset=utf-8", resp.Header.Get("Content-Type"))

	var ms multistatus
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&ms), "decoding multistatus")
	return ms
}

// Seed creates the collection tree and members named by paths. Paths ending
// in a slash are collections; parents must precede their children.
func Seed(t *testing.T, base string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if strings.HasSuffix(p, "/") {
			RequireStatus(t, http.StatusCreated, "MKCOL", base+p)
		} else {
			RequireStatus(t, http.StatusCreated, http.MethodPut, base+p, WithString("content of "+p))
		}
	}
}

func TestOptions(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	resp := RequireStatus(t, http.StatusNoContent, http.MethodOptions, httpSrv.URL+"/anything", WithoutAuth())
	assert.Equal(t, "1", resp.Header.Get("DAV"))
	assert.Equal(t, "OPTIONS, PROPFIND, PROPPATCH, MKCOL, GET, HEAD, PUT, DELETE, COPY, MOVE", resp.Header.Get("Allow"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", resp.Header.Get("Access-Control-Max-Age"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestUnsupportedMethod(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	resp := RequireStatus(t, http.StatusMethodNotAllowed, "LOCK", httpSrv.URL+"/a")
	assert.Equal(t, "1", resp.Header.Get("DAV"))
	assert.Contains(t, resp.Header.Get("Allow"), "PROPFIND")
}

func TestAuthentication(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t, core.WithRealm("files"))

	resp := RequireStatus(t, http.StatusUnauthorized, http.MethodGet, httpSrv.URL+"/", WithoutAuth())
	assert.Equal(t, `Basic realm="files"`, resp.Header.Get("WWW-Authenticate"))

	bad := func(req *http.Request) { req.SetBasicAuth(Username, "wrong") }
	RequireStatus(t, http.StatusUnauthorized, "PROPFIND", httpSrv.URL+"/", bad)

	RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/")
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	resp := RequireStatus(t, http.StatusNoContent, http.MethodOptions, httpSrv.URL+"/", WithHeader("X-Request-Id", "abc-123"))
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-Id"))
}

func TestMkcol(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	RequireStatus(t, http.StatusCreated, "MKCOL", httpSrv.URL+"/a/")
	RequireStatus(t, http.StatusMethodNotAllowed, "MKCOL", httpSrv.URL+"/a/")
	RequireStatus(t, http.StatusMethodNotAllowed, "MKCOL", httpSrv.URL+"/a")
	RequireStatus(t, http.StatusConflict, "MKCOL", httpSrv.URL+"/x/y/")
	RequireStatus(t, http.StatusMethodNotAllowed, "MKCOL", httpSrv.URL+"/")

	// A body is tolerated and ignored.
	RequireStatus(t, http.StatusCreated, "MKCOL", httpSrv.URL+"/a/b/", WithString("<ignored/>"))

	RequireStatus(t, http.StatusCreated, http.MethodPut, httpSrv.URL+"/a/file", WithString("x"))
	RequireStatus(t, http.StatusMethodNotAllowed, "MKCOL", httpSrv.URL+"/a/file")
	RequireStatus(t, http.StatusConflict, "MKCOL", httpSrv.URL+"/a/file/sub")
}

func TestPutGet(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/a/")

	put := RequireStatus(t, http.StatusCreated, http.MethodPut, httpSrv.URL+"/a/b.txt",
		WithString("hello"),
		WithContentType("text/plain"),
		WithHeader("Content-Language", "en"),
		WithHeader("Content-Disposition", "greeting.txt"),
	)
	etag := put.Header.Get("ETag")
	require.NotEmpty(t, etag)

	resp := RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/a/b.txt")
	assert.Equal(t, "hello", ReadBody(t, resp))
	assert.Equal(t, "5", resp.Header.Get("Content-Length"))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, "en", resp.Header.Get("Content-Language"))
	assert.Equal(t, "greeting.txt", resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	assert.Equal(t, etag, resp.Header.Get("ETag"))
	assert.NotEmpty(t, resp.Header.Get("Last-Modified"))
	assert.Empty(t, resp.Header.Get("Content-Range"))

	// Overwrite is still reported as created.
	RequireStatus(t, http.StatusCreated, http.MethodPut, httpSrv.URL+"/a/b.txt", WithString("bye"))
	resp = RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/a/b.txt")
	assert.Equal(t, "bye", ReadBody(t, resp))
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))

	RequireStatus(t, http.StatusNotFound, http.MethodGet, httpSrv.URL+"/a/missing")
}

func TestPutRejections(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/a/", "/a/file")

	RequireStatus(t, http.StatusMethodNotAllowed, http.MethodPut, httpSrv.URL+"/a/new/", WithString("x"))
	RequireStatus(t, http.StatusMethodNotAllowed, http.MethodPut, httpSrv.URL+"/", WithString("x"))
	RequireStatus(t, http.StatusMethodNotAllowed, http.MethodPut, httpSrv.URL+"/a", WithString("x"))
	RequireStatus(t, http.StatusConflict, http.MethodPut, httpSrv.URL+"/missing/file", WithString("x"))
	RequireStatus(t, http.StatusConflict, http.MethodPut, httpSrv.URL+"/a/file/child", WithString("x"))
}

func TestHead(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/file")

	resp := RequireStatus(t, http.StatusOK, http.MethodHead, httpSrv.URL+"/file")
	assert.Equal(t, "16", resp.Header.Get("Content-Length"))
	assert.NotEmpty(t, resp.Header.Get("ETag"))
	assert.Empty(t, ReadBody(t, resp))

	RequireStatus(t, http.StatusNotFound, http.MethodHead, httpSrv.URL+"/missing")
}

func TestGetRanges(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	RequireStatus(t, http.StatusCreated, http.MethodPut, httpSrv.URL+"/f", WithString("hello world"))

	tests := []struct {
		name         string
		rng          string
		status       int
		body         string
		contentRange string
	}{
		{"offset and length", "bytes=0-4", http.StatusPartialContent, "hello", "bytes 0-4/11"},
		{"open ended", "bytes=6-", http.StatusPartialContent, "world", "bytes 6-10/11"},
		{"suffix", "bytes=-5", http.StatusPartialContent, "world", "bytes 6-10/11"},
		{"covers everything", "bytes=0-100", http.StatusOK, "hello world", "bytes 0-10/11"},
		{"multi range ignored", "bytes=0-1,3-4", http.StatusOK, "hello world", ""},
		{"beyond end", "bytes=20-", http.StatusRequestedRangeNotSatisfiable, "", "bytes */11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := RequireStatus(t, tt.status, http.MethodGet, httpSrv.URL+"/f", WithHeader("Range", tt.rng))
			assert.Equal(t, tt.contentRange, resp.Header.Get("Content-Range"))
			if tt.body != "" {
				assert.Equal(t, tt.body, ReadBody(t, resp))
			}
		})
	}
}

func TestConditionalRequests(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	put := RequireStatus(t, http.StatusCreated, http.MethodPut, httpSrv.URL+"/f", WithString("v1"))
	etag := put.Header.Get("ETag")

	RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/f", WithHeader("If-Match", etag))
	RequireStatus(t, http.StatusPreconditionFailed, http.MethodGet, httpSrv.URL+"/f", WithHeader("If-Match", `"other"`))
	RequireStatus(t, http.StatusPreconditionFailed, http.MethodGet, httpSrv.URL+"/f", WithHeader("If-None-Match", etag))

	// Create-only writes fail once the key exists.
	RequireStatus(t, http.StatusPreconditionFailed, http.MethodPut, httpSrv.URL+"/f", WithString("v2"), WithHeader("If-None-Match", "*"))
	RequireStatus(t, http.StatusCreated, http.MethodPut, httpSrv.URL+"/g", WithString("v1"), WithHeader("If-None-Match", "*"))

	RequireStatus(t, http.StatusCreated, http.MethodPut, httpSrv.URL+"/f", WithString("v2"), WithHeader("If-Match", etag))
	RequireStatus(t, http.StatusPreconditionFailed, http.MethodPut, httpSrv.URL+"/f", WithString("v3"), WithHeader("If-Match", etag))
}

func TestCollectionIndex(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/docs/", "/docs/a.txt", "/docs/b.txt", "/docs/sub/", "/docs/sub/deep.txt")

	resp := RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/docs/")
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	body := ReadBody(t, resp)
	assert.Contains(t, body, `href="/docs/a.txt"`)
	assert.Contains(t, body, `href="/docs/b.txt"`)
	assert.Contains(t, body, `href="/docs/sub/"`)
	assert.Contains(t, body, `href="/"`)
	assert.NotContains(t, body, "deep.txt")

	root := RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/")
	assert.Contains(t, ReadBody(t, root), `href="/docs/"`)

	RequireStatus(t, http.StatusNotFound, http.MethodGet, httpSrv.URL+"/missing/")
	RequireStatus(t, http.StatusNotFound, http.MethodGet, httpSrv.URL+"/docs/a.txt/")
}

func TestPropfindRoot(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/a/", "/a/b.txt")

	ms := Propfind(t, httpSrv.URL+"/", "0")
	require.Len(t, ms.Responses, 1)
	assert.Equal(t, "/", ms.Responses[0].Href)
	assert.NotNil(t, ms.Responses[0].Propstat.Prop.ResourceType.Collection)
	assert.Equal(t, "HTTP/1.1 200 OK", ms.Responses[0].Propstat.Status)
	assert.NotContains(t, ms.Responses[0].Propstat.Prop.Inner, "getcontentlength")
}

func TestPropfindDepth(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/a/", "/a/1", "/a/2", "/a/sub/", "/a/sub/3", "/a/sub/deeper/", "/a/sub/deeper/4")

	zero := Propfind(t, httpSrv.URL+"/a/", "0").Hrefs()
	one := Propfind(t, httpSrv.URL+"/a/", "1").Hrefs()
	infinity := Propfind(t, httpSrv.URL+"/a/", "infinity").Hrefs()

	assert.Equal(t, []string{"/a/"}, zero)
	assert.ElementsMatch(t, []string{"/a/", "/a/1", "/a/2", "/a/sub/"}, one)
	assert.ElementsMatch(t, []string{
		"/a/", "/a/1", "/a/2", "/a/sub/", "/a/sub/3", "/a/sub/deeper/", "/a/sub/deeper/4",
	}, infinity)

	for _, href := range one {
		assert.Contains(t, infinity, href)
	}

	// Absent Depth means infinity.
	resp := RequireStatus(t, http.StatusMultiStatus, "PROPFIND", httpSrv.URL+"/a/")
	var ms multistatus
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&ms))
	assert.Len(t, ms.Responses, len(infinity))

	RequireStatus(t, http.StatusForbidden, "PROPFIND", httpSrv.URL+"/a/", WithHeader("Depth", "2"))
	RequireStatus(t, http.StatusNotFound, "PROPFIND", httpSrv.URL+"/missing", WithHeader("Depth", "0"))
}

func TestPropfindMember(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	RequireStatus(t, http.StatusCreated, http.MethodPut, httpSrv.URL+"/my%20file.txt",
		WithString("hello"),
		WithContentType("text/plain"),
		WithHeader("Content-Disposition", "Display"),
	)

	ms := Propfind(t, httpSrv.URL+"/my%20file.txt", "1")
	require.Len(t, ms.Responses, 1)

	r := ms.Responses[0]
	assert.Equal(t, "/my%20file.txt", r.Href)
	assert.Equal(t, "5", r.Propstat.Prop.GetContentLength)
	assert.Equal(t, "text/plain", r.Propstat.Prop.GetContentType)
	assert.Equal(t, "Display", r.Propstat.Prop.DisplayName)
	assert.NotEmpty(t, r.Propstat.Prop.GetETag)
	assert.Nil(t, r.Propstat.Prop.ResourceType.Collection)
	assert.Contains(t, r.Propstat.Prop.Inner, "getlastmodified")
	assert.Contains(t, r.Propstat.Prop.Inner, "creationdate")
	assert.NotContains(t, r.Propstat.Prop.Inner, "getcontentlanguage")
}

func TestProppatch(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t)

	RequireStatus(t, http.StatusCreated, http.MethodPut, httpSrv.URL+"/f", WithString("body"), WithContentType("text/plain"))

	set := `<?xml version="1.0"?>
<D:propertyupdate xmlns:D="DAV:" xmlns:Z="http://example.com/ns">
  <D:set><D:prop><Z:author>Someone</Z:author><Z:color>red</Z:color></D:prop></D:set>
</D:propertyupdate>`

	resp := RequireStatus(t, http.StatusMultiStatus, "PROPPATCH", httpSrv.URL+"/f", WithString(set))
	var ms multistatus
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&ms))
	require.Len(t, ms.Responses, 2)
	assert.Equal(t, "/f", ms.Responses[0].Href)
	assert.Contains(t, ms.Responses[0].Propstat.Prop.Inner, "author")
	assert.Contains(t, ms.Responses[1].Propstat.Prop.Inner, "color")
	assert.Equal(t, "HTTP/1.1 200 OK", ms.Responses[1].Propstat.Status)

	e, err := srv.Config.Store.Head(t.Context(), "f")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"author": "Someone", "color": "red"}, e.Metadata)

	remove := `<D:propertyupdate xmlns:D="DAV:" xmlns:Z="http://example.com/ns">
  <D:remove><D:prop><Z:color/></D:prop></D:remove>
</D:propertyupdate>`
	RequireStatus(t, http.StatusMultiStatus, "PROPPATCH", httpSrv.URL+"/f", WithString(remove))

	e, err = srv.Config.Store.Head(t.Context(), "f")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"author": "Someone"}, e.Metadata)
	assert.Equal(t, "text/plain", e.ContentType)

	// The body is untouched.
	get := RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/f")
	assert.Equal(t, "body", ReadBody(t, get))

	RequireStatus(t, http.StatusNotFound, "PROPPATCH", httpSrv.URL+"/missing", WithString(set))
	RequireStatus(t, http.StatusBadRequest, "PROPPATCH", httpSrv.URL+"/f", WithString("<D:propertyupdate"))
	RequireStatus(t, http.StatusNotFound, "PROPPATCH", httpSrv.URL+"/missing", WithString("<D:propertyupdate"))
}

func TestProppatchKeepsCollectionMarker(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/dir/")

	body := `<propertyupdate xmlns="DAV:"><remove><prop><resourcetype/></prop></remove></propertyupdate>`
	RequireStatus(t, http.StatusMultiStatus, "PROPPATCH", httpSrv.URL+"/dir/", WithString(body))

	e, err := srv.Config.Store.Head(t.Context(), "dir")
	require.NoError(t, err)
	assert.True(t, e.IsCollection())
}

func TestDelete(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/a/", "/a/b.txt", "/a/c/", "/a/c/d", "/a/c/e", "/ab")

	RequireStatus(t, http.StatusNoContent, http.MethodDelete, httpSrv.URL+"/a/")
	RequireStatus(t, http.StatusNotFound, http.MethodGet, httpSrv.URL+"/a/b.txt")
	RequireStatus(t, http.StatusNotFound, "PROPFIND", httpSrv.URL+"/a/", WithHeader("Depth", "0"))

	page, err := srv.Config.Store.List(t.Context(), storage.ListOptions{Prefix: "a/"})
	require.NoError(t, err)
	assert.Empty(t, page.Entries)

	// A sibling sharing the name prefix survives.
	RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/ab")

	RequireStatus(t, http.StatusNotFound, http.MethodDelete, httpSrv.URL+"/a/")
	RequireStatus(t, http.StatusNoContent, http.MethodDelete, httpSrv.URL+"/ab")
	RequireStatus(t, http.StatusNotFound, http.MethodGet, httpSrv.URL+"/ab")
}

func TestDeleteRoot(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/a/", "/a/1", "/a/2", "/b", "/c/")

	RequireStatus(t, http.StatusNoContent, http.MethodDelete, httpSrv.URL+"/")
	RequireStatus(t, http.StatusNoContent, http.MethodDelete, httpSrv.URL+"/")

	page, err := srv.Config.Store.List(t.Context(), storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
}

func TestCopyCollection(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/a/", "/a/b.txt", "/a/sub/", "/a/sub/1", "/a/sub/2")

	resp := RequireStatus(t, http.StatusCreated, "COPY", httpSrv.URL+"/a/",
		WithHeader("Destination", httpSrv.URL+"/b/"),
		WithHeader("Depth", "infinity"),
	)
	assert.Equal(t, "/b/", resp.Header.Get("Location"))

	for _, p := range []string{"/b.txt", "/sub/1", "/sub/2"} {
		src := ReadBody(t, RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/a"+p))
		dst := ReadBody(t, RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/b"+p))
		assert.Equal(t, src, dst, p)
	}

	hrefs := Propfind(t, httpSrv.URL+"/b/", "infinity").Hrefs()
	assert.ElementsMatch(t, []string{"/b/", "/b/b.txt", "/b/sub/", "/b/sub/1", "/b/sub/2"}, hrefs)
}

func TestCopyShallow(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/a/", "/a/b.txt")

	RequireStatus(t, http.StatusCreated, "COPY", httpSrv.URL+"/a/",
		WithHeader("Destination", "/b/"),
		WithHeader("Depth", "0"),
	)

	assert.Equal(t, []string{"/b/"}, Propfind(t, httpSrv.URL+"/b/", "infinity").Hrefs())
	RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/a/b.txt")

	RequireStatus(t, http.StatusBadRequest, "COPY", httpSrv.URL+"/a/",
		WithHeader("Destination", "/c/"),
		WithHeader("Depth", "1"),
	)
}

func TestCopyMember(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t)

	RequireStatus(t, http.StatusCreated, http.MethodPut, httpSrv.URL+"/src", WithString("data"), WithContentType("text/csv"))
	patch := `<propertyupdate xmlns="DAV:"><set><prop><tag xmlns="urn:x">v</tag></prop></set></propertyupdate>`
	RequireStatus(t, http.StatusMultiStatus, "PROPPATCH", httpSrv.URL+"/src", WithString(patch))

	RequireStatus(t, http.StatusCreated, "COPY", httpSrv.URL+"/src", WithHeader("Destination", "/dst"))

	e, err := srv.Config.Store.Head(t.Context(), "dst")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", e.ContentType)
	assert.Equal(t, map[string]string{"tag": "v"}, e.Metadata)
	assert.EqualValues(t, 4, e.Size)

	RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/src")
}

func TestCopyOverwrite(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/src", "/dst/", "/dst/old")

	RequireStatus(t, http.StatusPreconditionFailed, "COPY", httpSrv.URL+"/src",
		WithHeader("Destination", "/dst"),
		WithHeader("Overwrite", "F"),
	)
	RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/dst/old")

	// Overwrite defaults to T; the replaced collection is cleared first.
	RequireStatus(t, http.StatusNoContent, "COPY", httpSrv.URL+"/src", WithHeader("Destination", "/dst"))
	RequireStatus(t, http.StatusNotFound, http.MethodGet, httpSrv.URL+"/dst/old")

	resp := RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/dst")
	assert.Equal(t, "content of /src", ReadBody(t, resp))
}

func TestCopyMoveRejections(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/a/", "/a/file")

	tests := []struct {
		name   string
		method string
		path   string
		opts   []RequestOption
		status int
	}{
		{"missing destination", "COPY", "/a/file", nil, http.StatusBadRequest},
		{"relative destination", "MOVE", "/a/file", []RequestOption{WithHeader("Destination", "other")}, http.StatusBadRequest},
		{"same path", "MOVE", "/a/file", []RequestOption{WithHeader("Destination", "/a/file")}, http.StatusBadRequest},
		{"same path with slash", "MOVE", "/a/", []RequestOption{WithHeader("Destination", "/a")}, http.StatusBadRequest},
		{"into itself", "COPY", "/a/", []RequestOption{WithHeader("Destination", "/a/inner/")}, http.StatusBadRequest},
		{"onto root", "COPY", "/a/", []RequestOption{WithHeader("Destination", "/")}, http.StatusBadRequest},
		{"missing source", "COPY", "/nope", []RequestOption{WithHeader("Destination", "/x")}, http.StatusNotFound},
		{"missing parent", "MOVE", "/a/file", []RequestOption{WithHeader("Destination", "/x/y")}, http.StatusConflict},
		{"bad depth", "MOVE", "/a/", []RequestOption{WithHeader("Destination", "/b/"), WithHeader("Depth", "bogus")}, http.StatusBadRequest},
		{"dot segment destination", "COPY", "/a/file", []RequestOption{WithHeader("Destination", "/a/./other")}, http.StatusBadRequest},
		{"parent segment destination", "MOVE", "/a/file", []RequestOption{WithHeader("Destination", "/a/../other")}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RequireStatus(t, tt.status, tt.method, httpSrv.URL+tt.path, tt.opts...)
		})
	}

	RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/a/file")
}

func TestMove(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/a/", "/a/1", "/a/2", "/a/sub/", "/a/sub/3")

	RequireStatus(t, http.StatusCreated, "MOVE", httpSrv.URL+"/a/", WithHeader("Destination", httpSrv.URL+"/b/"))

	RequireStatus(t, http.StatusNotFound, http.MethodGet, httpSrv.URL+"/a/1")
	RequireStatus(t, http.StatusNotFound, "PROPFIND", httpSrv.URL+"/a/", WithHeader("Depth", "0"))

	resp := RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/b/sub/3")
	assert.Equal(t, "content of /a/sub/3", ReadBody(t, resp))

	page, err := srv.Config.Store.List(t.Context(), storage.ListOptions{Prefix: "a/"})
	require.NoError(t, err)
	assert.Empty(t, page.Entries)

	hrefs := Propfind(t, httpSrv.URL+"/b/", "infinity").Hrefs()
	assert.ElementsMatch(t, []string{"/b/", "/b/1", "/b/2", "/b/sub/", "/b/sub/3"}, hrefs)
}

func TestMoveMemberOverwrite(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/x", "/y")

	RequireStatus(t, http.StatusPreconditionFailed, "MOVE", httpSrv.URL+"/x",
		WithHeader("Destination", "/y"),
		WithHeader("Overwrite", "F"),
	)
	RequireStatus(t, http.StatusNoContent, "MOVE", httpSrv.URL+"/x",
		WithHeader("Destination", "/y"),
		WithHeader("Overwrite", "T"),
	)

	RequireStatus(t, http.StatusNotFound, http.MethodGet, httpSrv.URL+"/x")
	resp := RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/y")
	assert.Equal(t, "content of /x", ReadBody(t, resp))
}

func TestMoveShallow(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/a/", "/a/1")

	RequireStatus(t, http.StatusCreated, "MOVE", httpSrv.URL+"/a/",
		WithHeader("Destination", "/b/"),
		WithHeader("Depth", "0"),
	)

	e, err := srv.Config.Store.Head(t.Context(), "b")
	require.NoError(t, err)
	assert.True(t, e.IsCollection())

	_, err = srv.Config.Store.Head(t.Context(), "a")
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Members are left where they were.
	_, err = srv.Config.Store.Head(t.Context(), "a/1")
	require.NoError(t, err)
}

// vanishingStore hides selected keys from Get, as if they were deleted
// between listing and transfer.
type vanishingStore struct {
	storage.Store

	mu     sync.Mutex
	hidden map[string]bool
	gets   []string
}

func (s *vanishingStore) Get(ctx context.Context, key string, opts storage.GetOptions) (*storage.Object, error) {
	s.mu.Lock()
	s.gets = append(s.gets, key)
	hidden := s.hidden[key]
	s.mu.Unlock()

	if hidden {
		return nil, storage.ErrNotFound
	}
	return s.Store.Get(ctx, key, opts)
}

func TestCopySkipsVanishedDescendants(t *testing.T) {
	t.Parallel()

	store := &vanishingStore{
		Store:  storage.NewMemoryStore(),
		hidden: map[string]bool{"a/2": true},
	}
	reg := prometheus.NewRegistry()
	_, httpSrv := NewTestServer(t, core.WithStore(store), core.WithMetrics(metrics.New(reg)))

	Seed(t, httpSrv.URL, "/a/", "/a/1", "/a/2", "/a/3", "/a/4", "/a/5")

	RequireStatus(t, http.StatusCreated, "COPY", httpSrv.URL+"/a/", WithHeader("Destination", "/b/"))

	for _, name := range []string{"1", "3", "4", "5"} {
		RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/b/"+name)
	}
	RequireStatus(t, http.StatusNotFound, http.MethodGet, httpSrv.URL+"/b/2")

	store.mu.Lock()
	gets := slices.Clone(store.gets)
	store.mu.Unlock()
	assert.Contains(t, gets, "a/5")

	count, err := testutil.GatherAndCount(reg, "stash_tree_skipped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRequestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, httpSrv := NewTestServer(t, core.WithMetrics(metrics.New(reg)))

	RequireStatus(t, http.StatusNoContent, http.MethodOptions, httpSrv.URL+"/")
	RequireStatus(t, http.StatusNotFound, http.MethodGet, httpSrv.URL+"/missing")

	count, err := testutil.GatherAndCount(reg, "stash_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSlashFix(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/a/", "/a/b")

	resp := RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"//a//b")
	assert.Equal(t, "content of /a/b", ReadBody(t, resp))
}

func TestDotSegmentsRejected(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/a/", "/a/x")

	for _, method := range []string{http.MethodPut, "MKCOL", "PROPFIND", http.MethodDelete} {
		for _, path := range []string{"/a/./x", "/a/../a/x"} {
			t.Run(method+path, func(t *testing.T) {
				RequireStatus(t, http.StatusBadRequest, method, httpSrv.URL+path, WithString(""))
			})
		}
	}

	_, err := srv.Config.Store.Head(t.Context(), "a/x")
	require.NoError(t, err)
}

func TestDestinationSlashesCollapsed(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t)

	Seed(t, httpSrv.URL, "/src", "/b/")

	RequireStatus(t, http.StatusCreated, "COPY", httpSrv.URL+"/src", WithHeader("Destination", httpSrv.URL+"//ghost"))
	resp := RequireStatus(t, http.StatusOK, http.MethodGet, httpSrv.URL+"/ghost")
	assert.Equal(t, "content of /src", ReadBody(t, resp))

	RequireStatus(t, http.StatusCreated, "COPY", httpSrv.URL+"/src", WithHeader("Destination", "/b//copy"))

	for _, key := range []string{"ghost", "b/copy"} {
		_, err := srv.Config.Store.Head(t.Context(), key)
		require.NoError(t, err, key)
	}

	_, err := srv.Config.Store.Head(t.Context(), "/ghost")
	require.Error(t, err)
}

type failingStore struct {
	storage.Store
}

func (failingStore) Head(ctx context.Context, key string) (*storage.Entry, error) {
	return nil, io.ErrUnexpectedEOF
}

func TestStoreFailureIsInternalError(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t, core.WithStore(failingStore{Store: storage.NewMemoryStore()}))

	RequireStatus(t, http.StatusInternalServerError, "PROPFIND", httpSrv.URL+"/a", WithHeader("Depth", "0"))
	RequireStatus(t, http.StatusInternalServerError, http.MethodDelete, httpSrv.URL+"/a")
}

func TestNewServerRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := core.NewServer(core.NewConfig(core.WithAuthEngine(auth.NewBasicAuthEngine("u", "p"))))
	require.Error(t, err)

	_, err = core.NewServer(core.NewConfig(core.WithStore(storage.NewMemoryStore())))
	require.Error(t, err)

	srv, err := core.NewServer(core.NewConfig(
		core.WithStore(storage.NewMemoryStore()),
		core.WithAuthEngine(auth.NewBasicAuthEngine("u", "p")),
	))
	require.NoError(t, err)
	assert.Equal(t, storage.DefaultPageSize, srv.Config.PageSize)
	assert.Equal(t, "webdav", srv.Config.Realm)
}
