package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-http-utils/headers"

	"github.com/eteran/stash/internal/ui"
	"github.com/eteran/stash/pkg/storage"
)

// handleGet implements GET and HEAD. A trailing slash selects the HTML index
// of a collection; anything else reads the entry body.
func (s *Server) handleGet(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	p, listing := ParsePath(r.URL.Path)
	if listing || p.IsRoot() {
		return s.handleIndex(ctx, w, r, p)
	}

	opts := storage.GetOptions{
		Conditions: parseConditions(r.Header),
		Range:      parseRange(r.Header.Get(headers.Range)),
	}

	obj, err := s.store().Get(ctx, p.Key(), opts)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound)
		return nil
	case errors.Is(err, storage.ErrPreconditionFailed):
		writeError(w, http.StatusPreconditionFailed)
		return nil
	case errors.Is(err, storage.ErrRangeNotSatisfiable):
		writeError(w, http.StatusRequestedRangeNotSatisfiable)
		return nil
	case err != nil:
		return err
	}
	defer obj.Body.Close()

	if !obj.Range.Satisfiable(obj.Size) {
		w.Header().Set(headers.ContentRange, fmt.Sprintf("bytes */%d", obj.Size))
		writeError(w, http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	writeContentHeaders(w, &obj.Entry)

	start, end := obj.Range.Span(obj.Size)
	status := http.StatusOK
	if obj.Range != nil && obj.Size > 0 {
		w.Header().Set(headers.ContentRange, fmt.Sprintf("bytes %d-%d/%d", start, end-1, obj.Size))
		if end-start < obj.Size {
			status = http.StatusPartialContent
		}
	}
	w.Header().Set(headers.ContentLength, strconv.FormatInt(end-start, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := io.Copy(w, obj.Body); err != nil {
		slog.Error("Stream entry", "key", p.Key(), "err", err)
	}

	return nil
}

// handleIndex renders the HTML listing of a collection's direct children.
func (s *Server) handleIndex(ctx context.Context, w http.ResponseWriter, r *http.Request, p ResourcePath) error {
	if !p.IsRoot() {
		exists, err := s.collectionExists(ctx, p)
		if err != nil {
			return err
		}
		if !exists {
			writeError(w, http.StatusNotFound)
			return nil
		}
	}

	var links []ui.Link
	for e, err := range s.iterate(p, Shallow).All(ctx) {
		if err != nil {
			return err
		}

		name := e.ContentDisposition
		if name == "" {
			name = ResourcePath(e.Key).Name()
		}

		link := ui.Link{
			Href:       ResourcePath(e.Key).Href(e.IsCollection()),
			Name:       name,
			Collection: e.IsCollection(),
			Size:       e.Size,
		}
		if !e.UploadedAt.IsZero() {
			link.Modified = e.UploadedAt.UTC().Format(http.TimeFormat)
		}
		links = append(links, link)
	}

	parent := ""
	if !p.IsRoot() {
		parent = p.Parent().Href(true)
	}

	var buf bytes.Buffer
	if err := ui.CollectionPage(p.Href(true), parent, links).Render(ctx, &buf); err != nil {
		return err
	}

	w.Header().Set(headers.ContentType, "text/html; charset=utf-8")
	w.Header().Set(headers.ContentLength, strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)

	if r.Method != http.MethodHead {
		if _, err := w.Write(buf.Bytes()); err != nil {
			slog.Debug("Write index", "path", p.Key(), "err", err)
		}
	}

	return nil
}
