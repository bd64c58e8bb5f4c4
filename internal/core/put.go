package core

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-http-utils/headers"

	"github.com/eteran/stash/pkg/storage"
)

// handlePut writes a member resource. Collections are never created or
// replaced through PUT.
func (s *Server) handlePut(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	p, listing := ParsePath(r.URL.Path)
	if listing || p.IsRoot() {
		writeError(w, http.StatusMethodNotAllowed)
		return nil
	}

	parentOK, err := s.collectionExists(ctx, p.Parent())
	if err != nil {
		return err
	}
	if !parentOK {
		writeError(w, http.StatusConflict)
		return nil
	}

	current, err := s.lookup(ctx, p)
	if err != nil {
		return err
	}
	if current != nil && current.IsCollection() {
		writeError(w, http.StatusMethodNotAllowed)
		return nil
	}

	e, err := s.store().Put(ctx, p.Key(), r.Body, r.ContentLength, storage.PutOptions{
		HTTPMetadata: parseHTTPMetadata(r.Header),
		Conditions:   parseConditions(r.Header),
	})
	if errors.Is(err, storage.ErrPreconditionFailed) {
		writeError(w, http.StatusPreconditionFailed)
		return nil
	}
	if err != nil {
		return err
	}

	w.Header().Set(headers.ETag, e.ETag)
	writeStatus(w, http.StatusCreated)
	return nil
}
