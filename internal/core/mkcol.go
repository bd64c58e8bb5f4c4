package core

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/eteran/stash/pkg/storage"
)

// handleMkcol creates a collection marker. Any request body is read and
// discarded.
func (s *Server) handleMkcol(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	p, _ := ParsePath(r.URL.Path)
	if p.IsRoot() {
		writeError(w, http.StatusMethodNotAllowed)
		return nil
	}

	existing, err := s.lookup(ctx, p)
	if err != nil {
		return err
	}
	if existing != nil {
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

	_, _ = io.Copy(io.Discard, r.Body)

	_, err = s.store().Put(ctx, p.Key(), strings.NewReader(""), 0, storage.PutOptions{
		HTTPMetadata: parseHTTPMetadata(r.Header),
		Metadata:     map[string]string{storage.ResourceTypeKey: storage.CollectionMarker},
	})
	if err != nil {
		return err
	}

	writeStatus(w, http.StatusCreated)
	return nil
}
