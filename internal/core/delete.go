package core

import (
	"context"
	"net/http"
)

// handleDelete removes a member or a whole collection. Deleting the root
// clears the store.
func (s *Server) handleDelete(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	p, _ := ParsePath(r.URL.Path)
	if p.IsRoot() {
		if err := s.removeTree(ctx, RootPath); err != nil {
			return err
		}
		writeStatus(w, http.StatusNoContent)
		return nil
	}

	e, err := s.lookup(ctx, p)
	if err != nil {
		return err
	}
	if e == nil {
		writeError(w, http.StatusNotFound)
		return nil
	}

	if err := s.removeResource(ctx, p, e); err != nil {
		return err
	}

	writeStatus(w, http.StatusNoContent)
	return nil
}
