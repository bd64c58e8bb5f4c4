package core

import (
	"context"
	"io"
	"net/http"
)

// handlePropfind reports the live properties of the target and, for
// collections, of its children down to the requested depth. The request body
// is ignored: every defined property is always returned.
func (s *Server) handlePropfind(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	p, _ := ParsePath(r.URL.Path)

	depth, ok := parseDepth(r)
	if !ok {
		writeError(w, http.StatusForbidden)
		return nil
	}

	ms := NewMultistatus()
	collection := true

	if p.IsRoot() {
		ms.Add(RootPath.Href(true), rootProperties())
	} else {
		e, err := s.lookup(ctx, p)
		if err != nil {
			return err
		}
		if e == nil {
			writeError(w, http.StatusNotFound)
			return nil
		}
		ms.addEntry(e)
		collection = e.IsCollection()
	}

	_, _ = io.Copy(io.Discard, r.Body)

	if collection && depth != DepthZero {
		mode := Shallow
		if depth == DepthInfinity {
			mode = Recursive
		}

		for e, err := range s.iterate(p, mode).All(ctx) {
			if err != nil {
				return err
			}
			ms.addEntry(&e)
		}
	}

	return writeMultistatus(w, ms)
}
