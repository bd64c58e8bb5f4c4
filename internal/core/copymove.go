package core

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-http-utils/headers"
)

func (s *Server) handleCopy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return s.copyOrMove(ctx, w, r, false)
}

func (s *Server) handleMove(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return s.copyOrMove(ctx, w, r, true)
}

// overlaps reports whether one of a and b lies inside the other.
func overlaps(a ResourcePath, b ResourcePath) bool {
	return a == b ||
		strings.HasPrefix(a.Key(), b.ChildPrefix()) ||
		strings.HasPrefix(b.Key(), a.ChildPrefix())
}

// copyOrMove implements COPY and MOVE. An existing destination is removed
// before anything is written to it.
func (s *Server) copyOrMove(ctx context.Context, w http.ResponseWriter, r *http.Request, move bool) error {
	src, _ := ParsePath(r.URL.Path)

	dst, err := parseDestination(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil
	}

	// The root can be neither source nor destination, and a tree cannot be
	// copied into itself.
	if src.IsRoot() || dst.IsRoot() || overlaps(src, dst) {
		writeError(w, http.StatusBadRequest)
		return nil
	}

	source, err := s.lookup(ctx, src)
	if err != nil {
		return err
	}
	if source == nil {
		writeError(w, http.StatusNotFound)
		return nil
	}

	depth := DepthInfinity
	if source.IsCollection() {
		d, ok := parseDepth(r)
		if !ok || d == DepthOne {
			writeError(w, http.StatusBadRequest)
			return nil
		}
		depth = d
	}

	parentOK, err := s.collectionExists(ctx, dst.Parent())
	if err != nil {
		return err
	}
	if !parentOK {
		writeError(w, http.StatusConflict)
		return nil
	}

	existing, err := s.lookup(ctx, dst)
	if err != nil {
		return err
	}
	if existing != nil {
		if !allowOverwrite(r) {
			writeError(w, http.StatusPreconditionFailed)
			return nil
		}
		if err := s.removeResource(ctx, dst, existing); err != nil {
			return err
		}
	}

	if source.IsCollection() {
		err = s.transferTree(ctx, src, dst, depth, move)
	} else {
		op := opCopy
		if move {
			op = opMove
		}
		err = s.transfer(ctx, op, src.Key(), dst.Key(), move)
	}
	if err != nil {
		return err
	}

	if existing != nil {
		writeStatus(w, http.StatusNoContent)
		return nil
	}

	w.Header().Set(headers.Location, dst.Href(source.IsCollection()))
	writeStatus(w, http.StatusCreated)
	return nil
}
