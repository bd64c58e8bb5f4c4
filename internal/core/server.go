package core

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-http-utils/headers"

	"github.com/eteran/stash/pkg/storage"
)

// Server exposes a flat object store as a WebDAV class 1 namespace.
type Server struct {
	Config Config
}

// NewServer validates cfg, fills in defaults and returns a new Server.
func NewServer(cfg Config) (*Server, error) {

	if cfg.Store == nil {
		return nil, errors.New("Store must not be nil")
	}

	if cfg.Authenticator == nil {
		return nil, errors.New("Authenticator must not be nil")
	}

	if cfg.PageSize <= 0 {
		cfg.PageSize = storage.DefaultPageSize
	}

	if cfg.Realm == "" {
		cfg.Realm = "webdav"
	}

	if cfg.AllowOrigin == "" {
		cfg.AllowOrigin = "*"
	}

	return &Server{Config: cfg}, nil
}

// Close closes the underlying store.
func (s *Server) Close() error {
	return s.Config.Store.Close()
}

func (s *Server) store() storage.Store {
	return s.Config.Store
}

// iterate returns a fresh Iterator over the children of p.
func (s *Server) iterate(p ResourcePath, mode ListMode) *Iterator {
	return NewIterator(s.store(), p.ChildPrefix(), mode, s.Config.PageSize)
}

// lookup returns the entry at p, or nil when p does not exist. The root has
// no entry and is reported as missing.
func (s *Server) lookup(ctx context.Context, p ResourcePath) (*storage.Entry, error) {
	if p.IsRoot() {
		return nil, nil
	}

	e, err := s.store().Head(ctx, p.Key())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return e, nil
}

// collectionExists reports whether p is the root or an existing collection.
func (s *Server) collectionExists(ctx context.Context, p ResourcePath) (bool, error) {
	if p.IsRoot() {
		return true, nil
	}

	e, err := s.lookup(ctx, p)
	if err != nil {
		return false, err
	}

	return e != nil && e.IsCollection(), nil
}

// writeStatus writes an empty response with the given status.
func writeStatus(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}

// writeError writes a short plain-text error response.
func writeError(w http.ResponseWriter, status int) {
	http.Error(w, http.StatusText(status), status)
}

// writeInternalError writes a generic 500 response.
func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError)
}

// writeMultistatus encodes ms and writes it with a 207 status.
func writeMultistatus(w http.ResponseWriter, ms *Multistatus) error {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(ms); err != nil {
		return err
	}

	w.Header().Set(headers.ContentType, multistatusHeader)
	w.WriteHeader(http.StatusMultiStatus)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Debug("Write multistatus", "err", err)
	}

	return nil
}
