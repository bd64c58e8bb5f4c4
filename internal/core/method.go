package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-http-utils/headers"
)

// Method is a request method known to the dispatcher.
type Method int

const (
	MethodUnsupported Method = iota
	MethodOptions
	MethodHead
	MethodGet
	MethodPut
	MethodDelete
	MethodMkcol
	MethodPropfind
	MethodProppatch
	MethodCopy
	MethodMove
)

// supportedMethods is advertised in the Allow header, in this order.
var supportedMethods = []Method{
	MethodOptions,
	MethodPropfind,
	MethodProppatch,
	MethodMkcol,
	MethodGet,
	MethodHead,
	MethodPut,
	MethodDelete,
	MethodCopy,
	MethodMove,
}

// ParseMethod maps a request method name onto a Method. Unknown names map to
// MethodUnsupported.
func ParseMethod(name string) Method {
	switch name {
	case http.MethodOptions:
		return MethodOptions
	case http.MethodHead:
		return MethodHead
	case http.MethodGet:
		return MethodGet
	case http.MethodPut:
		return MethodPut
	case http.MethodDelete:
		return MethodDelete
	case "MKCOL":
		return MethodMkcol
	case "PROPFIND":
		return MethodPropfind
	case "PROPPATCH":
		return MethodProppatch
	case "COPY":
		return MethodCopy
	case "MOVE":
		return MethodMove
	}
	return MethodUnsupported
}

func (m Method) String() string {
	switch m {
	case MethodOptions:
		return http.MethodOptions
	case MethodHead:
		return http.MethodHead
	case MethodGet:
		return http.MethodGet
	case MethodPut:
		return http.MethodPut
	case MethodDelete:
		return http.MethodDelete
	case MethodMkcol:
		return "MKCOL"
	case MethodPropfind:
		return "PROPFIND"
	case MethodProppatch:
		return "PROPPATCH"
	case MethodCopy:
		return "COPY"
	case MethodMove:
		return "MOVE"
	case MethodUnsupported:
		return "UNSUPPORTED"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// allowHeader is the value of the Allow header.
var allowHeader = func() string {
	names := make([]string, len(supportedMethods))
	for i, m := range supportedMethods {
		names[i] = m.String()
	}
	return strings.Join(names, ", ")
}()

// handlerFunc handles one request. A returned error is an unhandled store
// failure; every protocol-level outcome is written by the handler itself.
type handlerFunc func(ctx context.Context, w http.ResponseWriter, r *http.Request) error

// handlerFor returns the handler of m. Every Method has exactly one.
func (s *Server) handlerFor(m Method) handlerFunc {
	switch m {
	case MethodOptions:
		return s.handleOptions
	case MethodHead:
		return s.handleGet
	case MethodGet:
		return s.handleGet
	case MethodPut:
		return s.handlePut
	case MethodDelete:
		return s.handleDelete
	case MethodMkcol:
		return s.handleMkcol
	case MethodPropfind:
		return s.handlePropfind
	case MethodProppatch:
		return s.handleProppatch
	case MethodCopy:
		return s.handleCopy
	case MethodMove:
		return s.handleMove
	case MethodUnsupported:
		return s.handleUnsupported
	}
	panic(fmt.Sprintf("no handler for %v", m))
}

// dispatch routes a request to its handler and turns unhandled failures into
// a 500 response.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	method := ParseMethod(r.Method)

	err := s.handlerFor(method)(ctx, w, r)
	if err == nil {
		return
	}

	if errors.Is(err, context.Canceled) {
		slog.Debug("Request canceled", "method", r.Method, "path", r.URL.Path)
		return
	}

	slog.Error("Handle request", "method", r.Method, "path", r.URL.Path, "err", err)
	writeInternalError(w)
}

// writeCapabilities sets the DAV class and Allow headers.
func writeCapabilities(w http.ResponseWriter) {
	w.Header().Set(headerDAV, "1")
	w.Header().Set(headers.Allow, allowHeader)
}

func (s *Server) handleOptions(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	writeCapabilities(w)
	writeStatus(w, http.StatusNoContent)
	return nil
}

func (s *Server) handleUnsupported(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	writeCapabilities(w)
	writeError(w, http.StatusMethodNotAllowed)
	return nil
}
