package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-http-utils/headers"
	"github.com/google/uuid"
)

// ResponseWriterWrapper is a wrapper around the default http.ResponseWriter.
// It intercepts the WriteHeader call and saves the response status code.
type ResponseWriterWrapper struct {
	http.ResponseWriter
	WrittenResponseCode int
}

// WriteHeader intercepts the status code and stores it, then calls the original WriteHeader.
func (w *ResponseWriterWrapper) WriteHeader(statusCode int) {
	if w.WrittenResponseCode == 0 {
		w.WrittenResponseCode = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write calls the underlying ResponseWriter's Write method.
func (w *ResponseWriterWrapper) Write(b []byte) (int, error) {
	if w.WrittenResponseCode == 0 {
		w.WrittenResponseCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *ResponseWriterWrapper) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carried by ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type LogEntry struct {
	ID         string
	IP         string
	User       string
	Method     string
	URL        string
	Proto      string
	DurationMS float64
	StatusCode int
}

func (e LogEntry) Client() slog.Attr {
	return slog.Group("user", "ip", e.IP, "name", e.User)
}

func (e LogEntry) Request() slog.Attr {
	return slog.Group("request",
		"id", e.ID,
		"proto", e.Proto,
		"method", e.Method,
		"url", e.URL,
		"duration_ms", e.DurationMS,
		"status_code", e.StatusCode,
	)
}

// AssignRequestID tags every request with a unique id, reusing one supplied
// by the client.
func AssignRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(headerRequestID, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LogRequest is middleware that logs incoming HTTP requests and records their
// outcome in the request metrics.
func (s *Server) LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		entry := LogEntry{
			ID:     RequestID(r.Context()),
			IP:     r.RemoteAddr,
			Method: r.Method,
			URL:    r.URL.String(),
			Proto:  r.Proto,
		}
		if user, _, ok := r.BasicAuth(); ok {
			entry.User = user
		}

		writer := ResponseWriterWrapper{ResponseWriter: w}

		start := time.Now()
		next.ServeHTTP(&writer, r)
		elapsed := time.Since(start)

		if writer.WrittenResponseCode == 0 {
			writer.WrittenResponseCode = http.StatusOK
		}

		entry.DurationMS = float64(elapsed.Nanoseconds()) / float64(time.Millisecond)
		entry.StatusCode = writer.WrittenResponseCode

		s.Config.Metrics.ObserveRequest(ParseMethod(r.Method).String(), entry.StatusCode, elapsed)

		switch {
		case entry.StatusCode >= 500:
			slog.Error("Request", entry.Client(), entry.Request())
		case entry.StatusCode >= 400:
			slog.Warn("Request", entry.Client(), entry.Request())
		default:
			slog.Info("Request", entry.Client(), entry.Request())
		}
	})
}

// RequireAuthentication is middleware that rejects requests without valid
// credentials. OPTIONS is exempt so that CORS preflight requests succeed.
func (s *Server) RequireAuthentication(next http.Handler) http.Handler {
	challenge := fmt.Sprintf("Basic realm=%q", s.Config.Realm)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		user, err := s.Config.Authenticator.AuthenticateRequest(r.Context(), r)
		if err != nil {
			slog.Error("Authenticate request", "err", err)
			writeInternalError(w)
			return
		}

		if user == nil {
			w.Header().Set(headers.WWWAuthenticate, challenge)
			writeError(w, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

var (
	corsAllowHeaders = strings.Join([]string{
		headers.Authorization,
		headers.ContentType,
		headerDepth,
		headerOverwrite,
		headerDestination,
		headers.Range,
		headers.IfMatch,
		headers.IfNoneMatch,
		headers.IfModifiedSince,
		headers.IfUnmodifiedSince,
	}, ", ")

	corsExposeHeaders = strings.Join([]string{
		headers.ContentType,
		headers.ContentLength,
		headers.ContentRange,
		headerDAV,
		headers.ETag,
		headers.LastModified,
		headers.Location,
		"Date",
	}, ", ")
)

// Cors decorates every response with the cross-origin headers browsers need
// to talk WebDAV to this server.
func (s *Server) Cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set(headers.AccessControlAllowOrigin, s.Config.AllowOrigin)
		h.Set(headers.AccessControlAllowMethods, allowHeader)
		h.Set(headers.AccessControlAllowHeaders, corsAllowHeaders)
		h.Set(headers.AccessControlExposeHeaders, corsExposeHeaders)
		h.Set(headers.AccessControlMaxAge, "86400")

		next.ServeHTTP(w, r)
	})
}

// SlashFix normalizes the request path with CleanPath before it reaches the
// mux, so the mux never redirects. Dot segments are rejected with 400.
func SlashFix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cleaned, err := CleanPath(r.URL.Path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r.URL.Path = cleaned
		r.URL.RawPath = ""

		next.ServeHTTP(w, r)
	})
}

func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					// we don't recover http.ErrAbortHandler so the response
					// to the client is aborted, this should not be logged
					panic(rvr)
				}

				slog.Error("Internal Error in HTTP handler", "error", rvr, "request_id", RequestID(r.Context()))

				if r.Header.Get("Connection") != "Upgrade" {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}
		}()

		next.ServeHTTP(w, r)
	})
}
