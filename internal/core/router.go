package core

import (
	"net/http"
)

// Handler returns an http.Handler serving the WebDAV namespace. Every method
// on every path goes through the dispatcher.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.dispatch)

	// Add middleware
	handler := SlashFix(mux)
	handler = s.RequireAuthentication(handler)
	handler = s.Cors(handler)
	handler = s.LogRequest(handler)
	handler = Recoverer(handler)
	handler = AssignRequestID(handler)
	return handler
}
