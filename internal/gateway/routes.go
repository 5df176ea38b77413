package gateway

import "net/http"

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.handler())
	mux.HandleFunc("GET /media/{name}", s.handleMedia)

	mux.HandleFunc("GET /ws/{id}", s.requireAuth(s.handleStream))

	mux.HandleFunc("GET /api/conversations", s.requireAuth(s.handleConversations))
	mux.HandleFunc("GET /api/conversations/{id}", s.requireAuth(s.handleMeta))
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.requireAuth(s.handleHistory))
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.requireAuth(s.handleSend))
	mux.HandleFunc("DELETE /api/conversations/{id}/messages", s.requireAuth(s.handlePurge))
	mux.HandleFunc("POST /api/conversations/{id}/media", s.requireAuth(s.handleUpload))
	mux.HandleFunc("POST /api/conversations/{id}/escalate", s.requireAuth(s.handleEscalate(true)))
	mux.HandleFunc("POST /api/conversations/{id}/deescalate", s.requireAuth(s.handleEscalate(false)))
	mux.HandleFunc("POST /api/conversations/{id}/inbound", s.requireAuth(s.handleInbound))

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}
