package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/session"
	"github.com/deskline/deskline/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxJSONBody     = 1 << 20
)

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v)
}

// pageParams reads page and page_size, defaulting to the first page of 20.
func pageParams(r *http.Request) (page, size int, err error) {
	page, size = 1, defaultPageSize
	if v := r.URL.Query().Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if size, err = strconv.Atoi(v); err != nil || size < 1 || size > maxPageSize {
			return 0, 0, fmt.Errorf("page_size must be between 1 and %d", maxPageSize)
		}
	}
	return page, size, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	page, size, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs, err := s.store.Page(r.Context(), id, page, size)
	if err != nil {
		s.log.Error().Err(err).Str("conversation", id).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, domain.HistoryPage{ConversationID: id, Page: page, Messages: msgs})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req domain.SendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Sender == "" {
		req.Sender = domain.SenderRepresentative
	}
	if req.Kind != "" && !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown message type")
		return
	}
	if req.Name != "" {
		s.log.Debug().Str("conversation", id).Str("name", req.Name).Msg("send on behalf of representative")
	}

	msg, err := s.record(r.Context(), id, domain.Message{Sender: req.Sender, Content: req.Content, Kind: req.Kind}, "http")
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// inboundRequest is what the WhatsApp webhook would deliver.
type inboundRequest struct {
	Content string      `json:"content"`
	Kind    domain.Kind `json:"type"`
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req inboundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	msg, err := s.record(r.Context(), id, domain.Message{Sender: domain.SenderCustomer, Content: req.Content, Kind: req.Kind}, "inbound")
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrInvalidMessage) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "could not store message")
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Purge(r.Context(), id); err != nil {
		s.log.Error().Err(err).Str("conversation", id).Msg("purge failed")
		writeError(w, http.StatusInternalServerError, "purge failed")
		return
	}
	s.log.Info().Str("conversation", id).Msg("history purged")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEscalate(escalated bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.store.SetEscalated(r.Context(), id, escalated); err != nil {
			s.log.Error().Err(err).Str("conversation", id).Msg("escalation update failed")
			writeError(w, http.StatusInternalServerError, "escalation update failed")
			return
		}
		s.log.Info().Str("conversation", id).Bool("escalated", escalated).Msg("escalation changed")
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, err := s.store.Meta(r.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Str("conversation", id).Msg("meta query failed")
		writeError(w, http.StatusInternalServerError, "conversation unavailable")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.Conversations(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("conversation list failed")
		writeError(w, http.StatusInternalServerError, "conversations unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

// handleUpload stores a multipart "file" part under a random name and
// answers with its public URL. It does not create a message; the client
// sends the reference as message content.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.mediaDir == "" {
		writeError(w, http.StatusServiceUnavailable, "media storage not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, session.MaxMediaSize+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge,
				"file exceeds "+humanize.IBytes(session.MaxMediaSize))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, session.MaxMediaSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}
	if len(data) > session.MaxMediaSize {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds "+humanize.IBytes(session.MaxMediaSize))
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "file is empty")
		return
	}

	ext := mimetype.Detect(data).Extension()
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(header.Filename))
	}
	name := uuid.New().String() + ext

	if err := os.MkdirAll(s.mediaDir, 0o700); err != nil {
		s.log.Error().Err(err).Msg("creating media directory")
		writeError(w, http.StatusInternalServerError, "could not store file")
		return
	}
	if err := os.WriteFile(filepath.Join(s.mediaDir, name), data, 0o600); err != nil {
		s.log.Error().Err(err).Msg("writing media file")
		writeError(w, http.StatusInternalServerError, "could not store file")
		return
	}
	s.metrics.uploads.Inc()
	s.log.Info().
		Str("conversation", r.PathValue("id")).
		Str("file", header.Filename).
		Str("stored", name).
		Str("size", humanize.IBytes(uint64(len(data)))).
		Str("sender", r.FormValue("sender")).
		Msg("media uploaded")

	writeJSON(w, http.StatusOK, domain.MediaRef{URL: s.mediaURL(r, name), FileName: header.Filename})
}

// mediaURL prefers the configured public URL and falls back to the
// request's host.
func (s *Server) mediaURL(r *http.Request, name string) string {
	base := strings.TrimSuffix(s.cfg.Gateway.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/media/" + name
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if s.mediaDir == "" || name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		handleNotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.mediaDir, name))
}
