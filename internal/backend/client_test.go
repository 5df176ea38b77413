package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/logging"
)

func testClient(t *testing.T, h http.Handler, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{
		BaseURL: srv.URL + "/api/",
		Token:   "secret",
		Timeout: 5 * time.Second,
		Retries: retries,
		Logger:  logging.New(nil, "silent"),
	})
}

func TestHistory(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/conversations/+15551234/messages", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("page_size"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(domain.HistoryPage{
			Page: 2,
			Messages: []domain.Message{
				{Sender: "customer", Content: "hi", Kind: domain.KindText, Timestamp: "2026-03-14T09:30:00Z"},
			},
		})
	}), 0)

	page, err := c.History(context.Background(), "+15551234", 2, 20)
	require.NoError(t, err)
	assert.Equal(t, "+15551234", page.ConversationID)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "hi", page.Messages[0].Content)
}

func TestHistory_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(domain.HistoryPage{Page: 1})
	}), 3)

	_, err := c.History(context.Background(), "c1", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHistory_StatusError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such conversation", http.StatusNotFound)
	}), 2)

	_, err := c.History(context.Background(), "c1", 1, 20)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "history", se.Op)
	assert.Contains(t, err.Error(), "no such conversation")
}

func TestSend(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/conversations/c1/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req domain.SendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Content)
		assert.Equal(t, "representative", req.Sender)
		assert.Equal(t, "Dana", req.Name)

		_ = json.NewEncoder(w).Encode(domain.Message{
			Sender: req.Sender, Content: req.Content, Kind: domain.KindText, Timestamp: "2026-03-14T09:31:00Z",
		})
	}), 0)

	msg, err := c.Send(context.Background(), "c1", domain.SendRequest{Content: "hello", Sender: "representative", Name: "Dana"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14T09:31:00Z", msg.Timestamp)
}

func TestSend_NotRetried(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}), 3)

	_, err := c.Send(context.Background(), "c1", domain.SendRequest{Content: "x", Sender: "representative"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendMedia(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations/c1/media", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "representative", r.FormValue("sender"))

		f, fh, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "receipt.pdf", fh.Filename)
		assert.Equal(t, "application/pdf", fh.Header.Get("Content-Type"))
		assert.Equal(t, "%PDF-1.4", string(data))

		_ = json.NewEncoder(w).Encode(domain.MediaRef{URL: "http://x/media/abc.pdf", FileName: fh.Filename})
	}), 0)

	ref, err := c.SendMedia(context.Background(), "c1", domain.MediaUpload{
		FileName: "receipt.pdf",
		MimeType: "application/pdf",
		Sender:   "representative",
		Body:     strings.NewReader("%PDF-1.4"),
	})
	require.NoError(t, err)
	assert.Equal(t, "http://x/media/abc.pdf", ref.URL)
}

func TestEscalationCalls(t *testing.T) {
	var paths []string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(domain.ConversationMeta{ConversationID: "c1", EscalationStatus: true})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}), 0)

	ctx := context.Background()
	require.NoError(t, c.Escalate(ctx, "c1"))
	require.NoError(t, c.Deescalate(ctx, "c1"))
	require.NoError(t, c.Purge(ctx, "c1"))
	meta, err := c.Meta(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, meta.EscalationStatus)

	assert.Equal(t, []string{
		"POST /api/conversations/c1/escalate",
		"POST /api/conversations/c1/deescalate",
		"DELETE /api/conversations/c1/messages",
		"GET /api/conversations/c1",
	}, paths)
}

func TestEscalate_Failure(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), 0)

	err := c.Escalate(context.Background(), "c1")
	require.Error(t, err)
	assert.Equal(t, "escalate: status 500: Internal Server Error", err.Error())
}

func TestInbound(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations/c1/inbound", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(domain.Message{Sender: "customer", Content: body["content"], Timestamp: "2026-03-14T09:30:00Z"})
	}), 0)

	msg, err := c.Inbound(context.Background(), "c1", "hello?")
	require.NoError(t, err)
	assert.Equal(t, "customer", msg.Sender)
	assert.Equal(t, "hello?", msg.Content)
}

func TestBadJSON(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}), 0)
	_, err := c.Meta(context.Background(), "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse response")
}
