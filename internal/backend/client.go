// Package backend is the HTTP client for the history service and the
// escalation control plane.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/logging"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		body = http.StatusText(e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, body)
}

// Options configures a Client.
type Options struct {
	// BaseURL is the API root, e.g. http://127.0.0.1:18790/api.
	BaseURL string
	Token   string
	Timeout time.Duration
	// Retries applies to idempotent reads only.
	Retries int
	Logger  *logging.Logger
}

// Client implements domain.HistoryService and domain.EscalationService.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	reads   *retryablehttp.Client
	log     *logging.Logger
}

var (
	_ domain.HistoryService    = (*Client)(nil)
	_ domain.EscalationService = (*Client)(nil)
)

// New creates a backend client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(nil, "silent")
	}
	log := opts.Logger.Sub("backend")

	reads := retryablehttp.NewClient()
	reads.RetryMax = opts.Retries
	reads.RetryWaitMin = 200 * time.Millisecond
	reads.RetryWaitMax = 2 * time.Second
	reads.HTTPClient.Timeout = opts.Timeout
	reads.Logger = leveledLogger{log}
	reads.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		token:   opts.Token,
		client:  &http.Client{Timeout: opts.Timeout},
		reads:   reads,
		log:     log,
	}
}

func (c *Client) conversationURL(id string, parts ...string) string {
	u := c.baseURL + "/conversations/" + url.PathEscape(id)
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

// History fetches one page of messages, newest first.
func (c *Client) History(ctx context.Context, conversationID string, page, pageSize int) (domain.HistoryPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	var out domain.HistoryPage
	if err := c.get(ctx, "history", c.conversationURL(conversationID, "messages")+"?"+q.Encode(), &out); err != nil {
		return domain.HistoryPage{}, err
	}
	if out.ConversationID == "" {
		out.ConversationID = conversationID
	}
	return out, nil
}

// Send records an outbound message through the request/response path.
func (c *Client) Send(ctx context.Context, conversationID string, req domain.SendRequest) (domain.Message, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	var out domain.Message
	err = c.do(ctx, "send", http.MethodPost, c.conversationURL(conversationID, "messages"),
		"application/json", bytes.NewReader(payload), &out)
	return out, err
}

// SendMedia uploads a file as multipart form data.
func (c *Client) SendMedia(ctx context.Context, conversationID string, upload domain.MediaUpload) (domain.MediaRef, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, upload.FileName))
	contentType := upload.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return domain.MediaRef{}, fmt.Errorf("failed to create form: %w", err)
	}
	if _, err := io.Copy(part, upload.Body); err != nil {
		return domain.MediaRef{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.WriteField("sender", upload.Sender); err != nil {
		return domain.MediaRef{}, fmt.Errorf("failed to create form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return domain.MediaRef{}, fmt.Errorf("failed to create form: %w", err)
	}

	var out domain.MediaRef
	err = c.do(ctx, "upload", http.MethodPost, c.conversationURL(conversationID, "media"),
		mw.FormDataContentType(), &buf, &out)
	return out, err
}

// Purge deletes the stored history of a conversation.
func (c *Client) Purge(ctx context.Context, conversationID string) error {
	return c.do(ctx, "purge", http.MethodDelete, c.conversationURL(conversationID, "messages"), "", nil, nil)
}

// Escalate hands the conversation to a human representative.
func (c *Client) Escalate(ctx context.Context, conversationID string) error {
	return c.do(ctx, "escalate", http.MethodPost, c.conversationURL(conversationID, "escalate"), "", nil, nil)
}

// Deescalate returns the conversation to automation.
func (c *Client) Deescalate(ctx context.Context, conversationID string) error {
	return c.do(ctx, "de-escalate", http.MethodPost, c.conversationURL(conversationID, "deescalate"), "", nil, nil)
}

// Meta fetches the conversation's escalation status and counters.
func (c *Client) Meta(ctx context.Context, conversationID string) (domain.ConversationMeta, error) {
	var out domain.ConversationMeta
	err := c.get(ctx, "conversation", c.conversationURL(conversationID), &out)
	return out, err
}

// Inbound records a customer message on the development backend, standing
// in for the WhatsApp webhook.
func (c *Client) Inbound(ctx context.Context, conversationID, content string) (domain.Message, error) {
	payload, err := json.Marshal(map[string]string{"content": content, "type": string(domain.KindText)})
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	var out domain.Message
	err = c.do(ctx, "inbound", http.MethodPost, c.conversationURL(conversationID, "inbound"),
		"application/json", bytes.NewReader(payload), &out)
	return out, err
}

// get performs an idempotent read with retries.
func (c *Client) get(ctx context.Context, op, rawURL string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	c.authorize(req.Header)
	req.Header.Set("Accept", "application/json")

	resp, err := c.reads.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", op, err)
	}
	return c.decode(op, resp, out)
}

// do performs a single non-idempotent request.
func (c *Client) do(ctx context.Context, op, method, rawURL, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	c.authorize(req.Header)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", op, err)
	}
	c.log.Debug().Str("op", op).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("backend call")
	return c.decode(op, resp, out)
}

func (c *Client) decode(op string, resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", op, err)
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

// leveledLogger adapts logging.Logger to retryablehttp's LeveledLogger.
type leveledLogger struct {
	log *logging.Logger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.log.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.log.Warn().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.log.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.log.Trace().Fields(kv).Msg(msg) }
