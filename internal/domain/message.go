package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Sender roles. The set is open; clients treat the label as opaque.
const (
	SenderCustomer       = "customer"
	SenderRepresentative = "representative"
	SenderAgent          = "agent"
)

// Kind classifies a message payload.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindAudio, KindVideo, KindDocument:
		return true
	}
	return false
}

// TimestampLayout is the layout used for locally generated timestamps.
// Second precision keeps a local send and its gateway echo comparable.
const TimestampLayout = "2006-01-02T15:04:05Z07:00"

// timestampLayouts are tried in order when parsing timestamps from the wire.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// FormatTimestamp renders t the way locally created messages carry it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimestampLayout)
}

// ParseTimestamp parses an ISO-8601 timestamp. Timestamps without a zone
// are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// Message is one communication event in a conversation.
type Message struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Kind      Kind   `json:"type"`
	Timestamp string `json:"timestamp"`
}

// MessageKey is the identity used for duplicate suppression.
type MessageKey struct {
	Sender    string
	Timestamp string
	Content   string
}

// Key returns the (sender, timestamp, content) triple of m.
func (m Message) Key() MessageKey {
	return MessageKey{Sender: m.Sender, Timestamp: m.Timestamp, Content: m.Content}
}

// Time parses the message timestamp.
func (m Message) Time() (time.Time, error) {
	return ParseTimestamp(m.Timestamp)
}

// Validate checks the fields a decoded wire message must carry.
func (m Message) Validate() error {
	if m.Sender == "" {
		return fmt.Errorf("message: sender is required")
	}
	if m.Timestamp == "" {
		return fmt.Errorf("message: timestamp is required")
	}
	if m.Kind != "" && !m.Kind.Valid() {
		return fmt.Errorf("message: unknown type %q", m.Kind)
	}
	return nil
}

// mediaPattern matches `[caption](url)` and `![caption](url)`.
var mediaPattern = regexp.MustCompile(`^(!?)\[([^\]]*)\]\((\S+)\)$`)

// EncodeMediaContent wraps an uploaded media reference into message content.
// Images use the `![caption](url)` form, every other kind `[caption](url)`.
func EncodeMediaContent(kind Kind, caption, url string) string {
	caption = strings.ReplaceAll(caption, "]", ")")
	if kind == KindImage {
		return "![" + caption + "](" + url + ")"
	}
	return "[" + caption + "](" + url + ")"
}

// DecodeMediaContent extracts the caption and URL from encoded media
// content. ok is false for plain text.
func DecodeMediaContent(content string) (caption, url string, image, ok bool) {
	m := mediaPattern.FindStringSubmatch(strings.TrimSpace(content))
	if m == nil {
		return "", "", false, false
	}
	return m[2], m[3], m[1] == "!", true
}
