package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/deskline/deskline/internal/domain"
)

// MaxMediaSize is the largest attachment accepted for upload.
const MaxMediaSize = 16 << 20

var (
	ErrMediaTooLarge = errors.New("session: attachment too large")
	ErrMediaType     = errors.New("session: attachment type not allowed")
)

// mediaTypes lists the MIME types WhatsApp accepts, with the message kind
// each one is sent as.
var mediaTypes = []struct {
	mime string
	kind domain.Kind
}{
	{"image/jpeg", domain.KindImage},
	{"image/png", domain.KindImage},
	{"image/webp", domain.KindImage},
	{"audio/aac", domain.KindAudio},
	{"audio/mp4", domain.KindAudio},
	{"audio/mpeg", domain.KindAudio},
	{"audio/amr", domain.KindAudio},
	{"audio/ogg", domain.KindAudio},
	{"video/mp4", domain.KindVideo},
	{"video/3gpp", domain.KindVideo},
	{"application/pdf", domain.KindDocument},
	{"application/msword", domain.KindDocument},
	{"application/vnd.ms-excel", domain.KindDocument},
	{"application/vnd.ms-powerpoint", domain.KindDocument},
	{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", domain.KindDocument},
	{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", domain.KindDocument},
	{"application/vnd.openxmlformats-officedocument.presentationml.presentation", domain.KindDocument},
	{"text/plain", domain.KindDocument},
}

// Attachment is validated media ready for upload.
type Attachment struct {
	FileName string
	MimeType string
	Kind     domain.Kind
	Data     []byte
}

// ValidateMedia reads r up to the size limit and detects its type from the
// content. The file name is only used for display.
func ValidateMedia(name string, r io.Reader) (Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxMediaSize+1))
	if err != nil {
		return Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	if len(data) > MaxMediaSize {
		return Attachment{}, fmt.Errorf("%w: %s is over the %s limit",
			ErrMediaTooLarge, filepath.Base(name), humanize.IBytes(MaxMediaSize))
	}
	if len(data) == 0 {
		return Attachment{}, fmt.Errorf("%w: %s is empty", ErrMediaType, filepath.Base(name))
	}

	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		for _, t := range mediaTypes {
			// Markup and data formats descend from text/plain; only accept
			// text that was detected as plain text itself.
			if t.mime == "text/plain" && m != detected {
				continue
			}
			if m.Is(t.mime) {
				return Attachment{
					FileName: filepath.Base(name),
					MimeType: t.mime,
					Kind:     t.kind,
					Data:     data,
				}, nil
			}
		}
	}
	return Attachment{}, fmt.Errorf("%w: %s is %s", ErrMediaType, filepath.Base(name), detected.String())
}

// SendMedia validates and uploads an attachment, then sends a message that
// references it. The caption defaults to the file name.
func (s *Session) SendMedia(ctx context.Context, name string, r io.Reader, caption string) (domain.Message, error) {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return domain.Message{}, err
	}
	open := s.gateOpenLocked()
	// Peek only; deliver takes the token once the upload is done.
	limited := s.limiter != nil && s.limiter.Tokens() < 1
	s.mu.Unlock()
	if !open {
		return domain.Message{}, s.fail(ErrWindowClosed)
	}
	if limited {
		return domain.Message{}, s.fail(ErrRateLimited)
	}

	att, err := ValidateMedia(name, r)
	if err != nil {
		return domain.Message{}, s.fail(err)
	}

	ref, err := s.history.SendMedia(ctx, s.id, domain.MediaUpload{
		FileName: att.FileName,
		MimeType: att.MimeType,
		Sender:   domain.SenderRepresentative,
		Body:     bytes.NewReader(att.Data),
	})
	if err != nil {
		return domain.Message{}, s.fail(fmt.Errorf("upload %s: %w", att.FileName, err))
	}
	s.log.Info().
		Str("file", att.FileName).
		Str("size", humanize.IBytes(uint64(len(att.Data)))).
		Msg("attachment uploaded")

	caption = strings.TrimSpace(caption)
	if caption == "" {
		caption = att.FileName
	}
	return s.deliver(ctx, domain.EncodeMediaContent(att.Kind, caption, ref.URL), att.Kind)
}
