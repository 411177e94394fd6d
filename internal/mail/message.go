package mail

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Collaborator error taxonomy. Callers branch with errors.Is.
var (
	ErrNotFound     = errors.New("message not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
)

// Mailbox lists and fetches messages from the user's inbox.
type Mailbox interface {
	// List returns message ids matching the search expression, most
	// relevant first, capped at max.
	List(ctx context.Context, query string, max int64) ([]string, error)

	// Fetch returns the full MIME structure of a message.
	Fetch(ctx context.Context, id string) (*RawMessage, error)

	// FetchAttachment returns the decoded bytes of an attachment.
	FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// RawMessage is a message as the mail provider returns it: headers plus
// a tree of MIME parts with base64url-encoded inline bodies.
type RawMessage struct {
	ID      string
	Headers []Header
	Payload *Part
}

// Header is a single message header.
type Header struct {
	Name  string
	Value string
}

// Part is one node of the MIME part tree.
type Part struct {
	MimeType string
	Filename string
	Body     *PartBody
	Parts    []*Part
}

// PartBody carries either inline base64url data or an attachment
// reference to be fetched separately.
type PartBody struct {
	Data         string
	AttachmentID string
}

// Header returns the first header value matching name, case-insensitively.
func (m *RawMessage) Header(name string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Subject returns the message subject header.
func (m *RawMessage) Subject() string {
	return m.Header("subject")
}

// From returns the message sender header.
func (m *RawMessage) From() string {
	return m.Header("from")
}

// Date returns the parsed Date header, or the zero time if it is
// missing or unparseable.
func (m *RawMessage) Date() time.Time {
	raw := m.Header("date")
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, "Mon, 2 Jan 2006 15:04:05 -0700", "2 Jan 2006 15:04:05 -0700"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
