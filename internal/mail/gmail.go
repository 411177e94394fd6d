package mail

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Gmail implements the Mailbox interface over the Gmail REST API.
type Gmail struct {
	svc  *gmail.Service
	user string
}

// NewGmail creates a Gmail mailbox for the authenticated user. Options
// typically carry a token source; tests pass an endpoint override.
func NewGmail(ctx context.Context, opts ...option.ClientOption) (*Gmail, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	return &Gmail{svc: svc, user: "me"}, nil
}

// List returns the ids of messages matching query, capped at max.
func (g *Gmail) List(ctx context.Context, query string, max int64) ([]string, error) {
	resp, err := g.svc.Users.Messages.List(g.user).Q(query).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", mapAPIError(err))
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// Fetch returns the full message structure for id.
func (g *Gmail) Fetch(ctx context.Context, id string) (*RawMessage, error) {
	msg, err := g.svc.Users.Messages.Get(g.user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetching message %s: %w", id, mapAPIError(err))
	}
	return fromGmailMessage(msg), nil
}

// FetchAttachment returns the decoded bytes of an attachment.
func (g *Gmail) FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	att, err := g.svc.Users.Messages.Attachments.Get(g.user, messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetching attachment %s/%s: %w", messageID, attachmentID, mapAPIError(err))
	}
	data, err := decodeBase64URL(att.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding attachment data: %w", err)
	}
	return data, nil
}

// mapAPIError translates Gmail API failures into the collaborator error
// taxonomy so callers can branch without importing googleapi.
func mapAPIError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		case 404:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case 403, 429:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}
	return err
}

func fromGmailMessage(msg *gmail.Message) *RawMessage {
	raw := &RawMessage{ID: msg.Id}
	if msg.Payload == nil {
		return raw
	}
	for _, h := range msg.Payload.Headers {
		raw.Headers = append(raw.Headers, Header{Name: h.Name, Value: h.Value})
	}
	raw.Payload = fromGmailPart(msg.Payload)
	return raw
}

func fromGmailPart(p *gmail.MessagePart) *Part {
	part := &Part{
		MimeType: p.MimeType,
		Filename: p.Filename,
	}
	if p.Body != nil && (p.Body.Data != "" || p.Body.AttachmentId != "") {
		part.Body = &PartBody{
			Data:         p.Body.Data,
			AttachmentID: p.Body.AttachmentId,
		}
	}
	for _, child := range p.Parts {
		part.Parts = append(part.Parts, fromGmailPart(child))
	}
	return part
}
