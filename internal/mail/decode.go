package mail

import (
	"encoding/base64"
	"regexp"
	"strings"
)

// minSignalLength is the minimum decoded length for a text part to be
// worth extracting from. Shorter parts are boilerplate or separators.
const minSignalLength = 50

// DecodedContent is the usable content of a message: a plain-text view,
// the raw HTML when present, and any embeddable images or PDFs.
type DecodedContent struct {
	PlainText string
	HTML      string
	Images    []ImageRef
}

// ImageRef points at an image either decoded inline or by attachment id.
type ImageRef struct {
	MimeType     string
	Data         []byte
	AttachmentID string
	Filename     string
}

// Empty reports whether the message yielded nothing to extract from.
func (c DecodedContent) Empty() bool {
	return c.PlainText == "" && c.HTML == "" && len(c.Images) == 0
}

// Decode turns a raw message into DecodedContent. It prefers the first
// qualifying text/plain part; failing that it strips the first
// qualifying text/html part into a plain-text approximation, keeping
// the raw HTML alongside. Pure function of its input.
func Decode(msg *RawMessage) DecodedContent {
	var content DecodedContent
	if msg == nil || msg.Payload == nil {
		return content
	}

	if text, ok := findText(msg.Payload, "text/plain"); ok {
		content.PlainText = text
	}
	if html, ok := findText(msg.Payload, "text/html"); ok {
		content.HTML = html
		if content.PlainText == "" {
			content.PlainText = StripHTML(html)
		}
	}
	collectImages(msg.Payload, &content.Images)
	return content
}

// findText depth-first searches the part tree for the first part of the
// given mime type with decodable inline data above the signal threshold.
func findText(p *Part, mimeType string) (string, bool) {
	if p.MimeType == mimeType && p.Body != nil && p.Body.Data != "" {
		if data, err := decodeBase64URL(p.Body.Data); err == nil && len(data) >= minSignalLength {
			return string(data), true
		}
	}
	for _, child := range p.Parts {
		if text, ok := findText(child, mimeType); ok {
			return text, true
		}
	}
	return "", false
}

// collectImages gathers every image (and PDF) part, inline bytes when
// available, otherwise an attachment reference for lazy fetching.
func collectImages(p *Part, images *[]ImageRef) {
	if strings.HasPrefix(p.MimeType, "image/") || p.MimeType == "application/pdf" {
		if p.Body != nil {
			ref := ImageRef{MimeType: p.MimeType, Filename: p.Filename}
			if p.Body.Data != "" {
				if data, err := decodeBase64URL(p.Body.Data); err == nil {
					ref.Data = data
				}
			}
			if ref.Data == nil {
				ref.AttachmentID = p.Body.AttachmentID
			}
			if ref.Data != nil || ref.AttachmentID != "" {
				*images = append(*images, ref)
			}
		}
	}
	for _, child := range p.Parts {
		collectImages(child, images)
	}
}

// decodeBase64URL decodes data encoded with the URL-safe base64
// alphabet by remapping it to the standard alphabet first.
func decodeBase64URL(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	s = strings.TrimRight(s, "=")
	return base64.RawStdEncoding.DecodeString(s)
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

var htmlEntities = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
)

// StripHTML reduces markup to a whitespace-normalized plain-text
// approximation, decoding only the handful of entities that show up in
// receipt emails.
func StripHTML(html string) string {
	text := tagPattern.ReplaceAllString(html, " ")
	text = htmlEntities.Replace(text)
	return strings.Join(strings.Fields(text), " ")
}
