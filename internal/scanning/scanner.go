package scanning

import (
	"context"
	"errors"
)

// ErrRateLimited marks a provider quota rejection. The adapter retries
// these internally; callers only see it once retries are exhausted.
var ErrRateLimited = errors.New("generative service rate limited")

// Fields is the JSON object the generative service is instructed to
// return. Values are raw model output; the caller normalizes them.
type Fields struct {
	Merchant string  `json:"merchant"`
	Date     string  `json:"date"`
	Amount   float64 `json:"amount"`
	Category string  `json:"category"`
	Currency string  `json:"currency"`
}

// Request carries the message context included in every prompt.
type Request struct {
	Subject string
	From    string
	Date    string // message date in YYYY-MM-DD, the model's fallback
	Content string // truncated body text, empty for the vision variant
}

// Extractor asks a generative model for structured receipt fields.
type Extractor interface {
	// ExtractText sends a text-only prompt.
	ExtractText(ctx context.Context, req Request) (*Fields, error)
	// ExtractImage sends the prompt with one inline image or PDF.
	ExtractImage(ctx context.Context, req Request, image []byte, mimeType string) (*Fields, error)
	// Close releases provider resources.
	Close() error
}
