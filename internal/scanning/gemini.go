package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	rateLimitRetries = 3
	rateLimitBackoff = 5 * time.Second
	callTimeout      = 30 * time.Second
)

// Gemini implements the Extractor interface using Google Gemini.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	sleep  func(time.Duration)
}

// NewGemini creates a Gemini extractor. The model runs at low
// temperature with a tight output budget so responses stay a single
// deterministic JSON object.
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.1)
	model.SetTopP(0.8)
	model.SetMaxOutputTokens(200)

	return &Gemini{
		client: client,
		model:  model,
		sleep:  time.Sleep,
	}, nil
}

// ExtractText asks the model for receipt fields from text context only.
func (g *Gemini) ExtractText(ctx context.Context, req Request) (*Fields, error) {
	return g.generate(ctx, genai.Text(buildPrompt(req)))
}

// ExtractImage asks the model for receipt fields from the prompt plus
// one inline image. The caller is expected to have converted the image
// to PNG already.
func (g *Gemini) ExtractImage(ctx context.Context, req Request, image []byte, mimeType string) (*Fields, error) {
	finalImage, _, err := prepareImage(image, mimeType)
	if err != nil {
		return nil, err
	}
	// genai.ImageData wants the bare format suffix; prepareImage always
	// hands back PNG.
	return g.generate(ctx, genai.ImageData("png", finalImage), genai.Text(buildPrompt(req)))
}

func (g *Gemini) generate(ctx context.Context, parts ...genai.Part) (*Fields, error) {
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		resp, err := g.model.GenerateContent(callCtx, parts...)
		cancel()
		if err == nil {
			return fieldsFromResponse(resp)
		}
		if !isRateLimit(err) {
			slog.Error("Gemini call failed", "error", err)
			return nil, fmt.Errorf("generating content: %w", err)
		}
		if attempt >= rateLimitRetries {
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		slog.Warn("Gemini rate limited, backing off", "attempt", attempt)
		g.sleep(rateLimitBackoff)
	}
}

func fieldsFromResponse(resp *genai.GenerateContentResponse) (*Fields, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	fields, err := parseFields(text.String())
	if err != nil {
		return nil, fmt.Errorf("parsing receipt fields: %w", err)
	}
	return fields, nil
}

func isRateLimit(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == 429 || apiErr.Code == 403) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "ResourceExhausted") || strings.Contains(msg, "quota")
}

// Close closes the Gemini client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
