package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/anishahaha07/myfi-scanner/internal/mail"
	"github.com/anishahaha07/myfi-scanner/internal/scanning"
)

// confidenceFloor is the minimum amount an extraction strategy must
// produce to be trusted. A structural hit below it is more likely a
// page number than a total, so the cascade keeps going.
const confidenceFloor = 10

// contentCharBudget caps the body text sent per generative call.
const contentCharBudget = 5000

// callDelay is the fixed pause before each generative call, keeping a
// margin under the provider quota even when the budget has slots left.
const callDelay = 500 * time.Millisecond

// AttachmentFetcher resolves attachment references to bytes. Satisfied
// by mail.Mailbox; split out so the orchestrator needs nothing else
// from it.
type AttachmentFetcher interface {
	FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// IDGenerator mints record ids.
type IDGenerator interface {
	Generate() string
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string { return uuid.NewString() }

// Orchestrator runs the per-message extraction pipeline: promotional
// filter, then an ordered chain of strategies (structural, vision,
// aggressive text heuristic, generative text) until one result clears
// the confidence floor.
type Orchestrator struct {
	attachments AttachmentFetcher
	generative  scanning.Extractor
	budget      *CallBudget
	clock       TimeSource
	ids         IDGenerator
	sleep       func(time.Duration)
}

// NewOrchestrator creates an Orchestrator with the default clock and
// uuid record ids.
func NewOrchestrator(attachments AttachmentFetcher, generative scanning.Extractor, budget *CallBudget) *Orchestrator {
	return &Orchestrator{
		attachments: attachments,
		generative:  generative,
		budget:      budget,
		clock:       SystemTime{},
		ids:         uuidGenerator{},
		sleep:       time.Sleep,
	}
}

// Reset clears the generative call budget for a new batch.
func (o *Orchestrator) Reset() {
	o.budget.Reset()
}

// strategy is one step of the fallback cascade. applies gates the step;
// attempt returns (nil, nil) when the step found nothing usable.
type strategy struct {
	name    string
	applies func(content mail.DecodedContent) bool
	attempt func(ctx context.Context, msg *mail.RawMessage, content mail.DecodedContent) (*Receipt, error)
}

// Process turns one message into a receipt. It returns nil when the
// message is dropped (promotional, empty, or nothing extractable above
// the floor) and a degraded record when extraction failed outright; it
// never fails the batch.
func (o *Orchestrator) Process(ctx context.Context, msg *mail.RawMessage) *Receipt {
	subject := msg.Subject()
	sender := msg.From()

	content := mail.Decode(msg)
	if IsPromotional(subject, firstNonEmpty(content.HTML, content.PlainText), sender) {
		slog.Debug("Dropping promotional message", "id", msg.ID, "subject", subject)
		return nil
	}
	if content.Empty() {
		slog.Debug("Dropping message with no content", "id", msg.ID)
		return nil
	}

	hasImage := len(content.Images) > 0
	for _, s := range o.strategies() {
		if !s.applies(content) {
			continue
		}
		rec, err := s.attempt(ctx, msg, content)
		if err != nil {
			slog.Error("Extraction strategy failed", "strategy", s.name, "id", msg.ID, "error", err)
			rec := o.degradedRecord(msg)
			rec.HasImage = hasImage
			return rec
		}
		if rec == nil || !o.accept(rec) {
			continue
		}
		rec.ID = o.ids.Generate()
		rec.HasImage = hasImage
		slog.Info("Extracted receipt", "strategy", s.name, "merchant", rec.Merchant, "amount", rec.Amount)
		return rec
	}

	slog.Debug("No strategy produced an acceptable receipt", "id", msg.ID)
	return nil
}

// strategies returns the fallback cascade in priority order. The vision
// path replaces the text fallbacks when the message carries an image;
// reordering or extending the chain is a one-line change here.
func (o *Orchestrator) strategies() []strategy {
	always := func(mail.DecodedContent) bool { return true }
	withImage := func(c mail.DecodedContent) bool { return len(c.Images) > 0 }
	textOnly := func(c mail.DecodedContent) bool { return len(c.Images) == 0 }

	return []strategy{
		{name: "structural", applies: always, attempt: o.attemptStructural},
		{name: "generative-vision", applies: withImage, attempt: o.attemptVision},
		{name: "text-heuristic", applies: textOnly, attempt: o.attemptHeuristic},
		{name: "generative-text", applies: textOnly, attempt: o.attemptText},
	}
}

// accept applies the final acceptance policy in one place: a positive
// amount at or above the floor, and never the default sentinel pairing.
func (o *Orchestrator) accept(rec *Receipt) bool {
	if rec.Amount == 0 && rec.Merchant == "Unknown" {
		return false
	}
	return rec.Amount >= confidenceFloor
}

func (o *Orchestrator) attemptStructural(_ context.Context, msg *mail.RawMessage, content mail.DecodedContent) (*Receipt, error) {
	now := o.clock.Now()
	rec := ExtractStructural(content.PlainText, msg.Subject(), msg.From(), msg.Date(), now)
	if rec == nil && content.HTML != "" {
		rec = ExtractStructural(mail.StripHTML(content.HTML), msg.Subject(), msg.From(), msg.Date(), now)
	}
	return rec, nil
}

// attemptHeuristic is the aggressive text pass: same tables as the
// structural extractor but it settles for the loose patterns without
// demanding a transactional subject.
func (o *Orchestrator) attemptHeuristic(_ context.Context, msg *mail.RawMessage, content mail.DecodedContent) (*Receipt, error) {
	text := firstNonEmpty(content.PlainText, mail.StripHTML(content.HTML))
	candidates := collectAmounts(text, looseAmountRules)
	best, ok := largestAmount(candidates)
	if !ok {
		return nil, nil
	}
	now := o.clock.Now()
	return &Receipt{
		Merchant: DetectMerchant(msg.From(), msg.Subject()),
		Date:     extractDate(text, msg.Date(), now),
		Amount:   best.Value,
		Currency: detectCurrency(text),
		Category: ClassifyCategory(msg.From() + " " + msg.Subject() + " " + text),
		From:     msg.From(),
		Subject:  msg.Subject(),
	}, nil
}

func (o *Orchestrator) attemptVision(ctx context.Context, msg *mail.RawMessage, content mail.DecodedContent) (*Receipt, error) {
	// Only the first image is sent, to bound cost.
	img := content.Images[0]
	data := img.Data
	if data == nil {
		var err error
		data, err = o.attachments.FetchAttachment(ctx, msg.ID, img.AttachmentID)
		if err != nil {
			return nil, fmt.Errorf("fetching image attachment: %w", err)
		}
	}

	o.awaitCallSlot()
	fields, err := o.generative.ExtractImage(ctx, o.request(msg, ""), data, img.MimeType)
	if err != nil {
		return nil, err
	}
	return o.receiptFromFields(msg, fields), nil
}

func (o *Orchestrator) attemptText(ctx context.Context, msg *mail.RawMessage, content mail.DecodedContent) (*Receipt, error) {
	body := truncate(firstNonEmpty(content.HTML, content.PlainText), contentCharBudget)

	o.awaitCallSlot()
	fields, err := o.generative.ExtractText(ctx, o.request(msg, body))
	if err != nil {
		return nil, err
	}
	return o.receiptFromFields(msg, fields), nil
}

func (o *Orchestrator) awaitCallSlot() {
	o.budget.Acquire()
	o.sleep(callDelay)
}

func (o *Orchestrator) request(msg *mail.RawMessage, body string) scanning.Request {
	return scanning.Request{
		Subject: msg.Subject(),
		From:    msg.From(),
		Date:    ValidateDate("", msg.Date(), o.clock.Now()),
		Content: body,
	}
}

// receiptFromFields normalizes raw model output into a validated
// record: closed category set, closed currency set, never-future date.
func (o *Orchestrator) receiptFromFields(msg *mail.RawMessage, fields *scanning.Fields) *Receipt {
	now := o.clock.Now()
	merchant := fields.Merchant
	if merchant == "" {
		merchant = "Unknown"
	}
	return &Receipt{
		Merchant: merchant,
		Date:     ValidateDate(fields.Date, msg.Date(), now),
		Amount:   fields.Amount,
		Currency: NormalizeCurrency(fields.Currency),
		Category: NormalizeCategory(fields.Category),
		From:     msg.From(),
		Subject:  msg.Subject(),
	}
}

// degradedRecord marks a message whose extraction failed, with a
// best-effort merchant guess, so the batch carries on.
func (o *Orchestrator) degradedRecord(msg *mail.RawMessage) *Receipt {
	return &Receipt{
		ID:       o.ids.Generate(),
		Merchant: FallbackMerchant(msg.From(), msg.Subject()),
		Date:     o.clock.Now().Format(dateLayout),
		Amount:   0,
		Currency: INR,
		Category: CategoryOther,
		From:     msg.From(),
		Subject:  msg.Subject(),
		Error:    true,
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// truncate cuts s to at most n bytes, backing up so a multi-byte rune
// is never split at the boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
