package extract

import (
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Amount plausibility bounds in local currency units. Below the floor a
// match is noise (page numbers, quantities); above the ceiling it is
// not a consumer purchase.
const (
	amountFloor   = 10
	amountCeiling = 100000
)

// CandidateAmount is one scored match from the amount pattern tables.
type CandidateAmount struct {
	Value    float64
	Priority int
	Snippet  string
}

// ExtractStructural derives a receipt from decoded content without any
// generative call. It returns nil when no plausible amount exists,
// signalling the orchestrator to move on to the next strategy.
func ExtractStructural(content, subject, sender string, emailDate, now time.Time) *Receipt {
	candidates := collectAmounts(content, amountRules)
	best, ok := BestAmount(candidates)
	if !ok {
		// The subject may still vouch for this being a receipt; scrape
		// with looser patterns and take the largest survivor, since at
		// this point the biggest number is the best guess for a total.
		if !transactionalSubjectPattern.MatchString(subject) {
			return nil
		}
		loose := collectAmounts(content, looseAmountRules)
		best, ok = largestAmount(loose)
		if !ok {
			return nil
		}
	}

	return &Receipt{
		Merchant: DetectMerchant(sender, subject),
		Date:     extractDate(content, emailDate, now),
		Amount:   best.Value,
		Currency: detectCurrency(content),
		Category: ClassifyCategory(sender + " " + subject + " " + content),
		From:     sender,
		Subject:  subject,
	}
}

// collectAmounts runs the rule table over content and returns every
// surviving candidate with its priority.
func collectAmounts(content string, rules []amountRule) []CandidateAmount {
	var candidates []CandidateAmount
	for _, rule := range rules {
		for _, m := range rule.pattern.FindAllStringSubmatchIndex(content, -1) {
			if len(m) < 4 || m[2] < 0 {
				continue
			}
			raw := content[m[2]:m[3]]
			value, err := parseAmount(raw)
			if err != nil {
				continue
			}
			if value < amountFloor || value >= amountCeiling {
				continue
			}
			if inURLContext(content, m[0]) {
				continue
			}
			priority := 1
			switch {
			case rule.label:
				priority = 3
			case hasTwoDecimals(raw):
				priority = 2
			}
			candidates = append(candidates, CandidateAmount{
				Value:    value,
				Priority: priority,
				Snippet:  snippet(content, m[0], m[1]),
			})
		}
	}
	return candidates
}

// BestAmount selects the winning candidate: highest priority first, and
// on ties the larger value, since a grand total dominates any itemized
// sub-amount. Selection is order-independent.
func BestAmount(candidates []CandidateAmount) (CandidateAmount, bool) {
	if len(candidates) == 0 {
		return CandidateAmount{}, false
	}
	sorted := make([]CandidateAmount, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].Value > sorted[j].Value
	})
	return sorted[0], true
}

func largestAmount(candidates []CandidateAmount) (CandidateAmount, bool) {
	if len(candidates) == 0 {
		return CandidateAmount{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Value > best.Value {
			best = c
		}
	}
	return best, true
}

// parseAmount parses a matched numeric string, stripping thousands
// separators.
func parseAmount(raw string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
}

func hasTwoDecimals(raw string) bool {
	idx := strings.LastIndex(raw, ".")
	return idx >= 0 && len(raw)-idx-1 == 2
}

// inURLContext reports whether the match at start sits inside a URL or
// an href/src attribute, judged from a window of preceding characters.
// Tracking links are full of plausible-looking numbers.
func inURLContext(content string, start int) bool {
	lo := start - 48
	if lo < 0 {
		lo = 0
	}
	window := content[lo:start]
	// Only the token the match is glued to matters, not earlier prose.
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx >= 0 {
		window = window[idx+1:]
	}
	window = strings.ToLower(window)
	return strings.Contains(window, "http") ||
		strings.Contains(window, "href=") ||
		strings.Contains(window, "src=") ||
		strings.Contains(window, "://") ||
		strings.Contains(window, "utm_")
}

func snippet(content string, start, end int) string {
	lo := start - 20
	if lo < 0 {
		lo = 0
	}
	hi := end + 20
	if hi > len(content) {
		hi = len(content)
	}
	return content[lo:hi]
}

// DetectMerchant matches the sender and subject against the known
// merchant table, falling back to a capitalized sender domain.
func DetectMerchant(sender, subject string) string {
	haystack := sender + " " + subject
	for _, rule := range merchantRules {
		if rule.pattern.MatchString(haystack) {
			return rule.name
		}
	}
	return MerchantFromSender(sender)
}

// FallbackMerchant is the degraded-record merchant guess: the sender
// domain when one exists, then the known-merchant table against the
// subject, then "Unknown". Note the order is the reverse of
// DetectMerchant's.
func FallbackMerchant(sender, subject string) string {
	if m := MerchantFromSender(sender); m != "Unknown" {
		return m
	}
	for _, rule := range merchantRules {
		if rule.pattern.MatchString(subject) {
			return rule.name
		}
	}
	return "Unknown"
}

// MerchantFromSender capitalizes the portion of the sender address
// between "@" and the first ".", or returns "Unknown".
func MerchantFromSender(sender string) string {
	at := strings.Index(sender, "@")
	if at < 0 || at+1 >= len(sender) {
		return "Unknown"
	}
	domain := sender[at+1:]
	if dot := strings.Index(domain, "."); dot > 0 {
		domain = domain[:dot]
	}
	domain = strings.TrimRight(domain, ">")
	if domain == "" {
		return "Unknown"
	}
	return strings.ToUpper(domain[:1]) + domain[1:]
}

// detectCurrency is a single content-level pre-scan for symbol or code
// presence, defaulting to INR.
func detectCurrency(content string) Currency {
	if inrPattern.MatchString(content) {
		return INR
	}
	if usdPattern.MatchString(content) {
		return USD
	}
	return INR
}

// ClassifyCategory maps text onto the closed category set via the
// ordered rule table; first match wins, default other.
func ClassifyCategory(text string) Category {
	for _, rule := range categoryRules {
		if rule.pattern.MatchString(text) {
			return rule.category
		}
	}
	return CategoryOther
}

// extractDate finds the transaction date. Preference order: a date next
// to transaction context words, then the most recent plausible generic
// date token, then the message's own date header.
func extractDate(content string, emailDate, now time.Time) string {
	for _, p := range contextualDatePatterns {
		if m := p.FindStringSubmatch(content); m != nil {
			if d, ok := parseDateToken(strings.TrimSpace(m[1])); ok && plausibleDate(d, now) {
				return d.Format(dateLayout)
			}
		}
	}

	var latest time.Time
	for _, token := range genericDatePattern.FindAllString(content, -1) {
		if d, ok := parseDateToken(token); ok && plausibleDate(d, now) && d.After(latest) {
			latest = d
		}
	}
	if !latest.IsZero() {
		return latest.Format(dateLayout)
	}

	return ValidateDate("", emailDate, now)
}

// plausibleDate rejects future dates and anything before the plausible
// recent range.
func plausibleDate(d time.Time, now time.Time) bool {
	return !d.After(now) && d.Year() >= 2024
}

func parseDateToken(token string) (time.Time, bool) {
	token = strings.TrimSpace(strings.Trim(token, ",."))
	for _, layout := range []string{
		dateLayout,
		"2006/01/02",
		"02/01/2006",
		"01/02/2006",
		"Jan 2, 2006",
		"Jan 2 2006",
		"January 2, 2006",
		"2 Jan 2006",
	} {
		if d, err := time.Parse(layout, token); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}
