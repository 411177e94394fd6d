package extract

import (
	"strings"
	"time"
)

// Currency is a supported settlement currency.
type Currency string

const (
	INR Currency = "INR"
	USD Currency = "USD"
)

// Category is one of the closed set of spend categories.
type Category string

const (
	CategoryFood          Category = "food"
	CategoryGroceries     Category = "groceries"
	CategoryShopping      Category = "shopping"
	CategoryTravel        Category = "travel"
	CategoryEntertainment Category = "entertainment"
	CategoryOther         Category = "other"
)

// Receipt is a structured purchase record extracted from one message.
// Date is always YYYY-MM-DD and never in the future; Category is always
// one of the closed set. A zero Amount with Error set marks a message
// whose extraction failed but was kept for visibility.
type Receipt struct {
	ID       string   `json:"id"`
	Merchant string   `json:"merchant"`
	Date     string   `json:"date"`
	Amount   float64  `json:"amount"`
	Currency Currency `json:"currency"`
	Category Category `json:"category"`
	From     string   `json:"from"`
	Subject  string   `json:"subject"`
	HasImage bool     `json:"has_image"`
	Error    bool     `json:"error,omitempty"`
}

// dateLayout is the canonical calendar-date format for records.
const dateLayout = "2006-01-02"

// NormalizeCategory maps free-form category text onto the closed set.
// Unrecognized values become CategoryOther, so classification is total.
func NormalizeCategory(raw string) Category {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryFood:
		return CategoryFood
	case CategoryGroceries:
		return CategoryGroceries
	case CategoryShopping:
		return CategoryShopping
	case CategoryTravel:
		return CategoryTravel
	case CategoryEntertainment:
		return CategoryEntertainment
	default:
		return CategoryOther
	}
}

// NormalizeCurrency maps free-form currency text onto the closed set,
// defaulting to INR.
func NormalizeCurrency(raw string) Currency {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "USD", "$":
		return USD
	default:
		return INR
	}
}

// ValidateDate parses raw as a calendar date and returns it formatted
// as YYYY-MM-DD. Dates that do not parse, or that lie after now, return
// fallback instead; a record never carries a future date.
func ValidateDate(raw string, fallback time.Time, now time.Time) string {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		for _, layout := range []string{dateLayout, "2006/01/02", "01/02/2006", "02-01-2006"} {
			d, err := time.Parse(layout, raw)
			if err != nil {
				continue
			}
			if d.After(now) {
				break
			}
			return d.Format(dateLayout)
		}
	}
	if fallback.IsZero() || fallback.After(now) {
		return now.Format(dateLayout)
	}
	return fallback.Format(dateLayout)
}

// TimeSource provides the current time. Injected so date validation and
// scan timestamps are deterministic under test.
type TimeSource interface {
	Now() time.Time
}

// SystemTime is the default TimeSource.
type SystemTime struct{}

func (SystemTime) Now() time.Time { return time.Now() }
