package dashboard

import (
	"fmt"
	"sort"
	"time"

	"github.com/anishahaha07/myfi-scanner/internal/extract"
)

// CategoryTotal is one slice of the spend breakdown.
type CategoryTotal struct {
	Category extract.Category `json:"category"`
	Amount   float64          `json:"amount"`
}

// Summary is the aggregated view of one scan: total spend, per-category
// breakdown sorted by amount descending, and rule-based savings
// suggestions.
type Summary struct {
	Total            float64         `json:"total"`
	Categories       []CategoryTotal `json:"categories"`
	ReceiptCount     int             `json:"receipt_count"`
	LastScanned      time.Time       `json:"last_scanned"`
	Error            string          `json:"error,omitempty"`
	Suggestions      []string        `json:"suggestions"`
	PotentialSavings float64         `json:"potential_savings"`
}

// BuildSummary aggregates records into a Summary. Zero-amount and
// degraded records are filtered uniformly before aggregation; failure
// paths persist them, so their absence must never be assumed.
func BuildSummary(records []extract.Receipt, scannedAt time.Time, scanError string) Summary {
	summary := Summary{LastScanned: scannedAt, Error: scanError}

	byCategory := make(map[extract.Category]float64)
	var travelTotal float64
	var travelCount int
	for _, r := range records {
		if r.Amount <= 0 || r.Error {
			continue
		}
		summary.Total += r.Amount
		summary.ReceiptCount++
		byCategory[r.Category] += r.Amount
		if r.Category == extract.CategoryTravel {
			travelTotal += r.Amount
			travelCount++
		}
	}

	for cat, amt := range byCategory {
		summary.Categories = append(summary.Categories, CategoryTotal{Category: cat, Amount: amt})
	}
	sort.Slice(summary.Categories, func(i, j int) bool {
		if summary.Categories[i].Amount != summary.Categories[j].Amount {
			return summary.Categories[i].Amount > summary.Categories[j].Amount
		}
		return summary.Categories[i].Category < summary.Categories[j].Category
	})

	summary.Suggestions, summary.PotentialSavings = buildSuggestions(summary.Total, byCategory, travelTotal, travelCount)
	return summary
}

// Savings heuristics: category-share thresholds with fixed haircut
// rates, top two opportunities plus a general budget tip.
const (
	shoppingShareThreshold = 0.40
	foodShareThreshold     = 0.30
	travelAvgThreshold     = 100
)

type opportunity struct {
	saving float64
	text   string
}

func buildSuggestions(total float64, byCategory map[extract.Category]float64, travelTotal float64, travelCount int) ([]string, float64) {
	if total <= 0 {
		return nil, 0
	}

	var opps []opportunity
	var potential float64

	if shopping := byCategory[extract.CategoryShopping]; shopping > 0 && shopping/total > shoppingShareThreshold {
		saving := shopping * 0.25
		potential += saving
		opps = append(opps, opportunity{saving, fmt.Sprintf(
			"Shopping is %.0f%% of your spend (%.2f). Make a wishlist, wait 24h, and shop sales to save ~%.2f.",
			shopping/total*100, shopping, saving)})
	}
	if travelCount > 0 {
		if avg := travelTotal / float64(travelCount); avg > travelAvgThreshold {
			saving := travelTotal * 0.2
			potential += saving
			opps = append(opps, opportunity{saving, fmt.Sprintf(
				"Rides average %.2f. Carpool or use public transport for short trips to save ~%.2f.",
				avg, saving)})
		}
	}
	if food := byCategory[extract.CategoryFood]; food > 0 && food/total > foodShareThreshold {
		saving := food * 0.3
		potential += saving
		opps = append(opps, opportunity{saving, fmt.Sprintf(
			"Food delivery is %.0f%% of your spend (%.2f). Cooking three times a week saves ~%.2f.",
			food/total*100, food, saving)})
	}

	sort.Slice(opps, func(i, j int) bool { return opps[i].saving > opps[j].saving })
	if len(opps) > 2 {
		opps = opps[:2]
	}

	suggestions := make([]string, 0, len(opps)+1)
	for _, o := range opps {
		suggestions = append(suggestions, o.text)
	}

	budgetSaving := total * 0.15
	potential += budgetSaving
	suggestions = append(suggestions, fmt.Sprintf(
		"Set a %.2f budget (15%% less than this month) and track daily to save ~%.2f.",
		total*0.85, budgetSaving))

	return suggestions, potential
}
