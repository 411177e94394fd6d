package scanning

import "fmt"

// receiptPrompt instructs the model to return exactly one JSON object
// with the five receipt fields, with explicit fallbacks and one worked
// example to anchor the output format.
const receiptPrompt = `Extract receipt/order details from this email and return ONLY valid JSON with no markdown, code blocks, or extra text.

Email Subject: %s
From: %s
Email Date: %s
%s
Extract:
- merchant: The company/store name (e.g., "Amazon", "Swiggy", "Zomato")
- date: Purchase date in YYYY-MM-DD format
- amount: Total amount as a number (extract from "Total", "Amount Paid", etc.)
- category: One of: "food", "groceries", "shopping", "travel", "entertainment", "other"
- currency: "INR" or "USD"

Rules:
- If merchant unclear, use the sender domain or "Unknown"
- If date missing, use the email date above
- If amount missing or unclear, use 0
- Always return valid JSON with these exact fields
- Extract currency amounts (₹, Rs, $) as numbers only

Example output:
{"merchant": "Amazon", "date": "2025-10-15", "amount": 1299.50, "category": "shopping", "currency": "INR"}`

// buildPrompt renders the prompt for a request. The vision variant
// passes no content; the image travels as a separate part.
func buildPrompt(req Request) string {
	body := ""
	if req.Content != "" {
		body = fmt.Sprintf("Body: %s\n", req.Content)
	}
	return fmt.Sprintf(receiptPrompt, req.Subject, req.From, req.Date, body)
}
