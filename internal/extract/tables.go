package extract

import "regexp"

// The pipeline's knowledge base lives in ordered tables compiled once at
// startup: first match wins, so ordering is part of the contract.

// merchantRule names a merchant when its pattern matches the sender or
// subject.
type merchantRule struct {
	pattern *regexp.Regexp
	name    string
}

var merchantRules = []merchantRule{
	{regexp.MustCompile(`(?i)amazon`), "Amazon"},
	{regexp.MustCompile(`(?i)flipkart`), "Flipkart"},
	{regexp.MustCompile(`(?i)swiggy`), "Swiggy"},
	{regexp.MustCompile(`(?i)zomato`), "Zomato"},
	{regexp.MustCompile(`(?i)\buber\b`), "Uber"},
	{regexp.MustCompile(`(?i)\bola\b`), "Ola"},
	{regexp.MustCompile(`(?i)myntra`), "Myntra"},
	{regexp.MustCompile(`(?i)\bajio\b`), "Ajio"},
	{regexp.MustCompile(`(?i)blinkit`), "Blinkit"},
	{regexp.MustCompile(`(?i)bigbasket`), "BigBasket"},
	{regexp.MustCompile(`(?i)\bzepto\b`), "Zepto"},
	{regexp.MustCompile(`(?i)bookmyshow`), "BookMyShow"},
	{regexp.MustCompile(`(?i)makemytrip`), "MakeMyTrip"},
	{regexp.MustCompile(`(?i)\birctc\b`), "IRCTC"},
	{regexp.MustCompile(`(?i)netflix`), "Netflix"},
}

// amountRule scans for candidate amounts. Rules with label=true capture
// numbers next to an explicit total label and yield priority 3; other
// matches get priority 2 when the number carries exactly two decimal
// digits, 1 otherwise.
type amountRule struct {
	pattern *regexp.Regexp
	label   bool
}

var amountRules = []amountRule{
	// Explicit total labels, optionally currency tagged.
	{regexp.MustCompile(`(?i)(?:total\s+paid|grand\s+total|amount\s+paid|order\s+total|total\s+amount|amount\s+due|total|fare)\s*:?\s*(?:₹|rs\.?|inr|\$|usd)?\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`), true},
	// Currency-symbol-prefixed numbers anywhere.
	{regexp.MustCompile(`(?i)(?:₹|rs\.?\s?|inr\s|\$|usd\s)\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`), false},
	// Bare decimals next to a payment verb.
	{regexp.MustCompile(`(?i)(?:paid|charged|billed|debited)\D{0,12}([0-9][0-9,]*\.[0-9]{2})`), false},
}

// looseAmountRules is the last-resort pass used when the subject
// strongly suggests a receipt but the primary rules found nothing.
var looseAmountRules = []amountRule{
	{regexp.MustCompile(`(?i)(?:total|amount|paid|price)\D{0,20}([0-9][0-9,]*(?:\.[0-9]{1,2})?)`), false},
	{regexp.MustCompile(`(?i)(?:₹|rs\.?\s?|\$)\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`), false},
}

// categoryRule assigns a category when its pattern matches the combined
// sender/subject/content text. Evaluated in order: travel outranks food,
// food outranks shopping, shopping outranks groceries.
type categoryRule struct {
	pattern  *regexp.Regexp
	category Category
}

var categoryRules = []categoryRule{
	{regexp.MustCompile(`(?i)\buber\b|\bola\b|makemytrip|irctc|\btrip\b|flight|\bride\b|\bcab\b|hotel|airlines`), CategoryTravel},
	{regexp.MustCompile(`(?i)swiggy|zomato|dominos|restaurant|\bpizza\b|food delivery|\bdine\b`), CategoryFood},
	{regexp.MustCompile(`(?i)amazon|flipkart|myntra|\bajio\b|\border\b|shopping`), CategoryShopping},
	{regexp.MustCompile(`(?i)blinkit|bigbasket|\bzepto\b|instamart|grocer`), CategoryGroceries},
	{regexp.MustCompile(`(?i)bookmyshow|netflix|spotify|\bmovie\b|concert|hotstar`), CategoryEntertainment},
}

// Currency detection is a single content-level pre-scan, not per-amount.
var (
	inrPattern = regexp.MustCompile(`(?i)₹|\brs\.?(?:\s|[0-9])|\binr\b`)
	usdPattern = regexp.MustCompile(`(?i)\$|\busd\b`)
)

// Promotional filter tables.
var (
	// Hard excludes: event-ticketing senders pushing concert mail, and
	// recruitment mail, are never receipts.
	eventSenderPattern  = regexp.MustCompile(`(?i)ticketmaster|bandsintown|songkick|insider\.in|\bdice\.fm\b`)
	eventSubjectPattern = regexp.MustCompile(`(?i)concert|\btour\b|\blive\b|on ?sale|\bgig\b`)
	jobSubjectPattern   = regexp.MustCompile(`(?i)job alert|your application|we'?re hiring|interview invit|recruit|\bnaukri\b`)

	promoPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)[0-9]+\s*%\s*off`),
		regexp.MustCompile(`(?i)save up to`),
		regexp.MustCompile(`(?i)discount`),
		regexp.MustCompile(`(?i)limited time`),
		regexp.MustCompile(`(?i)special deal`),
		regexp.MustCompile(`(?i)exclusive offer`),
	}

	transactionalSubjectPattern = regexp.MustCompile(`(?i)receipt|invoice|order confirm|your order|payment receiv|booking confirm|your trip with|e-?ticket`)
)

// Date extraction tables.
var (
	// A date token next to a transaction word, or an explicit date label.
	contextualDatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:trip|order|purchase)\s+date\s*:?\s*([A-Za-z0-9, /-]{6,24})`),
		regexp.MustCompile(`(?i)(?:trip|order|purchased|delivered|paid)\s+(?:on\s+)?([0-9]{4}-[0-9]{2}-[0-9]{2}|[0-9]{1,2}/[0-9]{1,2}/[0-9]{4}|[A-Z][a-z]{2,8} [0-9]{1,2},? [0-9]{4})`),
	}
	genericDatePattern = regexp.MustCompile(`[0-9]{4}-[0-9]{2}-[0-9]{2}|[0-9]{1,2}/[0-9]{1,2}/[0-9]{4}|[A-Z][a-z]{2,8} [0-9]{1,2},? [0-9]{4}`)
)
