package extract

// IsPromotional classifies a message as marketing noise. It is
// deliberately conservative: a promo that slips through still has to
// survive amount validation downstream, while a dropped real receipt is
// gone for good.
func IsPromotional(subject, body, sender string) bool {
	// Hard excludes first, regardless of other signals.
	if eventSenderPattern.MatchString(sender) && eventSubjectPattern.MatchString(subject) {
		return true
	}
	if jobSubjectPattern.MatchString(subject) {
		return true
	}

	// Strong transactional phrasing overrides the keyword rules: an
	// order confirmation that happens to mention a discount is still a
	// receipt.
	if transactionalSubjectPattern.MatchString(subject) {
		return false
	}

	haystack := subject + " " + body
	for _, p := range promoPatterns {
		if p.MatchString(haystack) {
			return true
		}
	}

	return false
}
