package intent

import "strings"

// Deterministic-tier confidences.
const (
	strongConfidence  = 0.95
	weakConfidence    = 0.60
	unknownConfidence = 0.30
)

// strongPhrases are exact substring matches carrying high confidence. Order
// within a list is irrelevant; intent precedence breaks ties.
var strongPhrases = map[Intent][]string{
	Tickets: {
		"create ticket",
		"create a ticket",
		"support ticket",
		"open a ticket",
		"report a bug",
	},
	Account: {
		"my account",
		"account balance",
		"account settings",
		"update my profile",
		"reset my password",
	},
	Payments: {
		"make payment",
		"make a payment",
		"pay my bill",
		"payment method",
		"refund",
	},
	General: {
		"hello",
		"hi there",
		"good morning",
		"good afternoon",
		"thank you",
	},
}

// weakKeywords are single-word signals carrying low confidence.
var weakKeywords = map[Intent][]string{
	Tickets:  {"ticket", "issue", "problem", "bug", "broken"},
	Account:  {"account", "profile", "login", "password"},
	Payments: {"payment", "billing", "invoice", "charge", "pay"},
	General:  {"help", "question", "info"},
}

// classifyDeterministic matches text against the phrase and keyword tables.
// Strong matches win over weak ones; among equal strength the fixed
// precedence order decides. No match yields (Unknown, 0.30).
func classifyDeterministic(text string) (Intent, float64) {
	lower := strings.ToLower(text)

	for _, it := range Precedence {
		for _, phrase := range strongPhrases[it] {
			if strings.Contains(lower, phrase) {
				return it, strongConfidence
			}
		}
	}
	for _, it := range Precedence {
		for _, kw := range weakKeywords[it] {
			if strings.Contains(lower, kw) {
				return it, weakConfidence
			}
		}
	}
	return Unknown, unknownConfidence
}
