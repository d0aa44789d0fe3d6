package guardrails

import (
	"regexp"
	"sort"
	"strings"
)

// PII type labels used in audit events and redaction placeholders.
const (
	PIIEmail      = "EMAIL"
	PIISSN        = "SSN"
	PIICreditCard = "CREDIT_CARD"
	PIIPhone      = "PHONE"
	PIIAPIKey     = "API_KEY"
	PIIIPAddress  = "IP_ADDRESS"
)

// piiPatterns maps a PII type to its detector. Credit card runs before phone
// during redaction so a 16-digit number is not partially consumed as a phone
// number.
var piiPatterns = map[string]*regexp.Regexp{
	PIIEmail:      regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	PIISSN:        regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	PIICreditCard: regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{4}\b`),
	PIIPhone:      regexp.MustCompile(`\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`),
	PIIAPIKey:     regexp.MustCompile(`\b(?:sk|pk|api|key)[_-][A-Za-z0-9_-]{16,}\b`),
	PIIIPAddress:  regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
}

// redactionOrder fixes the pass order for SanitizeOutput.
var redactionOrder = []string{
	PIIEmail, PIISSN, PIICreditCard, PIIPhone, PIIAPIKey, PIIIPAddress,
}

// blockedPatterns reject the message outright and raise a blocked_content
// audit event. The label is what lands in the audit record.
var blockedPatterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"ignore_instructions", regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?(?:previous|prior)\s+instructions`)},
	{"disregard_instructions", regexp.MustCompile(`(?i)disregard\s+(?:all\s+)?(?:previous|prior|your)\s+(?:instructions|rules)`)},
	{"role_override", regexp.MustCompile(`(?i)you\s+are\s+now\s+(?:a|an|the)\b`)},
	{"impersonation", regexp.MustCompile(`(?i)pretend\s+(?:to\s+be|you\s+are)\b`)},
	{"harmful_instructions", regexp.MustCompile(`(?i)how\s+to\s+(?:hack|exploit|break\s+into)\b`)},
}

// injectionPatterns cover XSS and SQL fragments on both input and output.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script\b`),
	regexp.MustCompile(`(?i)\bon\w+\s*=`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)\bunion\s+select\b`),
	regexp.MustCompile(`(?i);\s*drop\s+table\b`),
	regexp.MustCompile(`(?i)'\s*or\s+'1'\s*=\s*'1`),
}

// preambleMarkers flag prompt-injection scaffolding that survived the blocked
// set.
var preambleMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)###\s*instruction`),
	regexp.MustCompile(`(?i)\[SYSTEM\]`),
	regexp.MustCompile(`(?i)\bsystem:\s*you\s+are\b`),
}

// scriptStrip removes whole <script> elements, then dangling open tags, event
// handler attributes, and javascript: URLs from output text.
var scriptStrip = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`),
	regexp.MustCompile(`(?i)<script\b[^>]*>`),
	regexp.MustCompile(`(?i)\bon\w+\s*=\s*(?:"[^"]*"|'[^']*'|\S+)`),
	regexp.MustCompile(`(?i)javascript:[^\s"'<>]*`),
}

func matchBlocked(text string) (string, bool) {
	for _, p := range blockedPatterns {
		if p.re.MatchString(text) {
			return p.label, true
		}
	}
	return "", false
}

func matchInjection(text string) bool {
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func matchPromptMarkers(text string) bool {
	for _, re := range preambleMarkers {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// DetectPII returns the sorted set of PII types present in text.
func DetectPII(text string) []string {
	var kinds []string
	for kind, re := range piiPatterns {
		if re.MatchString(text) {
			kinds = append(kinds, kind)
		}
	}
	sort.Strings(kinds)
	return kinds
}

// SanitizeOutput strips script and event-handler fragments and, when
// redactPII is true, replaces every PII match with a [REDACTED_<TYPE>]
// placeholder.
func SanitizeOutput(text string, redactPII bool) string {
	for _, re := range scriptStrip {
		text = re.ReplaceAllString(text, "")
	}
	if redactPII {
		for _, kind := range redactionOrder {
			text = piiPatterns[kind].ReplaceAllString(text, "[REDACTED_"+kind+"]")
		}
	}
	return strings.TrimSpace(text)
}
