// Package policy masks sensitive values before user speech or provider
// errors reach the logs.
package policy

import (
	"regexp"
	"unicode/utf8"
)

const maxLogRunes = 240

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	secretPattern = regexp.MustCompile(`(?i)((?:api[-_]?key|token|authorization)=)[^&\s"]+`)
)

// RedactPII masks emails, card numbers and phone numbers.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Cards before phones: a card number also matches the phone pattern.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// RedactSecrets masks credential query parameters such as api-key=... that
// providers embed in connection URLs.
func RedactSecrets(input string) string {
	return secretPattern.ReplaceAllString(input, "${1}[REDACTED]")
}

// ForLog returns a redacted, length-capped copy of a transcript line or
// provider error suitable for a log attribute.
func ForLog(input string) string {
	out, _ := RedactPII(RedactSecrets(input))
	if utf8.RuneCountInString(out) <= maxLogRunes {
		return out
	}
	runes := []rune(out)
	return string(runes[:maxLogRunes]) + "…"
}
