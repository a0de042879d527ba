package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cpfPattern   = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`)
)

// RedactPII masks emails, CPF numbers and phone numbers in free text.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// CPF before phone, an unformatted CPF also looks like a phone number.
	next = cpfPattern.ReplaceAllString(out, "[REDACTED_CPF]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// MaskChatID keeps the network suffix and the last four characters of the
// user part, e.g. "5511987654321@c.us" becomes "*********4321@c.us".
func MaskChatID(chatID string) string {
	user, suffix, found := strings.Cut(chatID, "@")
	if len(user) <= 4 {
		return chatID
	}
	masked := strings.Repeat("*", len(user)-4) + user[len(user)-4:]
	if found {
		return masked + "@" + suffix
	}
	return masked
}
