package compliance

import (
	"regexp"
	"strings"
	"unicode"
)

var panCandidateRE = regexp.MustCompile(`(?:\d[ -]?){13,19}`)

// RedactPAN replaces Luhn-valid card numbers with a marker keeping the last
// four digits. Inbound text passes through here before it reaches the
// transcript, logs or classifiers.
func RedactPAN(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return text, false
	}
	matches := panCandidateRE.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text, false
	}

	var out strings.Builder
	out.Grow(len(text))
	last := 0
	redacted := false
	for _, m := range matches {
		start, end := m[0], m[1]
		digits := digitsOnly(text[start:end])
		if len(digits) < 13 || len(digits) > 19 || !luhnValid(digits) {
			continue
		}
		// keep the separator the candidate swallowed
		trail := ""
		if c := text[end-1]; c == ' ' || c == '-' {
			trail = string(c)
		}
		out.WriteString(text[last:start])
		out.WriteString("[card ending ")
		out.WriteString(digits[len(digits)-4:])
		out.WriteString("]")
		out.WriteString(trail)
		last = end
		redacted = true
	}
	if !redacted {
		return text, false
	}
	out.WriteString(text[last:])
	return out.String(), true
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func luhnValid(digits string) bool {
	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		r := rune(digits[i])
		if !unicode.IsDigit(r) {
			return false
		}
		n := int(r - '0')
		if alt {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alt = !alt
	}
	return sum%10 == 0
}
