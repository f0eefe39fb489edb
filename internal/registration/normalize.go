package registration

import (
	"strings"
	"unicode"
)

func normalizeWord(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Digits strips every non-digit rune from s.
func Digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// NormalizePhone reduces a phone number to its national digits, area code
// plus subscriber number. A leading 55 country code is dropped from 12 and 13
// digit numbers, so "+55 11 91234-5678" and "(11) 91234-5678" share a key.
func NormalizePhone(s string) string {
	d := Digits(s)
	if (len(d) == 12 || len(d) == 13) && strings.HasPrefix(d, "55") {
		return d[2:]
	}
	return d
}

// ParseCourse canonicalizes a yes/no answer (English or Portuguese) to "Yes" or "No".
// Anything else yields an empty string.
func ParseCourse(s string) string {
	switch normalizeWord(s) {
	case "yes", "y", "sim", "s":
		return "Yes"
	case "no", "n", "não", "nao":
		return "No"
	default:
		return ""
	}
}
