package whatsapp

import (
	"fmt"
	"strings"
)

// MinDigits is the shortest number, country code included, the gateway accepts.
const MinDigits = 12

// NormalizePhone strips everything but digits and prepends countryCode to numbers that
// look local (at least 10 digits and not already starting with the code).
func NormalizePhone(raw, countryCode string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if countryCode != "" && !strings.HasPrefix(digits, countryCode) && len(digits) >= 10 {
		digits = countryCode + digits
	}
	if len(digits) < MinDigits {
		return "", fmt.Errorf("invalid number %q: must include the country code (e.g. +%s9112345678)", raw, countryCode)
	}
	return digits, nil
}
