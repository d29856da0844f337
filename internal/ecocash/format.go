package ecocash

import (
	"regexp"
	"strings"
)

// canonicalMobile matches the Zimbabwean format EcoCash expects:
// 263 followed by nine digits.
var canonicalMobile = regexp.MustCompile(`^263[0-9]{9}$`)

// FormatMobileNumber normalizes a free-form mobile number into the
// canonical 263xxxxxxxxx format. Accepted shapes after stripping
// non-digits: 0771234567, 771234567, 263771234567. Anything else returns
// ok=false.
func FormatMobileNumber(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 10 && digits[0] == '0':
		digits = "263" + digits[1:]
	case len(digits) == 9:
		digits = "263" + digits
	case len(digits) == 12 && strings.HasPrefix(digits, "263"):
		// Already canonical.
	default:
		return "", false
	}

	if !canonicalMobile.MatchString(digits) {
		return "", false
	}
	return digits, true
}

// IsValidMobileNumber reports whether the number is already canonical.
func IsValidMobileNumber(number string) bool {
	return canonicalMobile.MatchString(number)
}

// MaskMobileNumber hides the subscriber part for logs: 263771XXXXX.
func MaskMobileNumber(number string) string {
	if len(number) <= 6 {
		return number
	}
	return number[:6] + "XXXXX"
}
