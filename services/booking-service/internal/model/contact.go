package model

import "strings"

// NormalizePhone reduces a phone number to "+" followed by its digits. Ten-digit numbers are
// treated as North American and get the 1 country code. It returns "" when there are no digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case digits == "":
		return ""
	case len(digits) == 10:
		return "+1" + digits
	}
	return "+" + digits
}

// PhoneDigits is NormalizePhone without the leading "+".
func PhoneDigits(phone string) string {
	return strings.TrimPrefix(NormalizePhone(phone), "+")
}
