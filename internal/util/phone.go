package util

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidPhone is returned when a phone number cannot be normalized to E.164.
var ErrInvalidPhone = errors.New("invalid phone number")

// e164 allows a leading + followed by 8 to 15 digits, first digit nonzero.
var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// NormalizePhone strips spaces, dashes and parentheses from a phone number
// and validates the result against E.164.
func NormalizePhone(phone string) (string, error) {
	normalized := strings.TrimSpace(phone)
	for _, r := range []string{" ", "-", "(", ")", "."} {
		normalized = strings.ReplaceAll(normalized, r, "")
	}

	if !e164.MatchString(normalized) {
		return "", ErrInvalidPhone
	}
	return normalized, nil
}

// IsNumericCode reports whether s is exactly n ASCII digits.
func IsNumericCode(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
