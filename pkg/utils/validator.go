package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	identifierRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@/\-]*$`)
	currencyRegex   = regexp.MustCompile(`^[A-Z]{3}$`)
	controlRegex    = regexp.MustCompile(`[\x00-\x08\x0b-\x1f\x7f]`)
)

// maxIdentifierLen bounds org units, accounts, user and artifact ids
const maxIdentifierLen = 128

// ValidateIdentifier validates an id-like value such as an org unit,
// account, user id or artifact id
func ValidateIdentifier(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(value) > maxIdentifierLen {
		return fmt.Errorf("%s exceeds %d characters", field, maxIdentifierLen)
	}
	if !identifierRegex.MatchString(value) {
		return fmt.Errorf("invalid %s format: %q", field, value)
	}
	return nil
}

// ValidateCurrency validates an ISO 4217 style currency code
func ValidateCurrency(code string) error {
	if !currencyRegex.MatchString(code) {
		return fmt.Errorf("currency must be a three letter upper-case code: %q", code)
	}
	return nil
}

// SanitizeString removes control characters other than tab and newline,
// and trims surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(controlRegex.ReplaceAllString(s, ""))
}
