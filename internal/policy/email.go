package policy

import (
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9._-]+\.[a-zA-Z]{2,}$`)

// NormalizeEmail lower-cases and trims an owner email for comparison
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail performs basic email validation on a normalized address
func IsValidEmail(email string) bool {
	if email == "" || len(email) > 320 {
		return false
	}
	if strings.TrimSpace(email) != email {
		return false
	}
	return emailRegex.MatchString(email)
}

// ExtractUsername returns the local part of an email address, lower-cased
func ExtractUsername(email string) string {
	normalized := NormalizeEmail(email)
	if !IsValidEmail(normalized) {
		return ""
	}
	local, _, _ := strings.Cut(normalized, "@")
	return local
}
