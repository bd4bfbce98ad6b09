package validation

import (
	"errors"
	"net/mail"
	"strings"
)

// ValidateEmail checks a bare address such as ada@example.com.
// Display-name forms ("Ada <ada@example.com>") are rejected since the value is
// stored and mailed to as given.
func ValidateEmail(email string) error {
	// RFC 5321: 254 characters total
	if len(email) > 254 {
		return errors.New("email address is too long (max 254 characters)")
	}

	if strings.TrimSpace(email) == "" {
		return errors.New("email address is required")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.New("invalid email address format")
	}

	local, domain, _ := strings.Cut(addr.Address, "@")
	if len(local) > 64 {
		return errors.New("email address is invalid (local part too long)")
	}
	if !strings.Contains(domain, ".") {
		return errors.New("email address must include a domain")
	}

	return nil
}

// NormalizeEmail trims and lowercases an address for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
