package auth

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"github.com/kamalcharan/contractnest-auth/internal/config"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
)

const maxEmailLength = 254 // RFC 5321

var disposableDomains = map[string]bool{
	"tempmail.com":      true,
	"10minutemail.com":  true,
	"guerrillamail.com": true,
	"mailinator.com":    true,
	"throwaway.email":   true,
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks format and length, and optionally rejects
// disposable domains.
func ValidateEmail(email string, blockDisposable bool) error {
	email = NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email address is required", domain.ErrInvalidEmail)
	}
	if len(email) > maxEmailLength {
		return fmt.Errorf("%w: too long (max %d characters)", domain.ErrInvalidEmail, maxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: invalid format", domain.ErrInvalidEmail)
	}
	if blockDisposable {
		_, host, _ := strings.Cut(addr.Address, "@")
		if disposableDomains[host] {
			return fmt.Errorf("%w: disposable addresses are not allowed", domain.ErrInvalidEmail)
		}
	}
	return nil
}

// PasswordPolicy defines password complexity requirements.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// NewPasswordPolicy creates a PasswordPolicy from config.
func NewPasswordPolicy(cfg config.PasswordPolicyConfig) *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:        cfg.MinLength,
		RequireUppercase: cfg.RequireUppercase,
		RequireLowercase: cfg.RequireLowercase,
		RequireNumber:    cfg.RequireNumber,
		RequireSpecial:   cfg.RequireSpecial,
	}
}

// ValidatePassword returns a wrapped domain.ErrWeakPassword describing the
// first unmet requirement.
func (p *PasswordPolicy) ValidatePassword(password string) error {
	if p.MinLength > 0 && len([]rune(password)) < p.MinLength {
		return fmt.Errorf("%w: must be at least %d characters long", domain.ErrWeakPassword, p.MinLength)
	}
	var upper, lower, number, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			number = true
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			special = true
		}
	}
	switch {
	case p.RequireUppercase && !upper:
		return fmt.Errorf("%w: must contain an uppercase letter", domain.ErrWeakPassword)
	case p.RequireLowercase && !lower:
		return fmt.Errorf("%w: must contain a lowercase letter", domain.ErrWeakPassword)
	case p.RequireNumber && !number:
		return fmt.Errorf("%w: must contain a number", domain.ErrWeakPassword)
	case p.RequireSpecial && !special:
		return fmt.Errorf("%w: must contain a special character", domain.ErrWeakPassword)
	}
	return nil
}
